package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
	"github.com/treservi/notify-engine/pkg/client"
)

// LogBadgePlatform renders the badge into the log, for terminals and headless hosts
type LogBadgePlatform struct {
	supported bool
	logger    *slog.Logger

	mu    sync.Mutex
	count int
}

// NewLogBadgePlatform creates a new log badge; an unsupported one ignores every call
func NewLogBadgePlatform(supported bool, logger *slog.Logger) *LogBadgePlatform {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBadgePlatform{supported: supported, logger: logger.With("component", "badge")}
}

func (b *LogBadgePlatform) Supported() bool { return b.supported }

func (b *LogBadgePlatform) SetBadge(ctx context.Context, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count != count {
		b.logger.Info("badge", "count", count)
	}
	b.count = count
	return nil
}

func (b *LogBadgePlatform) ClearBadge(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count != 0 {
		b.logger.Info("badge cleared")
	}
	b.count = 0
	return nil
}

// Count returns the rendered badge
func (b *LogBadgePlatform) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// PushBadgePlatform mirrors the badge onto the user's other devices through the backend,
// which sends a silent badge_update push to each of them.
type PushBadgePlatform struct {
	client *client.Client
	userID entities.UserID
	logger *slog.Logger

	mu   sync.Mutex
	last *int
}

// NewPushBadgePlatform creates a badge that syncs through the backend API
func NewPushBadgePlatform(c *client.Client, userID entities.UserID, logger *slog.Logger) *PushBadgePlatform {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushBadgePlatform{client: c, userID: userID, logger: logger.With("component", "push_badge")}
}

func (b *PushBadgePlatform) Supported() bool { return b.client != nil && b.userID != "" }

func (b *PushBadgePlatform) SetBadge(ctx context.Context, count int) error {
	return b.sync(ctx, count)
}

func (b *PushBadgePlatform) ClearBadge(ctx context.Context) error {
	return b.sync(ctx, 0)
}

func (b *PushBadgePlatform) sync(ctx context.Context, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last != nil && *b.last == count {
		return nil
	}
	result, err := b.client.SyncBadge(ctx, &client.BadgeRequest{UserID: string(b.userID), Count: count})
	if err != nil {
		return fmt.Errorf("failed to sync badge: %w", err)
	}
	b.last = &count
	b.logger.Debug("badge synced", "count", count, "devices", result.Sent, "failed", result.Failed)
	return nil
}

// MultiBadgePlatform renders the badge on several platforms
type MultiBadgePlatform []services.BadgePlatform

// Supported reports whether any platform can render a badge
func (m MultiBadgePlatform) Supported() bool {
	for _, p := range m {
		if p.Supported() {
			return true
		}
	}
	return false
}

func (m MultiBadgePlatform) SetBadge(ctx context.Context, count int) error {
	var errs []error
	for _, p := range m {
		if p.Supported() {
			errs = append(errs, p.SetBadge(ctx, count))
		}
	}
	return errors.Join(errs...)
}

func (m MultiBadgePlatform) ClearBadge(ctx context.Context) error {
	var errs []error
	for _, p := range m {
		if p.Supported() {
			errs = append(errs, p.ClearBadge(ctx))
		}
	}
	return errors.Join(errs...)
}
