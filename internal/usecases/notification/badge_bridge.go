package notification

import (
	"context"
	"log/slog"
	"sync"

	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// BadgeBridge mirrors the unread count onto the platform badge.
// It never fails: missing badge support is a successful no-op and platform errors are logged.
type BadgeBridge struct {
	platform services.BadgePlatform
	logger   *slog.Logger
	metrics  services.EngineMetrics

	mu       sync.Mutex
	last     int
	rendered bool
}

// NewBadgeBridge creates a bridge. A nil platform behaves like one without badge support.
func NewBadgeBridge(platform services.BadgePlatform, logger *slog.Logger, metrics services.EngineMetrics) *BadgeBridge {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = services.NoopMetrics{}
	}
	return &BadgeBridge{
		platform: platform,
		logger:   logger.With("component", "badge"),
		metrics:  metrics,
	}
}

// Render sets the badge to count, clearing it at zero
func (b *BadgeBridge) Render(ctx context.Context, count int) {
	if count < 0 {
		count = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = count
	b.rendered = true
	b.metrics.BadgeRendered(count)

	if b.platform == nil || !b.platform.Supported() {
		return
	}

	var err error
	if count > 0 {
		err = b.platform.SetBadge(ctx, count)
	} else {
		err = b.platform.ClearBadge(ctx)
	}
	if err != nil {
		b.logger.Warn("failed to update badge", "count", count, "error", err)
	}
}

// LastRendered returns the last requested count and whether Render was ever called
func (b *BadgeBridge) LastRendered() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.rendered
}

// Supported reports whether a platform badge exists
func (b *BadgeBridge) Supported() bool {
	return b.platform != nil && b.platform.Supported()
}
