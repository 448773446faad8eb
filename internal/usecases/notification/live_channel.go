package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// LiveChannel holds at most one open change feed handle.
// Acquiring for a new identity closes the previous handle before the new one is opened.
type LiveChannel struct {
	feed   services.ChangeFeed
	logger *slog.Logger

	// op serializes acquire and release; mu guards the fields below and is never held
	// across feed calls, so listeners may read Active while a handle is being closed
	op     sync.Mutex
	mu     sync.Mutex
	handle services.FeedHandle
	key    string
}

// NewLiveChannel creates a channel over feed
func NewLiveChannel(feed services.ChangeFeed, logger *slog.Logger) *LiveChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveChannel{
		feed:   feed,
		logger: logger.With("component", "live_channel"),
	}
}

// Acquire opens the feed for identity. Acquiring the identity already held is a no-op.
func (c *LiveChannel) Acquire(ctx context.Context, identity entities.Identity, listener services.FeedListener) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if c.feed == nil {
		return fmt.Errorf("%w: no change feed configured", entities.ErrNetwork)
	}

	c.op.Lock()
	defer c.op.Unlock()

	key := identity.Key()
	if current, ok := c.Active(); ok && current == key {
		return nil
	}
	c.closeHeld()

	handle, err := c.feed.Subscribe(ctx, identity, listener)
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", entities.ErrNetwork, key, err)
	}

	c.mu.Lock()
	c.handle = handle
	c.key = key
	c.mu.Unlock()
	c.logger.Info("live feed acquired", "scope", key)
	return nil
}

// Release closes the held handle, if any
func (c *LiveChannel) Release() {
	c.op.Lock()
	defer c.op.Unlock()
	c.closeHeld()
}

// Active returns the key of the held handle
func (c *LiveChannel) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key, c.handle != nil
}

// closeHeld closes the held handle. Caller must hold op.
func (c *LiveChannel) closeHeld() {
	c.mu.Lock()
	handle, key := c.handle, c.key
	c.handle = nil
	c.key = ""
	c.mu.Unlock()

	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		c.logger.Warn("failed to close live feed", "scope", key, "error", err)
	}
	c.logger.Info("live feed released", "scope", key)
}
