package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// TerminalFeedback rings the terminal bell for new appointments.
// Devices without a vibration motor only log the requested pattern.
type TerminalFeedback struct {
	out    io.Writer
	sound  bool
	logger *slog.Logger
	mu     sync.Mutex
}

// NewTerminalFeedback creates feedback writing the bell to out; a nil out disables sound
func NewTerminalFeedback(out io.Writer, sound bool, logger *slog.Logger) *TerminalFeedback {
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalFeedback{
		out:    out,
		sound:  sound && out != nil,
		logger: logger.With("component", "feedback"),
	}
}

// PlaySound writes the BEL character
func (f *TerminalFeedback) PlaySound(ctx context.Context) error {
	if !f.sound {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := io.WriteString(f.out, "\a"); err != nil {
		return fmt.Errorf("failed to ring bell: %w", err)
	}
	return nil
}

// Vibrate logs the pattern
func (f *TerminalFeedback) Vibrate(ctx context.Context, pattern []time.Duration) error {
	f.logger.Debug("vibrate", "pattern", pattern)
	return nil
}
