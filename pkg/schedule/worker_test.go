package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWorker_InvalidSchedule(t *testing.T) {
	_, err := NewWorker(WorkerConfig{CronExpr: "not a schedule"}, func(context.Context) {}, nil)
	if err == nil {
		t.Error("Expected error for invalid schedule")
	}

	_, err = NewWorker(WorkerConfig{CronExpr: "@every 1m"}, nil, nil)
	if err == nil {
		t.Error("Expected error for nil job")
	}
}

func TestWorker_RunOnStart(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 1)

	w, err := NewWorker(WorkerConfig{
		Name:       "test",
		CronExpr:   "@every 1h",
		RunOnStart: true,
	}, func(ctx context.Context) {
		calls.Add(1)
		done <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	defer w.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected job to run on start")
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("Expected 1 call, got %d", got)
	}
	if !w.Running() {
		t.Error("Expected worker to be running")
	}
}

func TestWorker_StartIsIdempotent(t *testing.T) {
	w, err := NewWorker(WorkerConfig{CronExpr: "@every 1h"}, func(context.Context) {}, nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	w.Stop()
	w.Stop()

	if w.Running() {
		t.Error("Expected worker to be stopped")
	}
}

func TestWorker_StopCancelsJobContext(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan error, 1)

	w, err := NewWorker(WorkerConfig{CronExpr: "@every 1h", RunOnStart: true}, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}

	<-started
	w.Stop()

	select {
	case err := <-finished:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected job context to be cancelled on stop")
	}
}

func TestWorker_InvalidTimezone(t *testing.T) {
	_, err := NewWorker(WorkerConfig{CronExpr: "0 9 * * *", Timezone: "Invalid/Zone"}, func(context.Context) {}, nil)
	if err == nil {
		t.Error("Expected error for invalid timezone")
	}
}

func TestWorker_NextRun(t *testing.T) {
	w, err := NewWorker(WorkerConfig{CronExpr: "@every 1h"}, func(context.Context) {}, nil)
	if err != nil {
		t.Fatalf("Failed to create worker: %v", err)
	}
	if !w.NextRun().IsZero() {
		t.Error("Expected zero next run before start")
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	next := w.NextRun()
	w.Stop()

	if until := time.Until(next); until <= 59*time.Minute || until > time.Hour {
		t.Errorf("Expected next run in about an hour, got %v", until)
	}
	if !w.NextRun().IsZero() {
		t.Error("Expected zero next run after stop")
	}
}
