package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is the unit of work a Worker runs on every tick
type Job func(ctx context.Context)

// WorkerConfig contains configuration for a periodic worker
type WorkerConfig struct {
	// Name tags the worker in logs
	Name string
	// CronExpr is the schedule, e.g. "@every 1m" or "*/5 * * * *"
	CronExpr string
	// Timezone applies to five-field expressions; empty means UTC
	Timezone string
	// RunOnStart runs the job once immediately after Start
	RunOnStart bool
	// Timeout bounds a single run; zero means no bound
	Timeout time.Duration
}

// Worker runs a job on a cron schedule. Overlapping runs are skipped.
type Worker struct {
	config WorkerConfig
	spec   *Spec
	job    Job
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	runs    int
}

// NewWorker validates the schedule and creates a stopped worker
func NewWorker(config WorkerConfig, job Job, logger *slog.Logger) (*Worker, error) {
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}
	spec, err := ParseSpec(config.CronExpr, config.Timezone)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Name == "" {
		config.Name = "worker"
	}
	return &Worker{
		config: config,
		spec:   spec,
		job:    job,
		logger: logger.With("component", "schedule", "worker", config.Name),
	}, nil
}

// Start begins the schedule. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	cronLogger := &slogCronLogger{logger: w.logger}
	c := cron.New(
		cron.WithLocation(w.spec.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	w.ctx, w.cancel = context.WithCancel(ctx)
	c.Schedule(w.spec, cron.FuncJob(w.runOnce))

	w.cron = c
	w.running = true
	c.Start()

	if w.config.RunOnStart {
		go w.runOnce()
	}

	w.logger.Info("worker started", "schedule", w.config.CronExpr)
	return nil
}

// Stop halts the schedule and waits for a running job to return
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	c := w.cron
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	w.logger.Info("worker stopped")
}

// Running reports whether the worker is scheduled
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// NextRun returns the next scheduled activation, or the zero time when stopped
func (w *Worker) NextRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return time.Time{}
	}
	return w.spec.Next(time.Now())
}

// Runs returns how many times the job was started
func (w *Worker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

func (w *Worker) runOnce() {
	w.mu.Lock()
	ctx := w.ctx
	w.runs++
	w.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}
	w.job(ctx)
}

// slogCronLogger adapts slog to the cron.Logger interface
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
