package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/server-common/hermes/pkg/logger"
)

// Dispatcher owns the process scheduler running the pipeline's three
// periodic tasks. Each task is wrapped with SkipIfStillRunning so a tick
// still in progress suppresses its next invocation instead of overlapping
// it and compounding backlogs.
type Dispatcher struct {
	cron   *cron.Cron
	worker *Worker
	log    *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewDispatcher schedules the worker's ticks on a dedicated cron instance.
func NewDispatcher(w *Worker, cfg Config, log *slog.Logger) (*Dispatcher, error) {
	if log == nil {
		log = logger.NewDiscard()
	}

	cronLog := &cronLogger{log: log}
	c := cron.New(cron.WithChain(
		cron.Recover(cronLog),
		cron.SkipIfStillRunning(cronLog),
	))

	tasks := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"deliver", fmt.Sprintf("@every %s", cfg.DeliverInterval), w.DeliverTick},
		{"requeue", fmt.Sprintf("@every %s", cfg.RequeueInterval), w.RequeueTick},
		{"reconcile", fmt.Sprintf("@every %s", cfg.ReconcileInterval), w.ReconcileTick},
	}

	for _, t := range tasks {
		run := t.run
		name := t.name
		if _, err := c.AddFunc(t.spec, func() {
			if err := run(context.Background()); err != nil {
				log.Error("dispatch tick failed",
					slog.String("task", name), slog.String("error", err.Error()))
			}
		}); err != nil {
			return nil, fmt.Errorf("dispatch: schedule %s: %w", t.name, err)
		}
	}

	return &Dispatcher{cron: c, worker: w, log: log}, nil
}

// Start begins running the scheduled tasks.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.cron.Start()
	d.started = true
	d.log.Info("dispatcher started")
}

// Stop halts scheduling and waits for running ticks to finish.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	stopped := d.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	d.started = false
	d.log.Info("dispatcher stopped")
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err.Error())...)
}
