// Package worker drives runs from the AMQP queue and from a cron schedule.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"comisioane/internal/amqp"
	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/services"
)

// Runner is satisfied by *services.Runner.
type Runner interface {
	RunPeriods(ctx context.Context, periods []core.Period, scope services.Scope) (services.RunReport, error)
}

// Invalidator drops cached upstream reads before a run.
type Invalidator interface {
	Invalidate()
}

type Config struct {
	// Schedule is a five-field cron expression; empty disables the schedule.
	Schedule string
	// Lookback is how many periods before the current one a scheduled
	// run reprocesses. Late upstream corrections land in those.
	Lookback int
	// BusyDelay is how long HandleRun waits before handing a request back
	// for redelivery when another run holds the runner.
	BusyDelay time.Duration
}

// RunWorker serialises run requests onto the runner.
type RunWorker struct {
	runner Runner
	cache  Invalidator
	cfg    Config
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewRunWorker(runner Runner, cache Invalidator, cfg Config) *RunWorker {
	if cfg.Lookback < 0 {
		cfg.Lookback = 0
	}
	return &RunWorker{runner: runner, cache: cache, cfg: cfg, now: time.Now}
}

// HandleRun processes one queued request. Malformed requests come back
// wrapped in amqp.ErrInvalidRequest so the consumer drops them.
func (w *RunWorker) HandleRun(ctx context.Context, req *amqp.RunRequest) error {
	periods, err := req.ParsePeriods()
	if err != nil {
		return err
	}
	scope, err := services.ParseScope(req.Scope)
	if err != nil {
		return fmt.Errorf("%w: %w", amqp.ErrInvalidRequest, err)
	}
	slog.InfoContext(ctx, "Processing run request",
		log.FieldComponent, log.ComponentWorker,
		"request_id", req.RequestID,
		"periods", len(periods),
		"scope", string(scope),
		"queued_for", time.Since(req.RequestedAt).Round(time.Millisecond).String())

	_, err = w.run(ctx, periods, scope)
	if errors.Is(err, services.ErrRunInProgress) && w.cfg.BusyDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.BusyDelay):
		}
	}
	return err
}

// ScheduledPeriods returns the current period and the lookback window,
// oldest first.
func (w *RunWorker) ScheduledPeriods() []core.Period {
	return core.PeriodOf(w.now()).Back(w.cfg.Lookback)
}

// RunScheduled runs the full scope over ScheduledPeriods.
func (w *RunWorker) RunScheduled(ctx context.Context) {
	periods := w.ScheduledPeriods()
	rep, err := w.run(ctx, periods, services.ScopeAll)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduled run failed",
			log.NewFields().WithComponent(log.ComponentWorker).WithError(err).ToSlice()...)
		return
	}
	slog.InfoContext(ctx, "Scheduled run completed",
		append([]any{log.FieldComponent, log.ComponentWorker, "from", periods[0].Key(), "to", periods[len(periods)-1].Key()},
			rep.Totals.LogArgs()...)...)
}

func (w *RunWorker) run(ctx context.Context, periods []core.Period, scope services.Scope) (services.RunReport, error) {
	if w.cache != nil {
		w.cache.Invalidate()
	}
	return w.runner.RunPeriods(ctx, periods, scope)
}

// Start registers the cron schedule. Jobs run with ctx, so cancelling it
// aborts an in-flight scheduled run.
func (w *RunWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("worker already started")
	}
	if w.cfg.Schedule == "" {
		slog.InfoContext(ctx, "No run schedule configured", log.FieldComponent, log.ComponentWorker)
		w.running = true
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.cfg.Schedule, func() { w.RunScheduled(ctx) }); err != nil {
		return fmt.Errorf("%w: schedule %q: %w", core.ErrCredentialOrConfig, w.cfg.Schedule, err)
	}
	c.Start()
	w.cron = c
	w.running = true
	slog.InfoContext(ctx, "Run schedule started",
		log.FieldComponent, log.ComponentWorker, "schedule", w.cfg.Schedule, "lookback", w.cfg.Lookback)
	return nil
}

// Stop halts the schedule and waits for a running job.
func (w *RunWorker) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.running = false
	w.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
