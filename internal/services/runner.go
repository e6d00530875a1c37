package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/pnl"
	"comisioane/internal/reconcile"
)

// Scope selects which stages a run executes.
type Scope string

const (
	ScopeAll        Scope = "all"
	ScopeAllocation Scope = "allocation"
	ScopePnL        Scope = "pnl"
	// ScopeCleanup is never part of ScopeAll.
	ScopeCleanup Scope = "cleanup"
)

// ErrRunInProgress is returned when another run holds the runner.
var ErrRunInProgress = errors.New("a run is already in progress")

func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case "":
		return ScopeAll, nil
	case ScopeAll, ScopeAllocation, ScopePnL, ScopeCleanup:
		return sc, nil
	}
	return "", fmt.Errorf("unknown scope %q (want all, allocation, pnl or cleanup)", s)
}

func (s Scope) allocation() bool { return s == ScopeAll || s == ScopeAllocation }
func (s Scope) pnl() bool        { return s == ScopeAll || s == ScopePnL }

// PnLService rebuilds the P&L sheet of a period.
type PnLService struct {
	agg *pnl.Aggregator
}

func NewPnLService(agg *pnl.Aggregator) *PnLService {
	return &PnLService{agg: agg}
}

// RunPnLForPeriod aggregates every project active in period.
func (s *PnLService) RunPnLForPeriod(ctx context.Context, period core.Period) (pnl.Result, error) {
	return s.agg.RunForPeriod(ctx, period)
}

// PeriodReport is the outcome of one period within a run.
type PeriodReport struct {
	Period     string         `json:"period"`
	Allocation *Report        `json:"allocation,omitempty"`
	PnL        *pnl.Result    `json:"pnl,omitempty"`
	Cleanup    *CleanupResult `json:"cleanup,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// RunReport aggregates a multi-period run.
type RunReport struct {
	Scope    Scope            `json:"scope"`
	Periods  []PeriodReport   `json:"periods"`
	Totals   reconcile.Counts `json:"totals"`
	Duration time.Duration    `json:"duration_ns"`
}

// Runner executes periods one after another, allocation before P&L, and
// admits a single run at a time.
type Runner struct {
	alloc   *Allocator
	pnl     *PnLService
	maint   *Maintenance
	mu      sync.Mutex
	running bool
}

func NewRunner(alloc *Allocator, pnl *PnLService, maint *Maintenance) *Runner {
	return &Runner{alloc: alloc, pnl: pnl, maint: maint}
}

// RunPeriods processes periods sequentially. A failing period is recorded
// and the next one still runs; cancellation stops the run.
func (r *Runner) RunPeriods(ctx context.Context, periods []core.Period, scope Scope) (RunReport, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return RunReport{}, ErrRunInProgress
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	rep := RunReport{Scope: scope, Periods: make([]PeriodReport, 0, len(periods))}
	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		pr := r.runPeriod(ctx, p, scope)
		if pr.Allocation != nil {
			rep.Totals.Merge(pr.Allocation.Total())
		}
		if pr.PnL != nil {
			rep.Totals.Merge(pr.PnL.Counts)
		}
		if pr.Cleanup != nil {
			rep.Totals.Errors += pr.Cleanup.Errors
		}
		rep.Periods = append(rep.Periods, pr)
	}
	rep.Duration = time.Since(start)

	slog.InfoContext(ctx, "Run finished",
		append([]any{
			log.FieldComponent, log.ComponentApp,
			"scope", string(scope),
			"periods", len(periods),
			log.FieldDuration, rep.Duration.Milliseconds(),
		}, rep.Totals.LogArgs()...)...)
	return rep, nil
}

func (r *Runner) runPeriod(ctx context.Context, p core.Period, scope Scope) PeriodReport {
	pr := PeriodReport{Period: p.Key()}
	slog.InfoContext(ctx, "Processing period", log.FieldComponent, log.ComponentApp, log.FieldPeriod, p.Key(), "scope", string(scope))

	if scope == ScopeCleanup {
		if r.maint == nil {
			pr.Error = "cleanup not configured"
			return pr
		}
		res, err := r.maint.Cleanup(ctx, p)
		pr.Cleanup = &res
		if err != nil {
			pr.Error = err.Error()
		}
		return pr
	}

	if scope.allocation() {
		rep := r.alloc.RunAllocationForPeriod(ctx, p)
		pr.Allocation = &rep
	}
	if scope.pnl() {
		res, err := r.pnl.RunPnLForPeriod(ctx, p)
		pr.PnL = &res
		if err != nil {
			pr.Error = err.Error()
			slog.ErrorContext(ctx, "P&L failed", log.FieldComponent, log.ComponentPnL, log.FieldPeriod, p.Key(), log.FieldError, err)
		}
	}
	return pr
}
