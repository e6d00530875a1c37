package pnl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/reconcile"
)

type SalesLister interface {
	ListSales(ctx context.Context, period core.Period) ([]core.Sale, error)
}

type ExpenseLister interface {
	ListExpenses(ctx context.Context, period core.Period) ([]core.DerivedExpense, error)
}

// Result summarises one period's P&L run.
type Result struct {
	Period   string `json:"period"`
	Projects int    `json:"projects"`
	reconcile.Counts
}

// Processed is the number of P&L lines looked at.
func (r Result) Processed() int { return r.Counts.Processed() }

type Aggregator struct {
	sales    SalesLister
	expenses ExpenseLister
	rec      *reconcile.Reconciler
	rate     core.EURRate
}

// NewAggregator refuses to start when a category has no P&L bucket.
func NewAggregator(sales SalesLister, expenses ExpenseLister, rec *reconcile.Reconciler, rate core.EURRate) (*Aggregator, error) {
	if err := core.CheckBucketCoverage(); err != nil {
		return nil, err
	}
	return &Aggregator{sales: sales, expenses: expenses, rec: rec, rate: rate}, nil
}

// RunForPeriod rebuilds the P&L of every project active in period. Revenue
// is summed from the period's sales on every run. A failure on one line or
// project is counted and the run continues.
func (a *Aggregator) RunForPeriod(ctx context.Context, period core.Period) (Result, error) {
	res := Result{Period: period.Key()}

	sales, err := a.sales.ListSales(ctx, period)
	if err != nil {
		return res, fmt.Errorf("%w: sales for %s: %w", core.ErrLookupFailure, period.Key(), err)
	}
	expenses, err := a.expenses.ListExpenses(ctx, period)
	if err != nil {
		return res, fmt.Errorf("%w: expenses for %s: %w", core.ErrLookupFailure, period.Key(), err)
	}

	revenue := make(map[string]core.Money)
	for _, s := range sales {
		if strings.TrimSpace(s.Project) == "" {
			continue
		}
		revenue[s.Project] = revenue[s.Project].Add(s.AmountExclVat)
	}
	projects := make(map[string]struct{}, len(revenue))
	for p := range revenue {
		projects[p] = struct{}{}
	}
	for _, e := range expenses {
		if !e.IsManual() && strings.TrimSpace(e.Project) != "" {
			projects[e.Project] = struct{}{}
		}
	}
	names := make([]string, 0, len(projects))
	for p := range projects {
		names = append(names, p)
	}
	sort.Strings(names)

	for _, project := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Projects++
		st, err := Build(project, period, revenue[project], expenses, a.rate)
		if err != nil {
			res.Errors++
			slog.ErrorContext(ctx, "Failed to build P&L",
				log.FieldComponent, log.ComponentPnL,
				log.FieldProject, project,
				log.FieldPeriod, period.Key(),
				log.FieldError, err)
			continue
		}
		keep := make(map[string]bool, len(st.Lines))
		for _, line := range st.Lines {
			keep[reconcile.PnLLineKey(line.Bucket, line.Label)] = true
			o, err := a.rec.UpsertPnL(ctx, line)
			res.Add(o)
			if err != nil {
				slog.WarnContext(ctx, "Failed to reconcile P&L line",
					log.FieldComponent, log.ComponentPnL,
					log.FieldProject, project,
					"label", line.Label,
					log.FieldError, err)
			}
		}
		// Lines of expenses that are gone or zeroed drop to zero.
		swept, err := a.rec.SweepPnL(ctx, project, period, keep)
		if err != nil && swept.Errors == 0 {
			swept.Errors++
		}
		res.Merge(swept)
		if err != nil {
			slog.WarnContext(ctx, "Failed to zero stale P&L lines",
				log.FieldComponent, log.ComponentPnL,
				log.FieldProject, project,
				log.FieldError, err)
		}
		slog.DebugContext(ctx, "P&L built",
			log.FieldComponent, log.ComponentPnL,
			log.FieldProject, project,
			log.FieldPeriod, period.Key(),
			"revenue_cents", st.Revenue.Cents,
			"expense_cents", st.TotalExpense.Cents,
			"margin", st.Margin.String())
	}

	slog.InfoContext(ctx, "P&L reconciled",
		append([]any{log.FieldComponent, log.ComponentPnL, log.FieldPeriod, period.Key(), "projects", res.Projects}, res.LogArgs()...)...)
	return res, nil
}
