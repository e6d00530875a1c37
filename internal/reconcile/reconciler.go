// Package reconcile writes derived records idempotently: every write is
// preceded by a lookup on the record's natural key, and an existing record
// is updated in place instead of duplicated.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"comisioane/internal/core"
	"comisioane/internal/log"
)

// ExpenseStore is the DerivedExpense side of the record store.
type ExpenseStore interface {
	FindExpenseByKey(ctx context.Context, naturalKey string) (core.DerivedExpense, bool, error)
	CreateExpense(ctx context.Context, e core.DerivedExpense) (core.DerivedExpense, error)
	UpdateExpense(ctx context.Context, e core.DerivedExpense) error
	ListExpenses(ctx context.Context, period core.Period) ([]core.DerivedExpense, error)
}

// PnLStore is the PnLLine side of the record store.
type PnLStore interface {
	FindPnLLine(ctx context.Context, project string, period core.Period, bucket core.Bucket, label string) (core.PnLLine, bool, error)
	CreatePnLLine(ctx context.Context, l core.PnLLine) (core.PnLLine, error)
	UpdatePnLLine(ctx context.Context, l core.PnLLine) error
	ListPnLLines(ctx context.Context, project string, period core.Period) ([]core.PnLLine, error)
}

// Outcome is what happened to one record.
type Outcome int

const (
	Created Outcome = iota + 1
	Updated
	Unchanged
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Counts tallies outcomes for one batch. Each run owns its own Counts.
type Counts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Add records one outcome.
func (c *Counts) Add(o Outcome) {
	switch o {
	case Created:
		c.Created++
	case Updated:
		c.Updated++
	case Unchanged:
		c.Unchanged++
	case Skipped:
		c.Skipped++
	case Failed:
		c.Errors++
	}
}

// Merge adds o into c.
func (c *Counts) Merge(o Counts) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Skipped += o.Skipped
	c.Errors += o.Errors
}

// Processed is the number of records looked at.
func (c Counts) Processed() int {
	return c.Created + c.Updated + c.Unchanged + c.Skipped + c.Errors
}

// LogArgs renders the counts as slog attributes.
func (c Counts) LogArgs() []any {
	return log.NewFields().WithCounts(c.Created, c.Updated, c.Unchanged, c.Skipped, c.Errors).ToSlice()
}

// ErrManual is returned when a key belongs to a manually entered expense.
var ErrManual = errors.New("expense is manual")

type Reconciler struct {
	expenses ExpenseStore
	pnl      PnLStore
	now      func() time.Time
}

func New(expenses ExpenseStore, pnl PnLStore) *Reconciler {
	return &Reconciler{expenses: expenses, pnl: pnl, now: time.Now}
}

// Upsert creates or updates the expense identified by draft.NaturalKey.
//
// A failed lookup never falls through to create: the record may exist and
// creating it again would duplicate it. Manual expenses are left alone.
func (r *Reconciler) Upsert(ctx context.Context, draft core.DerivedExpense) (Outcome, error) {
	draft.NaturalKey = NormalizeKey(draft.NaturalKey)
	draft.Source = core.SourceAutomatic
	draft.AssociatedSaleIDs = core.SortedIDs(draft.AssociatedSaleIDs)
	if err := draft.Validate(); err != nil {
		return Skipped, err
	}

	existing, found, err := r.expenses.FindExpenseByKey(ctx, draft.NaturalKey)
	if err != nil {
		return Failed, fmt.Errorf("%w: find %q: %w", core.ErrLookupFailure, draft.NaturalKey, err)
	}

	if !found {
		draft.UpdatedAt = r.now()
		if _, err := r.expenses.CreateExpense(ctx, draft); err != nil {
			return Failed, fmt.Errorf("%w: create %q: %w", core.ErrWriteFailure, draft.NaturalKey, err)
		}
		slog.InfoContext(ctx, "Expense created",
			log.NewFields().
				WithComponent(log.ComponentReconcile).
				WithExpense(draft.NaturalKey, draft.Project, draft.Category.String(), draft.Amount.Cents).
				ToSlice()...)
		return Created, nil
	}

	if existing.IsManual() {
		return Skipped, fmt.Errorf("%w: %q", ErrManual, draft.NaturalKey)
	}
	if sameExpense(existing, draft) {
		return Unchanged, nil
	}

	updated := existing
	updated.Name = draft.Name
	updated.Description = draft.Description
	updated.Category = draft.Category
	updated.Amount = draft.Amount
	updated.VATIncluded = draft.VATIncluded
	updated.Kind = draft.Kind
	updated.AssociatedSaleIDs = draft.AssociatedSaleIDs
	updated.UpdatedAt = r.now()
	if err := r.expenses.UpdateExpense(ctx, updated); err != nil {
		return Failed, fmt.Errorf("%w: update %q: %w", core.ErrWriteFailure, draft.NaturalKey, err)
	}
	slog.InfoContext(ctx, "Expense updated",
		log.NewFields().
			WithComponent(log.ComponentReconcile).
			WithExpense(draft.NaturalKey, draft.Project, draft.Category.String(), draft.Amount.Cents).
			ToSlice()...)
	return Updated, nil
}

func sameExpense(a, b core.DerivedExpense) bool {
	return a.Amount == b.Amount &&
		a.Description == b.Description &&
		a.Name == b.Name &&
		a.Category == b.Category &&
		a.VATIncluded == b.VATIncluded &&
		core.SameIDs(a.AssociatedSaleIDs, b.AssociatedSaleIDs)
}

// UpsertPnL creates or updates the P&L line keyed by
// (project, period, bucket, label).
func (r *Reconciler) UpsertPnL(ctx context.Context, line core.PnLLine) (Outcome, error) {
	existing, found, err := r.pnl.FindPnLLine(ctx, line.Project, line.Period, line.Bucket, line.Label)
	if err != nil {
		return Failed, fmt.Errorf("%w: find P&L line %s/%s: %w", core.ErrLookupFailure, line.Project, line.Label, err)
	}
	if !found {
		line.UpdatedAt = r.now()
		if _, err := r.pnl.CreatePnLLine(ctx, line); err != nil {
			return Failed, fmt.Errorf("%w: create P&L line %s/%s: %w", core.ErrWriteFailure, line.Project, line.Label, err)
		}
		return Created, nil
	}
	if existing.AmountRon == line.AmountRon && existing.AmountEur == line.AmountEur && existing.Description == line.Description {
		return Unchanged, nil
	}
	existing.AmountRon = line.AmountRon
	existing.AmountEur = line.AmountEur
	existing.Description = line.Description
	existing.UpdatedAt = r.now()
	if err := r.pnl.UpdatePnLLine(ctx, existing); err != nil {
		return Failed, fmt.Errorf("%w: update P&L line %s/%s: %w", core.ErrWriteFailure, line.Project, line.Label, err)
	}
	return Updated, nil
}

// Sweep zeroes the automatic expenses of kind in period whose natural key
// is not in keep. Nothing is deleted: a zeroed expense stops counting in
// the P&L and comes back through Upsert when the key is produced again.
func (r *Reconciler) Sweep(ctx context.Context, period core.Period, kind core.Kind, keep map[string]bool) (Counts, error) {
	var c Counts
	existing, err := r.expenses.ListExpenses(ctx, period)
	if err != nil {
		return c, fmt.Errorf("%w: expenses for %s: %w", core.ErrLookupFailure, period.Key(), err)
	}
	var errs []error
	for _, e := range existing {
		if e.IsManual() || e.Kind != kind || keep[NormalizeKey(e.NaturalKey)] || e.Amount.IsZero() {
			continue
		}
		was := e.Amount
		e.Amount = core.Money{}
		e.AssociatedSaleIDs = nil
		e.UpdatedAt = r.now()
		if err := r.expenses.UpdateExpense(ctx, e); err != nil {
			c.Add(Failed)
			errs = append(errs, fmt.Errorf("%w: zero %q: %w", core.ErrWriteFailure, e.NaturalKey, err))
			continue
		}
		c.Add(Updated)
		slog.InfoContext(ctx, "Expense no longer produced, set to zero",
			log.NewFields().
				WithComponent(log.ComponentReconcile).
				WithKind(string(kind)).
				WithExpense(e.NaturalKey, e.Project, e.Category.String(), was.Cents).
				ToSlice()...)
	}
	return c, errors.Join(errs...)
}

// PnLLineKey identifies a P&L line within one project and period.
func PnLLineKey(bucket core.Bucket, label string) string {
	return bucket.String() + "|" + label
}

// SweepPnL zeroes the P&L lines of project in period whose PnLLineKey is
// not in keep.
func (r *Reconciler) SweepPnL(ctx context.Context, project string, period core.Period, keep map[string]bool) (Counts, error) {
	var c Counts
	existing, err := r.pnl.ListPnLLines(ctx, project, period)
	if err != nil {
		return c, fmt.Errorf("%w: P&L lines %s %s: %w", core.ErrLookupFailure, project, period.Key(), err)
	}
	var errs []error
	for _, l := range existing {
		if keep[PnLLineKey(l.Bucket, l.Label)] || (l.AmountRon.IsZero() && l.AmountEur.IsZero()) {
			continue
		}
		l.AmountRon, l.AmountEur = core.Money{}, core.Money{}
		l.UpdatedAt = r.now()
		if err := r.pnl.UpdatePnLLine(ctx, l); err != nil {
			c.Add(Failed)
			errs = append(errs, fmt.Errorf("%w: zero P&L line %s/%s: %w", core.ErrWriteFailure, project, l.Label, err))
			continue
		}
		c.Add(Updated)
	}
	return c, errors.Join(errs...)
}
