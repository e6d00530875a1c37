package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"comisioane/internal/allocation"
	"comisioane/internal/core"
	"comisioane/internal/debt"
	"comisioane/internal/log"
	"comisioane/internal/matching"
	"comisioane/internal/reconcile"
	"comisioane/internal/sheets"
)

// AllocatorConfig carries the business parameters of the allocation kinds.
type AllocatorConfig struct {
	Rate          core.EURRate
	Tiers         []allocation.Tier
	Fees          allocation.FeeTable
	SharedProject string
}

// Report holds the per-kind counts of one allocation run.
type Report struct {
	Period  string                          `json:"period"`
	Kinds   map[core.Kind]reconcile.Counts `json:"kinds"`
	Aborted map[core.Kind]string            `json:"aborted,omitempty"`
	// SettlementErrors counts payees whose debt settlements were not saved.
	SettlementErrors int `json:"settlement_errors,omitempty"`
}

// Total sums the counts of every kind.
func (r Report) Total() reconcile.Counts {
	var c reconcile.Counts
	for _, k := range r.Kinds {
		c.Merge(k)
	}
	c.Errors += r.SettlementErrors
	return c
}

// Allocator turns a period's source records into DerivedExpenses.
type Allocator struct {
	source sheets.Source
	debts  *debt.Ledger
	rec    *reconcile.Reconciler
	cfg    AllocatorConfig
	kinds  []core.Kind
}

func NewAllocator(source sheets.Source, debts *debt.Ledger, rec *reconcile.Reconciler, cfg AllocatorConfig) *Allocator {
	return &Allocator{source: source, debts: debts, rec: rec, cfg: cfg, kinds: core.AllKinds()}
}

// WithKinds restricts the allocator to the given kinds. A restricted run
// settles only the debt those kinds consumed.
func (a *Allocator) WithKinds(kinds ...core.Kind) *Allocator {
	cp := *a
	cp.kinds = kinds
	return &cp
}

// RunAllocationForPeriod runs every allocation kind for period, in order.
// A kind that fails with a configuration problem or panics is aborted and
// reported; the remaining kinds still run.
//
// Debt is netted per payee across all kinds and settled once at the end.
// After a kind completes, its expenses from earlier runs that this run no
// longer produced are set to zero.
func (a *Allocator) RunAllocationForPeriod(ctx context.Context, period core.Period) Report {
	rep := Report{
		Period:  period.Key(),
		Kinds:   make(map[core.Kind]reconcile.Counts, len(a.kinds)),
		Aborted: make(map[core.Kind]string),
	}
	in := &inputs{source: a.source, period: period, debts: a.debts.Session(period)}

	for _, kind := range a.kinds {
		if ctx.Err() != nil {
			rep.Aborted[kind] = ctx.Err().Error()
			continue
		}
		in.produced, in.incomplete = make(map[string]bool), false
		fn := a.kindFunc(kind)
		counts, err := guard(ctx, kind, func(ctx context.Context) (reconcile.Counts, error) {
			return fn(ctx, in)
		})
		if err != nil {
			rep.Aborted[kind] = err.Error()
			slog.ErrorContext(ctx, "Allocation kind aborted",
				log.FieldComponent, log.ComponentAllocation,
				log.FieldKind, string(kind),
				log.FieldPeriod, period.Key(),
				log.FieldError, err)
		} else if !in.incomplete {
			counts.Merge(a.sweep(ctx, kind, in))
		}
		rep.Kinds[kind] = counts
		slog.InfoContext(ctx, "Allocation kind finished",
			append([]any{
				log.FieldComponent, log.ComponentAllocation,
				log.FieldKind, string(kind),
				log.FieldPeriod, period.Key(),
			}, counts.LogArgs()...)...)
	}

	n, err := in.debts.Commit(ctx)
	if err != nil {
		rep.SettlementErrors = n
		slog.ErrorContext(ctx, "Failed to record debt settlements",
			log.FieldComponent, log.ComponentDebt,
			log.FieldPeriod, period.Key(),
			log.FieldError, err)
	}
	if len(rep.Aborted) == 0 {
		rep.Aborted = nil
	}
	return rep
}

// sweep zeroes the kind's automatic expenses that this run did not produce.
func (a *Allocator) sweep(ctx context.Context, kind core.Kind, in *inputs) reconcile.Counts {
	c, err := a.rec.Sweep(ctx, in.period, kind, in.produced)
	if err != nil && c.Errors == 0 {
		c.Errors++
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to retire stale expenses",
			log.FieldComponent, log.ComponentAllocation,
			log.FieldKind, string(kind),
			log.FieldPeriod, in.period.Key(),
			log.FieldError, err)
	}
	return c
}

type kindFunc func(ctx context.Context, in *inputs) (reconcile.Counts, error)

func (a *Allocator) kindFunc(k core.Kind) kindFunc {
	switch k {
	case core.KindSalesRep:
		return a.salesRep
	case core.KindSetterCaller:
		return a.setterCaller
	case core.KindTeamLeader:
		return a.teamLeader
	case core.KindPaymentFee:
		return a.paymentFee
	case core.KindAdSpend:
		return a.adSpend
	case core.KindCopywriting:
		return a.copywriting
	}
	return func(context.Context, *inputs) (reconcile.Counts, error) {
		return reconcile.Counts{}, fmt.Errorf("%w: unknown allocation kind %q", core.ErrCredentialOrConfig, k)
	}
}

// guard runs fn and converts a panic into an aborted kind with one error.
func guard(ctx context.Context, kind core.Kind, fn func(ctx context.Context) (reconcile.Counts, error)) (counts reconcile.Counts, err error) {
	defer func() {
		if r := recover(); r != nil {
			counts.Errors++
			err = fmt.Errorf("panic in %s: %v", kind, r)
		}
	}()
	counts, err = fn(ctx)
	if err != nil {
		counts.Errors++
	}
	return counts, err
}

// inputs memoises the reads shared by several kinds within one run and
// carries the run's debt session.
type inputs struct {
	source sheets.Source
	period core.Period
	debts  *debt.Session

	// produced holds the normalised keys the current kind wrote. When
	// incomplete is set some keys could not be computed and the kind is
	// not swept.
	produced   map[string]bool
	incomplete bool

	sales    []core.Sale
	salesErr error
	salesOK  bool

	payees    map[string]core.Payee
	directory []core.Payee
	payeesErr error
	payeesOK  bool
}

// validSales returns the period's sales that pass validation. Invalid ones
// are logged and left out.
func (in *inputs) validSales(ctx context.Context) ([]core.Sale, error) {
	if !in.salesOK {
		in.salesOK = true
		all, err := in.source.ListSales(ctx, in.period)
		if err != nil {
			in.salesErr = fmt.Errorf("%w: sales for %s: %w", core.ErrLookupFailure, in.period.Key(), err)
		}
		for _, s := range all {
			if err := s.Validate(); err != nil {
				slog.WarnContext(ctx, "Skipping sale", log.FieldComponent, log.ComponentAllocation, log.FieldError, err)
				continue
			}
			in.sales = append(in.sales, s)
		}
	}
	return in.sales, in.salesErr
}

func (in *inputs) payeeDirectory(ctx context.Context) (map[string]core.Payee, []core.Payee, error) {
	if !in.payeesOK {
		in.payeesOK = true
		list, err := in.source.ListPayees(ctx)
		if err != nil {
			in.payeesErr = fmt.Errorf("%w: payee directory: %w", core.ErrLookupFailure, err)
		}
		in.directory = list
		in.payees = make(map[string]core.Payee, len(list))
		for _, p := range list {
			in.payees[p.ID] = p
		}
	}
	return in.payees, in.directory, in.payeesErr
}

// payeeName returns the display name for a payee reference, falling back
// to the reference itself.
func (in *inputs) payeeName(ctx context.Context, ref string) string {
	byID, _, err := in.payeeDirectory(ctx)
	if err == nil {
		if p, ok := byID[ref]; ok && p.Name != "" {
			return p.Name
		}
	}
	return ref
}

// personAllocation describes one payee's commission to be netted against
// debt and split across projects.
type personAllocation struct {
	kind     core.Kind
	record   core.MonthlyCommissionRecord
	name     string
	category core.Category
	gross    core.Money
	weights  []allocation.Weight
	sales    map[string][]string // project -> linked sale ids
	key      func(project string) string
}

// allocatePerson nets gross against what is left of the payee's debt in
// this run, splits the net across projects and reconciles one expense per
// project. The consumed debt is applied to the session for the payee's
// later commissions.
func (a *Allocator) allocatePerson(ctx context.Context, in *inputs, p personAllocation) reconcile.Counts {
	var c reconcile.Counts
	period := in.period
	logArgs := []any{
		log.FieldComponent, log.ComponentAllocation,
		log.FieldKind, string(p.kind),
		log.FieldPeriod, period.Key(),
		log.FieldPayee, p.name,
	}

	res, err := in.debts.Net(ctx, p.record.PayeeRef, p.gross)
	if err != nil {
		c.Add(reconcile.Failed)
		in.incomplete = true
		slog.ErrorContext(ctx, "Debt lookup failed", append(logArgs, log.FieldError, err)...)
		return c
	}

	var shares []allocation.Share
	if res.Payable() {
		shares, err = allocation.Proportional(res.Net, p.weights)
		if err != nil {
			c.Add(reconcile.Skipped)
			slog.WarnContext(ctx, "Nothing to allocate on", append(logArgs, log.FieldError, err)...)
			// No expense is produced, so no debt is consumed either.
			res = debt.Result{Debts: res.Debts}
		}
	} else {
		c.Add(reconcile.Skipped)
		slog.InfoContext(ctx, "No payable commission after debt",
			append(logArgs, "gross_cents", res.Gross.Cents, "debt_cents", res.TotalDebt.Cents)...)
	}

	for _, sh := range shares {
		if sh.Amount.IsZero() {
			continue
		}
		draft := core.DerivedExpense{
			NaturalKey:        p.key(sh.Group),
			Name:              p.name,
			Description:       core.Describe(p.kind, p.name, period),
			Project:           sh.Group,
			Category:          p.category,
			Amount:            sh.Amount,
			Period:            period,
			Kind:              p.kind,
			AssociatedSaleIDs: p.sales[sh.Group],
		}
		a.upsert(ctx, in, &c, draft)
	}

	in.debts.Apply(p.record.PayeeRef, res)
	return c
}

// upsert reconciles one draft and logs anything other than success. The
// key counts as produced even when the write fails, so a failed write is
// never zeroed by the sweep.
func (a *Allocator) upsert(ctx context.Context, in *inputs, c *reconcile.Counts, draft core.DerivedExpense) {
	in.produced[reconcile.NormalizeKey(draft.NaturalKey)] = true
	o, err := a.rec.Upsert(ctx, draft)
	c.Add(o)
	if err == nil {
		return
	}
	level := slog.LevelError
	if o == reconcile.Skipped {
		level = slog.LevelWarn
	}
	fields := log.NewFields().
		WithComponent(log.ComponentAllocation).
		WithKind(string(draft.Kind)).
		WithExpense(draft.NaturalKey, draft.Project, draft.Category.String(), draft.Amount.Cents).
		WithError(err)
	fields[log.FieldOutcome] = o.String()
	slog.Log(ctx, level, "Expense not reconciled", fields.ToSlice()...)
}

// salesByProject groups sales and returns the basis weights and sale ids
// per project.
func salesByProject(sales []core.Sale, amount func(core.Sale) core.Money) ([]allocation.Weight, map[string][]string) {
	groups, _ := matching.Group(sales, func(s core.Sale) (string, bool) { return s.Project, true })
	ids := make(map[string][]string, len(groups))
	for project, ss := range groups {
		ids[project] = matching.SaleIDs(ss)
	}
	return allocation.WeightsFromMap(matching.SumByProject(sales, amount)), ids
}

func sortedRecords(recs []core.MonthlyCommissionRecord) []core.MonthlyCommissionRecord {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

// isFatal reports whether err should abort the whole kind.
func isFatal(err error) bool {
	return errors.Is(err, core.ErrCredentialOrConfig) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
