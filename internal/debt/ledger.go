// Package debt nets a payee's gross commission against negative balances
// carried from earlier periods.
//
// A negative MonthlyCommissionRecord is a debt. Every period that absorbs
// part of a debt leaves a DebtSettlement keyed by (debt record, consuming
// period), so the remaining balance of a debt is explicit:
//
//	remaining = |original| - Σ settlements from periods after the debt and before the current one
//
// Settlements of the current period are replaced on every run, which keeps
// re-runs idempotent.
package debt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"comisioane/internal/core"
)

// CommissionHistory returns a payee's negative commission records from
// periods strictly before the given one.
type CommissionHistory interface {
	ListNegativeCommissions(ctx context.Context, payeeRef string, before core.Period) ([]core.MonthlyCommissionRecord, error)
}

// SettlementStore persists debt consumption.
type SettlementStore interface {
	ListSettlements(ctx context.Context, payeeRef string) ([]core.DebtSettlement, error)
	// ReplaceSettlements drops every settlement the payee recorded for
	// consumedBy and stores the given ones instead.
	ReplaceSettlements(ctx context.Context, payeeRef string, consumedBy core.Period, settlements []core.DebtSettlement) error
}

// Result is the outcome of netting one payee for one period.
type Result struct {
	Gross     core.Money
	Debts     []core.DebtRecord // oldest first
	TotalDebt core.Money
	Net       core.Money
}

// Payable reports whether an expense should be produced.
func (r Result) Payable() bool { return r.Net.IsPositive() }

type Ledger struct {
	history     CommissionHistory
	settlements SettlementStore
}

func NewLedger(history CommissionHistory, settlements SettlementStore) *Ledger {
	return &Ledger{history: history, settlements: settlements}
}

// Outstanding lists the payee's debts as seen from period, oldest first.
// Fully consumed debts are omitted.
func (l *Ledger) Outstanding(ctx context.Context, payeeRef string, period core.Period) ([]core.DebtRecord, error) {
	negatives, err := l.history.ListNegativeCommissions(ctx, payeeRef, period)
	if err != nil {
		return nil, fmt.Errorf("%w: negative commissions for %s: %w", core.ErrLookupFailure, payeeRef, err)
	}
	if len(negatives) == 0 {
		return nil, nil
	}
	settled, err := l.settlements.ListSettlements(ctx, payeeRef)
	if err != nil {
		return nil, fmt.Errorf("%w: settlements for %s: %w", core.ErrLookupFailure, payeeRef, err)
	}

	var debts []core.DebtRecord
	for _, rec := range negatives {
		if rec.FinalCommission.Cents >= 0 || !rec.Period.Before(period) {
			continue
		}
		original := rec.FinalCommission.Abs()
		var consumed core.Money
		for _, s := range settled {
			if s.DebtRecordID != rec.ID {
				continue
			}
			if rec.Period.Before(s.ConsumedBy) && s.ConsumedBy.Before(period) {
				consumed = consumed.Add(s.Amount)
			}
		}
		remaining := original.Sub(consumed)
		if !remaining.IsPositive() {
			continue
		}
		debts = append(debts, core.DebtRecord{
			CommissionID: rec.ID,
			PayeeRef:     payeeRef,
			Period:       rec.Period,
			Original:     original,
			Remaining:    remaining,
		})
	}
	sort.SliceStable(debts, func(i, j int) bool {
		if debts[i].Period != debts[j].Period {
			return debts[i].Period.Before(debts[j].Period)
		}
		return debts[i].CommissionID < debts[j].CommissionID
	})
	return debts, nil
}

// Net subtracts the payee's outstanding debt from gross.
func (l *Ledger) Net(ctx context.Context, payeeRef string, period core.Period, gross core.Money) (Result, error) {
	debts, err := l.Outstanding(ctx, payeeRef, period)
	if err != nil {
		return Result{}, err
	}
	r := Result{Gross: gross, Debts: debts}
	for _, d := range debts {
		r.TotalDebt = r.TotalDebt.Add(d.Remaining)
	}
	r.Net = gross.Sub(r.TotalDebt)
	if len(debts) > 0 {
		slog.DebugContext(ctx, "Debt netted",
			"payee", payeeRef,
			"period", period.Key(),
			"gross_cents", gross.Cents,
			"debt_cents", r.TotalDebt.Cents,
			"net_cents", r.Net.Cents)
	}
	return r, nil
}

// Settle records how much debt period consumed. When the net is positive
// all outstanding debt is paid; otherwise a positive gross is absorbed
// into the oldest debts. Previous settlements of the same period are
// replaced, so calling Settle again with the same result is a no-op.
//
// Settle assumes r is the payee's only netting in period; use a Session
// when a payee has several commissions in one period.
func (l *Ledger) Settle(ctx context.Context, payeeRef string, period core.Period, r Result) error {
	settlements := Consume(r.Debts, r.budget(), period)
	if err := l.settlements.ReplaceSettlements(ctx, payeeRef, period, settlements); err != nil {
		return fmt.Errorf("%w: settlements for %s %s: %w", core.ErrWriteFailure, payeeRef, period.Key(), err)
	}
	return nil
}

// budget is the part of the outstanding debt this result pays off.
func (r Result) budget() core.Money {
	switch {
	case r.Net.IsPositive():
		return r.TotalDebt
	case r.Gross.IsPositive():
		return r.Gross
	}
	return core.Money{}
}

// Session nets every commission of one period. A payee's debt is loaded
// once and shrinks as the payee's commissions consume it, so a payee with
// several records (a setter who is also a caller) pays each debt once.
// Settlements are buffered and written by Commit.
type Session struct {
	ledger  *Ledger
	period  core.Period
	debts   map[string][]core.DebtRecord
	settled map[string][]core.DebtSettlement
	seen    map[string]bool
	payees  []string
}

// Session starts netting period.
func (l *Ledger) Session(period core.Period) *Session {
	return &Session{
		ledger:  l,
		period:  period,
		debts:   make(map[string][]core.DebtRecord),
		settled: make(map[string][]core.DebtSettlement),
		seen:    make(map[string]bool),
	}
}

// Net subtracts what is left of the payee's debt from gross. Nothing is
// consumed until Apply.
func (s *Session) Net(ctx context.Context, payeeRef string, gross core.Money) (Result, error) {
	debts, ok := s.debts[payeeRef]
	if !ok {
		var err error
		debts, err = s.ledger.Outstanding(ctx, payeeRef, s.period)
		if err != nil {
			return Result{}, err
		}
		s.track(payeeRef)
		s.debts[payeeRef] = debts
	}
	r := Result{Gross: gross, Debts: append([]core.DebtRecord(nil), debts...)}
	for _, d := range debts {
		r.TotalDebt = r.TotalDebt.Add(d.Remaining)
	}
	r.Net = gross.Sub(r.TotalDebt)
	if len(debts) > 0 {
		slog.DebugContext(ctx, "Debt netted",
			"payee", payeeRef,
			"period", s.period.Key(),
			"gross_cents", gross.Cents,
			"debt_cents", r.TotalDebt.Cents,
			"net_cents", r.Net.Cents)
	}
	return r, nil
}

// Apply consumes the debt r pays off and lowers the payee's remaining
// balance for the payee's next commission.
func (s *Session) Apply(payeeRef string, r Result) {
	s.track(payeeRef)
	consumed := Consume(r.Debts, r.budget(), s.period)
	if len(consumed) == 0 {
		return
	}
	taken := make(map[string]core.Money, len(consumed))
	for _, st := range consumed {
		taken[st.DebtRecordID] = taken[st.DebtRecordID].Add(st.Amount)
	}
	var left []core.DebtRecord
	for _, d := range s.debts[payeeRef] {
		d.Remaining = d.Remaining.Sub(taken[d.CommissionID])
		if d.Remaining.IsPositive() {
			left = append(left, d)
		}
	}
	s.debts[payeeRef] = left
	s.settled[payeeRef] = append(s.settled[payeeRef], consumed...)
}

// Touch marks payeeRef as processed so Commit clears settlements an
// earlier run left for this period.
func (s *Session) Touch(payeeRef string) { s.track(payeeRef) }

func (s *Session) track(payeeRef string) {
	if !s.seen[payeeRef] {
		s.seen[payeeRef] = true
		s.payees = append(s.payees, payeeRef)
	}
}

// Commit replaces the period's settlements of every payee seen by the
// session, one row per debt. It keeps going after a failed payee and
// returns the number of failures with their joined error.
func (s *Session) Commit(ctx context.Context) (int, error) {
	var errs []error
	for _, payee := range s.payees {
		rows := mergeSettlements(s.settled[payee])
		if err := s.ledger.settlements.ReplaceSettlements(ctx, payee, s.period, rows); err != nil {
			errs = append(errs, fmt.Errorf("%w: settlements for %s %s: %w", core.ErrWriteFailure, payee, s.period.Key(), err))
		}
	}
	return len(errs), errors.Join(errs...)
}

// mergeSettlements folds settlements of the same debt into one row.
func mergeSettlements(in []core.DebtSettlement) []core.DebtSettlement {
	var out []core.DebtSettlement
	index := make(map[string]int, len(in))
	for _, st := range in {
		if i, ok := index[st.DebtRecordID]; ok {
			out[i].Amount = out[i].Amount.Add(st.Amount)
			continue
		}
		index[st.DebtRecordID] = len(out)
		out = append(out, st)
	}
	return out
}

// Consume spends budget on debts oldest first and returns the resulting
// settlements. Debts are expected in the order Outstanding returns them.
func Consume(debts []core.DebtRecord, budget core.Money, period core.Period) []core.DebtSettlement {
	var out []core.DebtSettlement
	for _, d := range debts {
		if !budget.IsPositive() {
			break
		}
		take := d.Remaining
		if budget.Cents < take.Cents {
			take = budget
		}
		out = append(out, core.DebtSettlement{
			DebtRecordID: d.CommissionID,
			PayeeRef:     d.PayeeRef,
			DebtPeriod:   d.Period,
			ConsumedBy:   period,
			Amount:       take,
		})
		budget = budget.Sub(take)
	}
	return out
}
