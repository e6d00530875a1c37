// Package memory is an in-process record store implementing every port.
// It backs the demo backend and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"comisioane/internal/core"
)

type pnlKey struct {
	project string
	period  core.Period
	bucket  core.Bucket
	label   string
}

type Store struct {
	mu          sync.Mutex
	seq         int
	sales       []core.Sale
	commissions []core.MonthlyCommissionRecord
	payees      []core.Payee
	adSpend     map[core.Period][]core.AdSpend
	expenses    map[string]core.DerivedExpense // by id
	keys        map[string]string              // natural key -> id
	pnl         map[pnlKey]core.PnLLine
	settlements []core.DebtSettlement
}

func New() *Store {
	return &Store{
		adSpend:  make(map[core.Period][]core.AdSpend),
		expenses: make(map[string]core.DerivedExpense),
		keys:     make(map[string]string),
		pnl:      make(map[pnlKey]core.PnLLine),
	}
}

func (s *Store) nextID() string {
	s.seq++
	return fmt.Sprintf("mem:%d", s.seq)
}

// Seeding helpers.

func (s *Store) AddSale(sale core.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, sale)
}

// SetSaleAmount changes an existing sale, as an upstream correction would.
func (s *Store) SetSaleAmount(id string, exclVat, inclVat core.Money) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sales {
		if s.sales[i].ID == id {
			s.sales[i].AmountExclVat = exclVat
			s.sales[i].AmountInclVat = inclVat
			return true
		}
	}
	return false
}

func (s *Store) AddCommission(rec core.MonthlyCommissionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.LinkedSaleIDs = append([]string(nil), rec.LinkedSaleIDs...)
	s.commissions = append(s.commissions, rec)
}

func (s *Store) AddPayee(p core.Payee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payees = append(s.payees, p)
}

func (s *Store) SetAdSpend(period core.Period, spend []core.AdSpend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adSpend[period] = append([]core.AdSpend(nil), spend...)
}

// AddExpense stores an expense as is, bypassing natural key uniqueness.
// It is used to seed manual expenses and legacy duplicates.
func (s *Store) AddExpense(e core.DerivedExpense) core.DerivedExpense {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = s.nextID()
	}
	s.expenses[e.ID] = e
	if _, ok := s.keys[e.NaturalKey]; !ok {
		s.keys[e.NaturalKey] = e.ID
	}
	return e
}

// Expenses returns every stored expense ordered by id.
func (s *Store) Expenses() []core.DerivedExpense {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DerivedExpense, 0, len(s.expenses))
	for _, e := range s.expenses {
		out = append(out, e)
	}
	sortExpenses(out)
	return out
}

// SalesSource

func (s *Store) ListSales(_ context.Context, period core.Period) ([]core.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Sale
	for _, sale := range s.sales {
		if sale.Period == period {
			out = append(out, sale)
		}
	}
	return out, nil
}

func (s *Store) ListProjects(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, sale := range s.sales {
		p := strings.TrimSpace(sale.Project)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// CommissionSource

func (s *Store) ListCommissions(_ context.Context, period core.Period, roles ...core.Role) ([]core.MonthlyCommissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MonthlyCommissionRecord
	for _, rec := range s.commissions {
		if rec.Period != period {
			continue
		}
		if len(roles) > 0 && !core.HasRole(roles, rec.Role) {
			continue
		}
		rec.LinkedSaleIDs = append([]string(nil), rec.LinkedSaleIDs...)
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) ListNegativeCommissions(_ context.Context, payeeRef string, before core.Period) ([]core.MonthlyCommissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MonthlyCommissionRecord
	for _, rec := range s.commissions {
		if rec.PayeeRef == payeeRef && rec.FinalCommission.Cents < 0 && rec.Period.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) UpdateLinkedSales(_ context.Context, commissionID string, saleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.commissions {
		if s.commissions[i].ID == commissionID {
			s.commissions[i].LinkedSaleIDs = append([]string(nil), saleIDs...)
			return nil
		}
	}
	return fmt.Errorf("commission %s not found", commissionID)
}

// PayeeDirectory

func (s *Store) ListPayees(_ context.Context) ([]core.Payee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Payee(nil), s.payees...), nil
}

func (s *Store) GetPayee(_ context.Context, id string) (core.Payee, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payees {
		if p.ID == id {
			return p, true, nil
		}
	}
	return core.Payee{}, false, nil
}

func (s *Store) FindPayeeByName(_ context.Context, name string) (core.Payee, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payees {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, true, nil
		}
	}
	return core.Payee{}, false, nil
}

// AdSpendSource

func (s *Store) ListAdSpend(_ context.Context, period core.Period) ([]core.AdSpend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AdSpend(nil), s.adSpend[period]...), nil
}

// ExpenseStore

func (s *Store) FindExpenseByKey(_ context.Context, naturalKey string) (core.DerivedExpense, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[naturalKey]
	if !ok {
		return core.DerivedExpense{}, false, nil
	}
	e, ok := s.expenses[id]
	return cloneExpense(e), ok, nil
}

func (s *Store) CreateExpense(_ context.Context, e core.DerivedExpense) (core.DerivedExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.keys[e.NaturalKey]; dup {
		return core.DerivedExpense{}, fmt.Errorf("natural key %q already exists", e.NaturalKey)
	}
	e.ID = s.nextID()
	e = cloneExpense(e)
	s.expenses[e.ID] = e
	s.keys[e.NaturalKey] = e.ID
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.DerivedExpense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.expenses[e.ID]
	if !ok {
		return fmt.Errorf("expense %s not found", e.ID)
	}
	if old.NaturalKey != e.NaturalKey {
		if s.keys[old.NaturalKey] == e.ID {
			delete(s.keys, old.NaturalKey)
		}
		s.keys[e.NaturalKey] = e.ID
	}
	s.expenses[e.ID] = cloneExpense(e)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, period core.Period) ([]core.DerivedExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.DerivedExpense
	for _, e := range s.expenses {
		if e.Period == period {
			out = append(out, cloneExpense(e))
		}
	}
	sortExpenses(out)
	return out, nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok {
		return fmt.Errorf("expense %s not found", id)
	}
	delete(s.expenses, id)
	if s.keys[e.NaturalKey] == id {
		delete(s.keys, e.NaturalKey)
		// Another row may share the key; point the index at it.
		for oid, o := range s.expenses {
			if o.NaturalKey == e.NaturalKey {
				s.keys[e.NaturalKey] = oid
				break
			}
		}
	}
	return nil
}

// PnLStore

func (s *Store) FindPnLLine(_ context.Context, project string, period core.Period, bucket core.Bucket, label string) (core.PnLLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.pnl[pnlKey{project, period, bucket, label}]
	return l, ok, nil
}

func (s *Store) CreatePnLLine(_ context.Context, l core.PnLLine) (core.PnLLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pnlKey{l.Project, l.Period, l.Bucket, l.Label}
	if _, dup := s.pnl[k]; dup {
		return core.PnLLine{}, fmt.Errorf("P&L line %s/%s already exists", l.Project, l.Label)
	}
	l.ID = s.nextID()
	s.pnl[k] = l
	return l, nil
}

func (s *Store) UpdatePnLLine(_ context.Context, l core.PnLLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pnlKey{l.Project, l.Period, l.Bucket, l.Label}
	if old, ok := s.pnl[k]; !ok || old.ID != l.ID {
		return fmt.Errorf("P&L line %s not found", l.ID)
	}
	s.pnl[k] = l
	return nil
}

func (s *Store) ListPnLLines(_ context.Context, project string, period core.Period) ([]core.PnLLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.PnLLine
	for k, l := range s.pnl {
		if k.project == project && k.period == period {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

// SettlementStore

func (s *Store) ListSettlements(_ context.Context, payeeRef string) ([]core.DebtSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.DebtSettlement
	for _, st := range s.settlements {
		if st.PayeeRef == payeeRef {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) ReplaceSettlements(_ context.Context, payeeRef string, consumedBy core.Period, settlements []core.DebtSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]core.DebtSettlement, 0, len(s.settlements)+len(settlements))
	for _, st := range s.settlements {
		if st.PayeeRef == payeeRef && st.ConsumedBy == consumedBy {
			continue
		}
		kept = append(kept, st)
	}
	s.settlements = append(kept, settlements...)
	return nil
}

func cloneExpense(e core.DerivedExpense) core.DerivedExpense {
	e.AssociatedSaleIDs = append([]string(nil), e.AssociatedSaleIDs...)
	return e
}

func sortExpenses(es []core.DerivedExpense) {
	sort.Slice(es, func(i, j int) bool { return idLess(es[i].ID, es[j].ID) })
}

// idLess orders "mem:2" before "mem:10".
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
