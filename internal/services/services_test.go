package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"comisioane/internal/allocation"
	"comisioane/internal/core"
	"comisioane/internal/debt"
	"comisioane/internal/pnl"
	"comisioane/internal/reconcile"
	"comisioane/internal/services"
	"comisioane/internal/sheets"
	"comisioane/internal/sheets/memory"
)

var (
	sep = core.MustParsePeriod("Septembrie 2025")
	oct = core.MustParsePeriod("Octombrie 2025")
	nov = core.MustParsePeriod("Noiembrie 2025")
)

func ron(units int64) core.Money { return core.Money{Cents: units * 100} }

func config(t *testing.T) services.AllocatorConfig {
	t.Helper()
	rate, err := core.NewEURRate(decimal.NewFromInt(5))
	if err != nil {
		t.Fatal(err)
	}
	tiers, err := allocation.ParseTiers("10000:0.05,*:0.10")
	if err != nil {
		t.Fatal(err)
	}
	fees, err := allocation.ParseFeeRules("Stripe:2:1,TBI:5:0")
	if err != nil {
		t.Fatal(err)
	}
	return services.AllocatorConfig{Rate: rate, Tiers: tiers, Fees: fees, SharedProject: "Comun"}
}

func newAllocator(t *testing.T, src sheets.Source, store *memory.Store) *services.Allocator {
	t.Helper()
	return services.NewAllocator(src, debt.NewLedger(src, store), reconcile.New(store, store), config(t))
}

// seed builds one October with a payee of every role.
func seed(store *memory.Store) {
	store.AddPayee(core.Payee{ID: "p1", Name: "Ion Popescu", Roles: []core.Role{core.RoleSales}})
	store.AddPayee(core.Payee{ID: "p2", Name: "Maria Ionescu", Roles: []core.Role{core.RoleSetter}})
	store.AddPayee(core.Payee{ID: "p3", Name: "Andrei Pop", Roles: []core.Role{core.RoleTeamLeader}})
	store.AddPayee(core.Payee{ID: "p4", Name: "Elena Dobre", Roles: []core.Role{core.RoleCopywriter}})

	store.AddSale(core.Sale{ID: "s1", Project: "Alpha", AmountExclVat: ron(20000), AmountInclVat: ron(23800),
		PaymentMethod: "Stripe", CampaignTag: "FB_MariaIonescu_Oct", Period: oct})
	store.AddSale(core.Sale{ID: "s2", Project: "Beta", AmountExclVat: ron(10000), AmountInclVat: ron(11900),
		PaymentMethod: "tbi", CampaignTag: "IG_MariaIonescu", Period: oct})

	store.AddCommission(core.MonthlyCommissionRecord{ID: "c1", PayeeRef: "p1", Period: oct, Role: core.RoleSales,
		FinalCommission: ron(1000), LinkedSaleIDs: []string{"s1", "s2"}})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c2", PayeeRef: "p2", Period: oct, Role: core.RoleSetter,
		FinalCommission: ron(300)})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c3", PayeeRef: "p3", Period: oct, Role: core.RoleTeamLeader})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c4", PayeeRef: "p4", Period: oct, Role: core.RoleCopywriter,
		FinalCommission: ron(600)})

	store.SetAdSpend(oct, []core.AdSpend{
		{CampaignName: "Alpha - Lead Gen", Amount: ron(1000), Currency: "RON"},
		{CampaignName: "beta retargeting", Amount: ron(500), Currency: "RON"},
		{CampaignName: "Brand awareness", Amount: ron(250)},
	})
}

func expense(t *testing.T, store *memory.Store, key string) core.DerivedExpense {
	t.Helper()
	e, ok, err := store.FindExpenseByKey(context.Background(), reconcile.NormalizeKey(key))
	if err != nil || !ok {
		t.Fatalf("expense %q not found (err=%v)", key, err)
	}
	return e
}

func TestRunAllocationForPeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	alloc := newAllocator(t, store, store)

	rep := alloc.RunAllocationForPeriod(ctx, oct)
	if len(rep.Aborted) != 0 {
		t.Fatalf("unexpected aborted kinds: %v", rep.Aborted)
	}
	if total := rep.Total(); total.Created != 13 || total.Errors != 0 {
		t.Fatalf("expected 13 created and no errors, got %+v", total)
	}

	cases := []struct {
		key  string
		want int64
	}{
		// 1000 split 2:1, the odd cent goes to the larger remainder.
		{reconcile.SalesRepKey("c1", "Alpha"), 66667},
		{reconcile.SalesRepKey("c1", "Beta"), 33333},
		{reconcile.PersonKey(core.KindSetterCaller, core.RoleSetter, "Maria Ionescu", "Alpha", oct), 20000},
		{reconcile.PersonKey(core.KindSetterCaller, core.RoleSetter, "Maria Ionescu", "Beta", oct), 10000},
		// 30000 RON = 6000 EUR at 5% = 300 EUR = 1500 RON.
		{reconcile.PersonKey(core.KindTeamLeader, core.RoleTeamLeader, "Andrei Pop", "Alpha", oct), 100000},
		{reconcile.PersonKey(core.KindTeamLeader, core.RoleTeamLeader, "Andrei Pop", "Beta", oct), 50000},
		{reconcile.PersonKey(core.KindCopywriting, core.RoleCopywriter, "Elena Dobre", "Alpha", oct), 40000},
		{reconcile.PersonKey(core.KindCopywriting, core.RoleCopywriter, "Elena Dobre", "Beta", oct), 20000},
		// 2% of 23800 plus 1 RON; 5% of 11900.
		{reconcile.FeeKey("Stripe", "Alpha", oct), 47700},
		{reconcile.FeeKey("TBI", "Beta", oct), 59500},
		{reconcile.AdSpendKey("Alpha", oct), 100000},
		{reconcile.AdSpendKey("Beta", oct), 50000},
		{reconcile.AdSpendKey("Comun", oct), 25000},
	}
	for _, tc := range cases {
		if got := expense(t, store, tc.key).Amount.Cents; got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.key, tc.want, got)
		}
	}

	e := expense(t, store, reconcile.SalesRepKey("c1", "Alpha"))
	if e.Source != core.SourceAutomatic || e.Category != core.CategorySalesCommission {
		t.Fatalf("unexpected expense %+v", e)
	}
	if e.Description != "Comision vanzari - Ion Popescu - Octombrie 2025" {
		t.Fatalf("unexpected description %q", e.Description)
	}
	if !core.SameIDs(e.AssociatedSaleIDs, []string{"s1"}) {
		t.Fatalf("expected s1 linked, got %v", e.AssociatedSaleIDs)
	}

	setters, _ := store.ListCommissions(ctx, oct, core.RoleSetter)
	if len(setters) != 1 || !core.SameIDs(setters[0].LinkedSaleIDs, []string{"s1", "s2"}) {
		t.Fatalf("setter linked sales not refreshed: %+v", setters)
	}
}

func TestAllocationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	alloc := newAllocator(t, store, store)

	alloc.RunAllocationForPeriod(ctx, oct)
	before := len(store.Expenses())

	total := alloc.RunAllocationForPeriod(ctx, oct).Total()
	if total.Created != 0 || total.Updated != 0 || total.Unchanged != 13 {
		t.Fatalf("second run should change nothing, got %+v", total)
	}
	if after := len(store.Expenses()); after != before {
		t.Fatalf("expense count changed from %d to %d", before, after)
	}
}

func TestAllocationFollowsUpstreamCorrections(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	alloc := newAllocator(t, store, store).WithKinds(core.KindSalesRep)
	alloc.RunAllocationForPeriod(ctx, oct)

	store.SetSaleAmount("s2", ron(20000), ron(23800))
	c := alloc.RunAllocationForPeriod(ctx, oct).Kinds[core.KindSalesRep]
	if c.Updated != 2 || c.Created != 0 {
		t.Fatalf("expected both shares updated, got %+v", c)
	}
	if got := expense(t, store, reconcile.SalesRepKey("c1", "Beta")).Amount.Cents; got != 50000 {
		t.Fatalf("expected an even split after correction, got %d", got)
	}
}

func TestDebtIsNettedAndSettledOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c0", PayeeRef: "p1", Period: sep, Role: core.RoleSales,
		FinalCommission: ron(-300)})
	alloc := newAllocator(t, store, store).WithKinds(core.KindSalesRep)

	for i := 0; i < 2; i++ {
		alloc.RunAllocationForPeriod(ctx, oct)
		// 700 split 2:1.
		if got := expense(t, store, reconcile.SalesRepKey("c1", "Alpha")).Amount.Cents; got != 46667 {
			t.Fatalf("run %d: expected 46667, got %d", i, got)
		}
		settled, _ := store.ListSettlements(ctx, "p1")
		if len(settled) != 1 || settled[0].Amount != ron(300) || settled[0].ConsumedBy != oct {
			t.Fatalf("run %d: unexpected settlements %+v", i, settled)
		}
	}

	// The debt is paid off, November pays in full.
	store.AddSale(core.Sale{ID: "s9", Project: "Alpha", AmountExclVat: ron(1000), Period: nov})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c9", PayeeRef: "p1", Period: nov, Role: core.RoleSales,
		FinalCommission: ron(500), LinkedSaleIDs: []string{"s9"}})
	alloc.RunAllocationForPeriod(ctx, nov)
	if got := expense(t, store, reconcile.SalesRepKey("c9", "Alpha")).Amount; got != ron(500) {
		t.Fatalf("expected full November commission, got %s", got)
	}
}

func TestDebtLargerThanCommission(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c0", PayeeRef: "p1", Period: sep, Role: core.RoleSales,
		FinalCommission: ron(-1500)})
	alloc := newAllocator(t, store, store).WithKinds(core.KindSalesRep)

	c := alloc.RunAllocationForPeriod(ctx, oct).Kinds[core.KindSalesRep]
	if c.Created != 0 || c.Skipped != 1 {
		t.Fatalf("expected no expense and one skip, got %+v", c)
	}
	settled, _ := store.ListSettlements(ctx, "p1")
	if len(settled) != 1 || settled[0].Amount != ron(1000) {
		t.Fatalf("October should absorb its whole gross, got %+v", settled)
	}

	store.AddSale(core.Sale{ID: "s9", Project: "Alpha", AmountExclVat: ron(1000), Period: nov})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c9", PayeeRef: "p1", Period: nov, Role: core.RoleSales,
		FinalCommission: ron(800), LinkedSaleIDs: []string{"s9"}})
	alloc.RunAllocationForPeriod(ctx, nov)
	if got := expense(t, store, reconcile.SalesRepKey("c9", "Alpha")).Amount; got != ron(300) {
		t.Fatalf("expected 800 - 500 remaining debt, got %s", got)
	}
}

func TestDebtIsNettedOncePerPayee(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	store.AddPayee(core.Payee{ID: "p5", Name: "Radu Stan", Roles: []core.Role{core.RoleSetter, core.RoleCaller}})
	store.AddSale(core.Sale{ID: "s5", Project: "Alpha", AmountExclVat: ron(1000), AmountInclVat: ron(1190),
		CampaignTag: "FB_RaduStan_Oct", Period: oct})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c5", PayeeRef: "p5", Period: oct, Role: core.RoleSetter,
		FinalCommission: ron(300)})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c6", PayeeRef: "p5", Period: oct, Role: core.RoleCaller,
		FinalCommission: ron(300)})
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c0", PayeeRef: "p5", Period: sep, Role: core.RoleSetter,
		FinalCommission: ron(-100)})
	alloc := newAllocator(t, store, store).WithKinds(core.KindSetterCaller)

	setterKey := reconcile.PersonKey(core.KindSetterCaller, core.RoleSetter, "Radu Stan", "Alpha", oct)
	callerKey := reconcile.PersonKey(core.KindSetterCaller, core.RoleCaller, "Radu Stan", "Alpha", oct)
	for i := 0; i < 2; i++ {
		rep := alloc.RunAllocationForPeriod(ctx, oct)
		if rep.SettlementErrors != 0 {
			t.Fatalf("run %d: settlement errors %d", i, rep.SettlementErrors)
		}
		setter := expense(t, store, setterKey).Amount
		caller := expense(t, store, callerKey).Amount
		if setter != ron(200) || caller != ron(300) {
			t.Fatalf("run %d: the 100 debt must be deducted once, got setter %s caller %s", i, setter, caller)
		}
		settled, _ := store.ListSettlements(ctx, "p5")
		if len(settled) != 1 || settled[0].Amount != ron(100) || settled[0].DebtRecordID != "c0" {
			t.Fatalf("run %d: unexpected settlements %+v", i, settled)
		}
	}
}

func TestRerunZeroesExpensesNoLongerProduced(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	alloc := newAllocator(t, store, store)
	alloc.RunAllocationForPeriod(ctx, oct)
	before := len(store.Expenses())

	// A debt surfaces that swallows the whole October commission.
	store.AddCommission(core.MonthlyCommissionRecord{ID: "c0", PayeeRef: "p1", Period: sep, Role: core.RoleSales,
		FinalCommission: ron(-5000)})
	c := alloc.RunAllocationForPeriod(ctx, oct).Kinds[core.KindSalesRep]
	if c.Skipped != 1 || c.Updated != 2 || c.Errors != 0 {
		t.Fatalf("expected both shares zeroed, got %+v", c)
	}
	for _, project := range []string{"Alpha", "Beta"} {
		if got := expense(t, store, reconcile.SalesRepKey("c1", project)).Amount; !got.IsZero() {
			t.Fatalf("%s: expected zero after debt, got %s", project, got)
		}
	}
	if after := len(store.Expenses()); after != before {
		t.Fatalf("expenses must be zeroed, not deleted: %d before, %d after", before, after)
	}

	// A second rerun has nothing left to change.
	if c := alloc.RunAllocationForPeriod(ctx, oct).Kinds[core.KindSalesRep]; c.Updated != 0 {
		t.Fatalf("zeroed expenses must stay put, got %+v", c)
	}
}

func TestRerunZeroesProjectThatDroppedOut(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	alloc := newAllocator(t, store, store).WithKinds(core.KindSalesRep)
	alloc.RunAllocationForPeriod(ctx, oct)

	if err := store.UpdateLinkedSales(ctx, "c1", []string{"s1"}); err != nil {
		t.Fatal(err)
	}
	c := alloc.RunAllocationForPeriod(ctx, oct).Kinds[core.KindSalesRep]
	if c.Updated != 2 {
		t.Fatalf("expected Alpha raised and Beta zeroed, got %+v", c)
	}
	if got := expense(t, store, reconcile.SalesRepKey("c1", "Alpha")).Amount; got != ron(1000) {
		t.Fatalf("Alpha should take the whole commission, got %s", got)
	}
	if got := expense(t, store, reconcile.SalesRepKey("c1", "Beta")).Amount; !got.IsZero() {
		t.Fatalf("Beta should be zeroed, got %s", got)
	}
}

// failingWrites rejects the creation of one natural key.
type failingWrites struct {
	*memory.Store
	key string
}

func (f failingWrites) CreateExpense(ctx context.Context, e core.DerivedExpense) (core.DerivedExpense, error) {
	if e.NaturalKey == f.key {
		return core.DerivedExpense{}, errors.New("quota exceeded")
	}
	return f.Store.CreateExpense(ctx, e)
}

func TestWriteFailureDoesNotStopSiblingGroups(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	failing := failingWrites{Store: store, key: reconcile.NormalizeKey(reconcile.SalesRepKey("c1", "Alpha"))}
	alloc := services.NewAllocator(store, debt.NewLedger(store, store), reconcile.New(failing, failing), config(t))

	rep := alloc.RunAllocationForPeriod(ctx, oct)
	if len(rep.Aborted) != 0 {
		t.Fatalf("a failed write must not abort the kind: %v", rep.Aborted)
	}
	if c := rep.Kinds[core.KindSalesRep]; c.Errors != 1 || c.Created != 1 {
		t.Fatalf("expected one error and Beta created, got %+v", c)
	}
	if _, ok, _ := store.FindExpenseByKey(ctx, failing.key); ok {
		t.Fatalf("failed expense must not exist")
	}
	if got := expense(t, store, reconcile.SalesRepKey("c1", "Beta")).Amount.Cents; got != 33333 {
		t.Fatalf("Beta share must still be written, got %d", got)
	}
	if total := rep.Total(); total.Created != 12 || total.Errors != 1 {
		t.Fatalf("other kinds must be unaffected, got %+v", total)
	}
}

func TestManualExpenseIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	key := reconcile.SalesRepKey("c1", "Alpha")
	store.AddExpense(core.DerivedExpense{
		NaturalKey: key, Name: "Ion Popescu", Description: "corrected by hand", Project: "Alpha",
		Category: core.CategorySalesCommission, Amount: ron(1), Period: oct, Source: core.SourceManual,
	})
	alloc := newAllocator(t, store, store).WithKinds(core.KindSalesRep)

	c := alloc.RunAllocationForPeriod(ctx, oct).Kinds[core.KindSalesRep]
	if c.Skipped != 1 || c.Created != 1 {
		t.Fatalf("expected manual share skipped and Beta created, got %+v", c)
	}
	if got := expense(t, store, key); got.Amount != ron(1) || got.Description != "corrected by hand" {
		t.Fatalf("manual expense was modified: %+v", got)
	}
}

func TestForeignCurrencyAbortsAdSpendOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	store.SetAdSpend(oct, []core.AdSpend{
		{CampaignName: "Alpha", Amount: ron(100), Currency: "RON"},
		{CampaignName: "Beta", Amount: ron(100), Currency: "EUR"},
	})
	rep := newAllocator(t, store, store).RunAllocationForPeriod(ctx, oct)

	if _, ok := rep.Aborted[core.KindAdSpend]; !ok || len(rep.Aborted) != 1 {
		t.Fatalf("expected only ad-spend aborted, got %v", rep.Aborted)
	}
	if c := rep.Kinds[core.KindAdSpend]; c.Errors != 1 || c.Created != 0 {
		t.Fatalf("unexpected ad-spend counts %+v", c)
	}
	if _, ok, _ := store.FindExpenseByKey(ctx, reconcile.AdSpendKey("Alpha", oct)); ok {
		t.Fatalf("no ad spend may be written when a currency is wrong")
	}
	if c := rep.Kinds[core.KindSalesRep]; c.Created != 2 {
		t.Fatalf("sales-rep must still run, got %+v", c)
	}
}

type panickySource struct{ *memory.Store }

func (panickySource) ListAdSpend(context.Context, core.Period) ([]core.AdSpend, error) {
	panic("boom")
}

func TestPanicInKindIsContained(t *testing.T) {
	store := memory.New()
	seed(store)
	rep := newAllocator(t, panickySource{store}, store).RunAllocationForPeriod(context.Background(), oct)

	if _, ok := rep.Aborted[core.KindAdSpend]; !ok {
		t.Fatalf("expected ad-spend aborted, got %v", rep.Aborted)
	}
	if c := rep.Kinds[core.KindCopywriting]; c.Created != 2 {
		t.Fatalf("kinds after the panic must still run, got %+v", c)
	}
}

func TestUnknownPaymentMethodIsSkipped(t *testing.T) {
	store := memory.New()
	seed(store)
	store.AddSale(core.Sale{ID: "s3", Project: "Beta", AmountExclVat: ron(100), AmountInclVat: ron(119),
		PaymentMethod: "Cash", Period: oct})
	c := newAllocator(t, store, store).WithKinds(core.KindPaymentFee).
		RunAllocationForPeriod(context.Background(), oct).Kinds[core.KindPaymentFee]
	if c.Created != 2 || c.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func newRunner(t *testing.T, src sheets.Source, store *memory.Store) *services.Runner {
	t.Helper()
	cfg := config(t)
	rec := reconcile.New(store, store)
	agg, err := pnl.NewAggregator(src, store, rec, cfg.Rate)
	if err != nil {
		t.Fatal(err)
	}
	alloc := services.NewAllocator(src, debt.NewLedger(src, store), rec, cfg)
	return services.NewRunner(alloc, services.NewPnLService(agg), services.NewMaintenance(store))
}

func TestRunPeriods(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(store)
	runner := newRunner(t, store, store)

	rep, err := runner.RunPeriods(ctx, []core.Period{sep, oct}, services.ScopeAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Periods) != 2 || rep.Periods[1].Allocation == nil || rep.Periods[1].PnL == nil {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Totals.Errors != 0 || rep.Totals.Created == 0 {
		t.Fatalf("unexpected totals %+v", rep.Totals)
	}

	lines, _ := store.ListPnLLines(ctx, "Alpha", oct)
	var revenue core.Money
	for _, l := range lines {
		if l.Bucket == core.BucketSummary && l.Label == core.LabelRevenue {
			revenue = l.AmountRon
		}
	}
	if revenue != ron(20000) {
		t.Fatalf("expected Alpha revenue 20000, got %s (lines %d)", revenue, len(lines))
	}
	if lines, _ := store.ListPnLLines(ctx, "Comun", oct); len(lines) == 0 {
		t.Fatalf("shared project with expenses only must get a P&L")
	}

	rep, err = runner.RunPeriods(ctx, []core.Period{oct}, services.ScopePnL)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Periods[0].Allocation != nil || rep.Totals.Created != 0 || rep.Totals.Updated != 0 {
		t.Fatalf("P&L rerun should only confirm lines, got %+v", rep.Totals)
	}
}

// blockingSource holds ListSales until release is closed.
type blockingSource struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (b blockingSource) ListSales(ctx context.Context, p core.Period) ([]core.Sale, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Store.ListSales(ctx, p)
}

func TestRunnerAdmitsOneRun(t *testing.T) {
	store := memory.New()
	seed(store)
	src := blockingSource{Store: store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	runner := newRunner(t, src, store)

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunPeriods(context.Background(), []core.Period{oct}, services.ScopePnL)
		done <- err
	}()
	<-src.entered

	if _, err := runner.RunPeriods(context.Background(), []core.Period{oct}, services.ScopePnL); !errors.Is(err, services.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(src.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]services.Scope{
		"":           services.ScopeAll,
		"ALL":        services.ScopeAll,
		" pnl ":      services.ScopePnL,
		"allocation": services.ScopeAllocation,
		"cleanup":    services.ScopeCleanup,
	} {
		got, err := services.ParseScope(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := services.ParseScope("everything"); err == nil {
		t.Fatalf("expected error for unknown scope")
	}
}

func TestCleanupMergesDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	t0 := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)

	base := core.DerivedExpense{
		Name: "Ion Popescu", Project: "Alpha", Category: core.CategorySalesCommission,
		Period: oct, Source: core.SourceAutomatic, Kind: core.KindSalesRep,
	}
	first := base
	first.NaturalKey, first.Amount, first.Description = "Sales-Rep|C1|Alpha", ron(100), "old"
	first.AssociatedSaleIDs, first.UpdatedAt = []string{"s1"}, t0
	first = store.AddExpense(first)

	second := base
	second.NaturalKey, second.Amount, second.Description = "sales-rep|c1|alpha ", ron(200), "new"
	second.AssociatedSaleIDs, second.UpdatedAt = []string{"s2"}, t0.Add(time.Hour)
	store.AddExpense(second)

	nameless := base
	nameless.Name = ""
	nameless.NaturalKey = reconcile.SalesRepKey("c2", "Beta")
	nameless.Project = "Beta"
	nameless.Amount = ron(50)
	nameless.Description = core.Describe(core.KindSalesRep, "Ana Maria", oct)
	store.AddExpense(nameless)

	manual := base
	manual.NaturalKey, manual.Source, manual.Amount, manual.Description = "Chirie", core.SourceManual, ron(10), "rent"
	manual.Category = core.CategoryRent
	store.AddExpense(manual)

	res, err := services.NewMaintenance(store).Cleanup(ctx, oct)
	if err != nil {
		t.Fatal(err)
	}
	if res.Merged != 1 || res.Deleted != 1 || res.Backfilled != 1 || res.Errors != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	all := store.Expenses()
	if len(all) != 3 {
		t.Fatalf("expected 3 expenses left, got %d", len(all))
	}
	survivor := all[0]
	if survivor.ID != first.ID || survivor.NaturalKey != reconcile.SalesRepKey("c1", "Alpha") {
		t.Fatalf("lowest id must survive under the normalised key, got %+v", survivor)
	}
	if survivor.Amount != ron(200) || survivor.Description != "new" {
		t.Fatalf("survivor must take the latest values, got %+v", survivor)
	}
	if !core.SameIDs(survivor.AssociatedSaleIDs, []string{"s1", "s2"}) {
		t.Fatalf("linked sales must be unioned, got %v", survivor.AssociatedSaleIDs)
	}
	if got := expense(t, store, reconcile.SalesRepKey("c2", "Beta")).Name; got != "Ana Maria" {
		t.Fatalf("expected backfilled name, got %q", got)
	}
	if m := all[2]; m.NaturalKey != "Chirie" || m.Amount != ron(10) {
		t.Fatalf("manual expense changed: %+v", m)
	}

	again, err := services.NewMaintenance(store).Cleanup(ctx, oct)
	if err != nil || again != (services.CleanupResult{}) {
		t.Fatalf("second cleanup should be a no-op, got %+v (%v)", again, err)
	}
}
