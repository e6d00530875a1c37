package pnl

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"comisioane/internal/core"
	"comisioane/internal/reconcile"
	"comisioane/internal/sheets/memory"
)

var oct = core.MustParsePeriod("Octombrie 2025")

func rate(t *testing.T) core.EURRate {
	t.Helper()
	r, err := core.NewEURRate(decimal.RequireFromString("5"))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func expense(name string, cat core.Category, cents int64) core.DerivedExpense {
	return core.DerivedExpense{
		NaturalKey:  name + cat.String(),
		Name:        name,
		Description: "d " + name,
		Project:     "Alpha",
		Category:    cat,
		Amount:      core.Money{Cents: cents},
		Period:      oct,
		Source:      core.SourceAutomatic,
	}
}

func find(lines []core.PnLLine, label string) (core.PnLLine, bool) {
	for _, l := range lines {
		if l.Label == label {
			return l, true
		}
	}
	return core.PnLLine{}, false
}

func TestBuildReconciles(t *testing.T) {
	second := expense("Meta", core.CategoryAdvertising, 5_000)
	second.NaturalKey = "ad-spend|meta|2"
	expenses := []core.DerivedExpense{
		expense("Ion", core.CategorySetterCommission, 10_000),
		expense("Ana", core.CategorySalesCommission, 20_000),
		expense("Meta", core.CategoryAdvertising, 5_000),
		second,
		expense("Zero", core.CategoryCopywriting, 0),
	}
	manual := expense("Chirie", core.CategoryRent, 99_999)
	manual.Source = core.SourceManual
	other := expense("Ion", core.CategorySetterCommission, 1)
	other.Project = "Beta"
	expenses = append(expenses, manual, other)

	st, err := Build("Alpha", oct, core.Money{Cents: 100_000}, expenses, rate(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalExpense.Cents != 40_000 {
		t.Fatalf("expected 40000 total expense, got %d", st.TotalExpense.Cents)
	}
	if st.Profit.Cents != 60_000 || !st.Margin.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("unexpected profit %d margin %s", st.Profit.Cents, st.Margin)
	}
	// one line per expense (4) + 4 summary lines
	if len(st.Lines) != 8 {
		t.Fatalf("expected 8 lines, got %d: %+v", len(st.Lines), st.Lines)
	}
	for _, label := range []string{"Reclame - Meta (MetaReclame)", "Reclame - Meta (ad-spend|meta|2)"} {
		ads, ok := find(st.Lines, label)
		if !ok || ads.AmountRon.Cents != 5_000 || ads.AmountEur.Cents != 1_000 || ads.Bucket != core.BucketMarketing {
			t.Fatalf("%s: unexpected line %+v (found=%v)", label, ads, ok)
		}
	}
	if _, ok := find(st.Lines, "Reclame - Meta"); ok {
		t.Fatalf("expenses sharing a label must not collapse into one line")
	}
	var sum int64
	for _, l := range st.Lines {
		if l.Bucket != core.BucketSummary {
			sum += l.AmountRon.Cents
		}
	}
	total, _ := find(st.Lines, core.LabelTotalExpense)
	if sum != total.AmountRon.Cents {
		t.Fatalf("expense lines %d do not sum to TotalExpense %d", sum, total.AmountRon.Cents)
	}
	margin, _ := find(st.Lines, core.LabelProfitMargin)
	if !margin.AmountRon.IsZero() || margin.Description != "60.00%" {
		t.Fatalf("unexpected margin line %+v", margin)
	}
}

func TestBuildZeroRevenue(t *testing.T) {
	st, err := Build("Alpha", oct, core.Money{}, []core.DerivedExpense{expense("Ion", core.CategorySetterCommission, 500)}, rate(t))
	if err != nil {
		t.Fatal(err)
	}
	if !st.Margin.IsZero() || st.Profit.Cents != -500 {
		t.Fatalf("expected zero margin and negative profit, got %s %d", st.Margin, st.Profit.Cents)
	}
}

func TestMarginRounding(t *testing.T) {
	got := Margin(core.Money{Cents: 1}, core.Money{Cents: 3})
	if got.StringFixed(2) != "33.33" {
		t.Fatalf("unexpected margin %s", got)
	}
	got = Margin(core.Money{Cents: 2}, core.Money{Cents: 3})
	if got.StringFixed(2) != "66.67" {
		t.Fatalf("unexpected margin %s", got)
	}
}

func TestBuildRejectsUnmappedCategory(t *testing.T) {
	bad := expense("X", core.Category(0), 1)
	if _, err := Build("Alpha", oct, core.Money{}, []core.DerivedExpense{bad}, rate(t)); err == nil {
		t.Fatalf("expected error for unmapped category")
	}
}

func TestAggregatorIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.AddSale(core.Sale{ID: "s1", Project: "Alpha", AmountExclVat: core.Money{Cents: 100_000}, Period: oct})
	store.AddSale(core.Sale{ID: "s2", Project: "Beta", AmountExclVat: core.Money{Cents: 50_000}, Period: oct})
	store.AddExpense(expense("Ion", core.CategorySetterCommission, 10_000))

	agg, err := NewAggregator(store, store, reconcile.New(store, store), rate(t))
	if err != nil {
		t.Fatal(err)
	}
	first, err := agg.RunForPeriod(ctx, oct)
	if err != nil {
		t.Fatal(err)
	}
	// Alpha: 1 expense + 4 summary, Beta: 4 summary
	if first.Projects != 2 || first.Created != 9 || first.Errors != 0 {
		t.Fatalf("unexpected first run %+v", first)
	}
	second, _ := agg.RunForPeriod(ctx, oct)
	if second.Created != 0 || second.Updated != 0 || second.Unchanged != 9 {
		t.Fatalf("second run must be a no-op, got %+v", second)
	}

	// Revenue is recomputed from scratch.
	store.SetSaleAmount("s1", core.Money{Cents: 200_000}, core.Money{Cents: 238_000})
	third, _ := agg.RunForPeriod(ctx, oct)
	// Revenue, TotalProfit and ProfitMargin change for Alpha.
	if third.Updated != 3 || third.Created != 0 {
		t.Fatalf("unexpected third run %+v", third)
	}
	lines, _ := store.ListPnLLines(ctx, "Alpha", oct)
	rev, _ := find(lines, core.LabelRevenue)
	if rev.AmountRon.Cents != 200_000 {
		t.Fatalf("revenue not recomputed: %+v", rev)
	}
}

func TestAggregatorZeroesLinesOfRetiredExpenses(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.AddSale(core.Sale{ID: "s1", Project: "Alpha", AmountExclVat: core.Money{Cents: 100_000}, Period: oct})
	e := store.AddExpense(expense("Ion", core.CategorySetterCommission, 10_000))

	agg, err := NewAggregator(store, store, reconcile.New(store, store), rate(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := agg.RunForPeriod(ctx, oct); err != nil {
		t.Fatal(err)
	}

	e.Amount = core.Money{}
	if err := store.UpdateExpense(ctx, e); err != nil {
		t.Fatal(err)
	}
	res, err := agg.RunForPeriod(ctx, oct)
	if err != nil {
		t.Fatal(err)
	}
	// The expense line is zeroed; TotalExpense, TotalProfit and ProfitMargin change.
	if res.Updated != 4 || res.Created != 0 || res.Errors != 0 {
		t.Fatalf("unexpected rerun %+v", res)
	}
	lines, _ := store.ListPnLLines(ctx, "Alpha", oct)
	var sum int64
	for _, l := range lines {
		if l.Bucket != core.BucketSummary {
			sum += l.AmountRon.Cents
		}
	}
	total, _ := find(lines, core.LabelTotalExpense)
	if sum != 0 || !total.AmountRon.IsZero() {
		t.Fatalf("expected no expense left, lines sum %d total %s", sum, total.AmountRon)
	}
}
