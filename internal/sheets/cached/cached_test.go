package cached_test

import (
	"context"
	"testing"
	"time"

	"comisioane/internal/cache"
	"comisioane/internal/core"
	"comisioane/internal/sheets"
	"comisioane/internal/sheets/cached"
	"comisioane/internal/sheets/memory"
)

var oct = core.MustParsePeriod("Octombrie 2025")

// counting records how often each call reached the wrapped source.
type counting struct {
	sheets.Source
	calls map[string]int
}

func (c *counting) ListPayees(ctx context.Context) ([]core.Payee, error) {
	c.calls["payees"]++
	return c.Source.ListPayees(ctx)
}

func (c *counting) ListSales(ctx context.Context, p core.Period) ([]core.Sale, error) {
	c.calls["sales"]++
	return c.Source.ListSales(ctx, p)
}

func (c *counting) ListCommissions(ctx context.Context, p core.Period, roles ...core.Role) ([]core.MonthlyCommissionRecord, error) {
	c.calls["commissions"]++
	return c.Source.ListCommissions(ctx, p, roles...)
}

func (c *counting) ListAdSpend(ctx context.Context, p core.Period) ([]core.AdSpend, error) {
	c.calls["adspend"]++
	return c.Source.ListAdSpend(ctx, p)
}

func setup() (*cached.Source, *counting) {
	mem := memory.New()
	mem.AddPayee(core.Payee{ID: "p1", Name: "Ion Popescu", Roles: []core.Role{core.RoleSales}})
	mem.AddSale(core.Sale{ID: "s1", Project: "Alpha", AmountExclVat: core.Money{Cents: 100}, Period: oct})
	mem.AddCommission(core.MonthlyCommissionRecord{ID: "c1", PayeeRef: "p1", Period: oct, Role: core.RoleSales, FinalCommission: core.Money{Cents: 50}})
	c := &counting{Source: mem, calls: map[string]int{}}
	return cached.New(c, time.Minute, 16), c
}

func TestDirectoryIsReadOnce(t *testing.T) {
	src, c := setup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := src.ListPayees(ctx); err != nil {
			t.Fatal(err)
		}
	}
	p, ok, err := src.GetPayee(ctx, "p1")
	if err != nil || !ok || p.Name != "Ion Popescu" {
		t.Fatalf("GetPayee = %+v %v %v", p, ok, err)
	}
	if _, ok, _ := src.FindPayeeByName(ctx, " ion popescu "); !ok {
		t.Error("FindPayeeByName should match case-insensitively")
	}
	if c.calls["payees"] != 1 {
		t.Errorf("payees read %d times, want 1", c.calls["payees"])
	}
}

func TestSalesCachedPerPeriod(t *testing.T) {
	src, c := setup()
	ctx := context.Background()
	nov := oct.Next()

	_, _ = src.ListSales(ctx, oct)
	_, _ = src.ListSales(ctx, oct)
	_, _ = src.ListSales(ctx, nov)
	if c.calls["sales"] != 2 {
		t.Errorf("sales read %d times, want 2", c.calls["sales"])
	}
	src.Invalidate()
	_, _ = src.ListSales(ctx, oct)
	if c.calls["sales"] != 3 {
		t.Errorf("sales read %d times after invalidate, want 3", c.calls["sales"])
	}
}

func TestUpdateLinkedSalesInvalidatesCommissions(t *testing.T) {
	src, c := setup()
	ctx := context.Background()

	recs, _ := src.ListCommissions(ctx, oct, core.RoleSales)
	if len(recs) != 1 || len(recs[0].LinkedSaleIDs) != 0 {
		t.Fatalf("commissions = %+v", recs)
	}
	_, _ = src.ListCommissions(ctx, oct, core.RoleSales)
	if c.calls["commissions"] != 1 {
		t.Fatalf("commissions read %d times, want 1", c.calls["commissions"])
	}
	if err := src.UpdateLinkedSales(ctx, "c1", []string{"s1"}); err != nil {
		t.Fatal(err)
	}
	recs, _ = src.ListCommissions(ctx, oct, core.RoleSales)
	if c.calls["commissions"] != 2 || !core.SameIDs(recs[0].LinkedSaleIDs, []string{"s1"}) {
		t.Errorf("after update: calls %d, recs %+v", c.calls["commissions"], recs)
	}
}

func TestAdSpendReadsThrough(t *testing.T) {
	src, c := setup()
	_, _ = src.ListAdSpend(context.Background(), oct)
	_, _ = src.ListAdSpend(context.Background(), oct)
	if c.calls["adspend"] != 2 {
		t.Errorf("ad spend read %d times, want 2", c.calls["adspend"])
	}
}

func TestRegisterWithManager(t *testing.T) {
	src, _ := setup()
	_, _ = src.ListPayees(context.Background())
	m := cache.NewManager()
	src.Register(m)
	if n := m.CleanNow(); n != 0 {
		t.Errorf("fresh entries cleaned: %d", n)
	}
	if st := src.Stats(); st.Misses != 1 {
		t.Errorf("stats = %+v", st)
	}
}
