package adapters

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"comisioane/internal/core"
	"comisioane/internal/sheets/memory"
	"comisioane/internal/storage"
)

const seedDoc = `{
  "payees": [
    {"id": "p1", "name": "Ion Popescu", "roles": "Sales"},
    {"id": "p2", "name": "Maria Ionescu", "roles": ["Setter", "Caller"]}
  ],
  "sales": [
    {"id": "s1", "project": "Alpha", "amount_excl_vat": "200", "amount_incl_vat": "238",
     "payment_method": "Stripe", "campaign_tag": "FB_MariaIonescu", "period": "Octombrie 2025"}
  ],
  "commissions": [
    {"id": "c1", "payee": "p1", "role": "Sales", "final_commission": "-12,50", "linked_sales": ["s1"], "period": "Octombrie 2025"}
  ],
  "ad_spend": [
    {"period": "Octombrie 2025", "campaigns": [{"name": "Alpha_Leads", "amount": "1000", "currency": "ron"}]}
  ]
}`

var oct = core.MustParsePeriod("Octombrie 2025")

func TestImportIntoMemory(t *testing.T) {
	seed, err := LoadSeed(strings.NewReader(seedDoc))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	store := memory.New()
	res, err := Import(context.Background(), NewMemoryWriter(store), seed)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res != (ImportResult{Payees: 2, Sales: 1, Commissions: 1, AdSpend: 1}) {
		t.Errorf("result = %+v", res)
	}

	ctx := context.Background()
	p, ok, _ := store.GetPayee(ctx, "p2")
	if !ok || !core.HasRole(p.Roles, core.RoleCaller) {
		t.Errorf("p2 = %+v", p)
	}
	recs, _ := store.ListNegativeCommissions(ctx, "p1", oct.Next())
	if len(recs) != 1 || recs[0].FinalCommission.Cents != -1250 {
		t.Errorf("negative commissions = %+v", recs)
	}
	spend, _ := store.ListAdSpend(ctx, oct)
	if len(spend) != 1 || spend[0].Currency != "RON" {
		t.Errorf("ad spend = %+v", spend)
	}
}

func TestImportIntoSQLite(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	seed, _ := LoadSeed(strings.NewReader(seedDoc))
	if _, err := Import(context.Background(), repo, seed); err != nil {
		t.Fatalf("Import: %v", err)
	}
	sales, err := repo.ListSales(context.Background(), oct)
	if err != nil || len(sales) != 1 || sales[0].AmountInclVat.Cents != 23800 {
		t.Errorf("sales = %+v, %v", sales, err)
	}
}

func TestImportReportsBadRows(t *testing.T) {
	doc := `{"sales": [
	  {"id": "ok", "project": "A", "amount_excl_vat": "1", "amount_incl_vat": "1.19", "period": "Mai 2025"},
	  {"id": "bad-period", "project": "A", "amount_excl_vat": "1", "amount_incl_vat": "1", "period": "May 2025"},
	  {"id": "bad-amount", "project": "A", "amount_excl_vat": "one", "amount_incl_vat": "1", "period": "Mai 2025"}
	]}`
	seed, err := LoadSeed(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	res, err := Import(context.Background(), NewMemoryWriter(memory.New()), seed)
	if !errors.Is(err, core.ErrValidationSkip) {
		t.Fatalf("err = %v, want ErrValidationSkip", err)
	}
	if res.Sales != 1 {
		t.Errorf("valid rows should still be imported, got %+v", res)
	}
	for _, id := range []string{"bad-period", "bad-amount"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("error should name %s: %v", id, err)
		}
	}
}

func TestLoadSeedRejectsUnknownFields(t *testing.T) {
	if _, err := LoadSeed(strings.NewReader(`{"expenses": []}`)); err == nil {
		t.Error("unknown top-level field should fail")
	}
}
