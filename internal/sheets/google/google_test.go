package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"comisioane/internal/core"
	"comisioane/internal/pacing"
)

var (
	oct = core.MustParsePeriod("Octombrie 2025")
	nov = core.MustParsePeriod("Noiembrie 2025")
)

func salesValues() [][]interface{} {
	return [][]interface{}{
		{"ID", "Proiect", "Sumă fără TVA", "Suma cu TVA", "Metoda plata", "Campanie", "Luna"},
		{"s1", "Alpha", 200.0, 238.0, "Stripe", "FB_MariaIonescu", "Octombrie 2025"},
		{"s2", "Beta", "1.234,50", "1469,06", "TBI", "", "Octombrie 2025"},
		{},
		{"s3", "Alpha", 100.0, 119.0, "Stripe", "", "Noiembrie 2025"},
		{"s4", "Alpha", "abc", 119.0, "Stripe", "", "Octombrie 2025"},
		{"s5", "Alpha", 100.0, 119.0, "Stripe", "", "Brumar 2025"},
	}
}

func TestParseSales(t *testing.T) {
	sales, err := parseSales(context.Background(), salesValues())
	if err != nil {
		t.Fatalf("parseSales: %v", err)
	}
	if len(sales) != 3 {
		t.Fatalf("got %d sales, want 3 (malformed rows skipped): %+v", len(sales), sales)
	}
	s1 := sales[0]
	if s1.ID != "s1" || s1.Project != "Alpha" || s1.AmountExclVat.Cents != 20000 || s1.AmountInclVat.Cents != 23800 {
		t.Errorf("s1 = %+v", s1)
	}
	if s1.Period != oct || s1.CampaignTag != "FB_MariaIonescu" || s1.PaymentMethod != "Stripe" {
		t.Errorf("s1 = %+v", s1)
	}
	if sales[1].AmountExclVat.Cents != 123450 || sales[1].AmountInclVat.Cents != 146906 {
		t.Errorf("s2 amounts = %v / %v", sales[1].AmountExclVat, sales[1].AmountInclVat)
	}
	if sales[2].Period != nov {
		t.Errorf("s3 period = %v", sales[2].Period)
	}
}

func TestParseMissingColumns(t *testing.T) {
	values := [][]interface{}{{"ID", "Proiect"}, {"s1", "Alpha"}}
	_, err := parseSales(context.Background(), values)
	if !errors.Is(err, core.ErrCredentialOrConfig) {
		t.Fatalf("err = %v, want ErrCredentialOrConfig", err)
	}
	if !strings.Contains(err.Error(), "suma fara tva") || !strings.Contains(err.Error(), "luna") {
		t.Errorf("error should name the missing columns: %v", err)
	}

	sales, err := parseSales(context.Background(), nil)
	if err != nil || len(sales) != 0 {
		t.Errorf("empty tab: %v, %v", sales, err)
	}
}

func TestParseCommissions(t *testing.T) {
	values := [][]interface{}{
		{"ID", "Persoana", "Rol", "Comision final", "Vanzari", "Luna"},
		{"c1", "p1", "Sales", 1000.0, "s2, s1", "Octombrie 2025"},
		{"c2", "p2", "setter", "-700", "", "Septembrie 2025"},
		{"c3", "p3", "dansator", 10.0, "", "Octombrie 2025"},
	}
	rows, err := parseCommissions(context.Background(), values)
	if err != nil {
		t.Fatalf("parseCommissions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	c1 := rows[0].rec
	if c1.Role != core.RoleSales || c1.FinalCommission.Cents != 100000 || rows[0].row != 2 {
		t.Errorf("c1 = %+v row %d", c1, rows[0].row)
	}
	if !core.SameIDs(c1.LinkedSaleIDs, []string{"s1", "s2"}) {
		t.Errorf("linked = %v", c1.LinkedSaleIDs)
	}
	if rows[1].rec.FinalCommission.Cents != -70000 || rows[1].rec.Role != core.RoleSetter {
		t.Errorf("c2 = %+v", rows[1].rec)
	}
}

func TestParsePayees(t *testing.T) {
	values := [][]interface{}{
		{"ID", "Nume", "Roluri"},
		{"p1", "Ion Popescu", "Sales, TL"},
		{"p2", "Maria Ionescu", "Setter;Caller"},
		{"p3", "Nobody", "Astronaut"},
	}
	payees, err := parsePayees(context.Background(), values)
	if err != nil {
		t.Fatalf("parsePayees: %v", err)
	}
	if len(payees) != 2 {
		t.Fatalf("got %d payees, want 2", len(payees))
	}
	if !core.HasRole(payees[0].Roles, core.RoleTeamLeader) || !core.HasRole(payees[1].Roles, core.RoleCaller) {
		t.Errorf("roles = %v / %v", payees[0].Roles, payees[1].Roles)
	}
}

func TestParseAdSpend(t *testing.T) {
	values := [][]interface{}{
		{"Campanie", "Suma", "Moneda", "Luna"},
		{"Alpha_Leads", 1000.0, "ron", "Octombrie 2025"},
		{"Beta_Retarget", 500.0, "", "Octombrie 2025"},
		{"Alpha_Leads", 900.0, "RON", "Noiembrie 2025"},
	}
	spend, err := parseAdSpend(context.Background(), values, oct)
	if err != nil {
		t.Fatalf("parseAdSpend: %v", err)
	}
	if len(spend) != 2 {
		t.Fatalf("got %d rows, want 2", len(spend))
	}
	if spend[0].Currency != "RON" || spend[0].Amount.Cents != 100000 {
		t.Errorf("row 0 = %+v", spend[0])
	}
}

func TestMoneyCell(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
		err  bool
	}{
		{12.5, 1250, false},
		{"12,345", 1235, false},
		{"1.234,5", 123450, false},
		{"-3", -300, false},
		{"", 0, false},
		{nil, 0, false},
		{"x", 0, true},
		{true, 0, true},
	}
	for _, tt := range tests {
		got, err := money(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("money(%v) err = %v", tt.in, err)
			continue
		}
		if got.Cents != tt.want {
			t.Errorf("money(%v) = %d, want %d", tt.in, got.Cents, tt.want)
		}
	}
}

func TestColumnLetters(t *testing.T) {
	for i, want := range map[int]string{0: "A", 5: "F", 25: "Z", 26: "AA", 27: "AB", 701: "ZZ", 702: "AAA"} {
		if got := columnLetters(i); got != want {
			t.Errorf("columnLetters(%d) = %s, want %s", i, got, want)
		}
	}
	if got := quoteTab("Vanzari Oct"); got != "'Vanzari Oct'" {
		t.Errorf("quoteTab = %s", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code   int
		config bool
		retry  bool
	}{
		{http.StatusUnauthorized, true, false},
		{http.StatusForbidden, true, false},
		{http.StatusNotFound, true, false},
		{http.StatusBadRequest, false, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusServiceUnavailable, false, true},
	}
	for _, tt := range tests {
		err := classify(&googleapi.Error{Code: tt.code})
		if got := errors.Is(err, core.ErrCredentialOrConfig); got != tt.config {
			t.Errorf("%d: config = %v", tt.code, got)
		}
		if got := pacing.Retryable(err); got != tt.retry {
			t.Errorf("%d: retryable = %v", tt.code, got)
		}
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

// fakeSheets serves the values endpoints from in-memory tabs.
type fakeSheets struct {
	mu      sync.Mutex
	tabs    map[string][][]interface{}
	updates map[string]string
	status  int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"denied"}}`)
		return
	}
	_, rng, ok := strings.Cut(r.URL.Path, "/values/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "majorDimension": "ROWS", "values": f.tabs[rng]})
	case http.MethodPut:
		var body gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.updates[rng] = cellString(body.Values[0][0])
		_, _ = io.WriteString(w, `{"updatedCells":1}`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewWithService(svc, "sheet-1", Tabs{}, pacing.NewClient(nil, pacing.Policy{Attempts: 1}))
}

func TestClientReadsAndWritesBack(t *testing.T) {
	f := &fakeSheets{
		tabs: map[string][][]interface{}{
			"Vanzari": salesValues(),
			"Comisioane": {
				{"ID", "Persoana", "Rol", "Comision final", "Vanzari", "Luna"},
				{"c1", "p1", "Sales", 1000.0, "s1", "Octombrie 2025"},
				{"c0", "p1", "Sales", -300.0, "", "August 2025"},
			},
			"Persoane": {{"ID", "Nume", "Roluri"}, {"p1", "Ion Popescu", "Sales"}},
			"Reclame":  {{"Campanie", "Suma", "Luna"}, {"Alpha", 10.0, "Octombrie 2025"}},
		},
		updates: map[string]string{},
	}
	c := newTestClient(t, f)
	ctx := context.Background()

	sales, err := c.ListSales(ctx, oct)
	if err != nil || len(sales) != 2 {
		t.Fatalf("ListSales = %d, %v", len(sales), err)
	}
	projects, err := c.ListProjects(ctx)
	if err != nil || len(projects) != 2 {
		t.Fatalf("ListProjects = %v, %v", projects, err)
	}
	recs, err := c.ListCommissions(ctx, oct, core.RoleSales)
	if err != nil || len(recs) != 1 || recs[0].ID != "c1" {
		t.Fatalf("ListCommissions = %+v, %v", recs, err)
	}
	debts, err := c.ListNegativeCommissions(ctx, "p1", oct)
	if err != nil || len(debts) != 1 || debts[0].ID != "c0" {
		t.Fatalf("ListNegativeCommissions = %+v, %v", debts, err)
	}
	p, ok, err := c.FindPayeeByName(ctx, "ion popescu")
	if err != nil || !ok || p.ID != "p1" {
		t.Fatalf("FindPayeeByName = %+v %v %v", p, ok, err)
	}
	if _, ok, _ := c.GetPayee(ctx, "nobody"); ok {
		t.Error("GetPayee found a missing payee")
	}
	spend, err := c.ListAdSpend(ctx, oct)
	if err != nil || len(spend) != 1 {
		t.Fatalf("ListAdSpend = %+v, %v", spend, err)
	}

	if err := c.UpdateLinkedSales(ctx, "c1", []string{"s2", "s1"}); err != nil {
		t.Fatalf("UpdateLinkedSales: %v", err)
	}
	if got := f.updates["Comisioane!E2"]; got != "s1, s2" {
		t.Errorf("updates = %v", f.updates)
	}
	if err := c.UpdateLinkedSales(ctx, "missing", nil); !errors.Is(err, core.ErrLookupFailure) {
		t.Errorf("missing commission err = %v", err)
	}
}

func TestClientPermissionDenied(t *testing.T) {
	c := newTestClient(t, &fakeSheets{status: http.StatusForbidden, updates: map[string]string{}})
	_, err := c.ListSales(context.Background(), oct)
	if !errors.Is(err, core.ErrCredentialOrConfig) {
		t.Fatalf("err = %v, want ErrCredentialOrConfig", err)
	}
}

func TestNewRequiresConfiguration(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	if _, err := New(context.Background(), Config{}, nil); !errors.Is(err, core.ErrCredentialOrConfig) {
		t.Errorf("missing id err = %v", err)
	}
	if _, err := New(context.Background(), Config{SpreadsheetID: "x"}, nil); !errors.Is(err, core.ErrCredentialOrConfig) {
		t.Errorf("missing credentials err = %v", err)
	}
}
