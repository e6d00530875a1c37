package google

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/matching"
)

// Column aliases per tab, compared after matching.Normalize. The first
// alias present in the header row wins.
var (
	colID          = []string{"id"}
	colProject     = []string{"proiect", "project"}
	colExclVat     = []string{"suma fara tva", "fara tva", "amount excl vat"}
	colInclVat     = []string{"suma cu tva", "cu tva", "amount incl vat"}
	colMethod      = []string{"metoda plata", "metoda de plata", "payment method"}
	colCampaign    = []string{"campanie", "campaign"}
	colPeriod      = []string{"luna", "perioada", "period"}
	colPayee       = []string{"persoana", "payee"}
	colRole        = []string{"rol", "role"}
	colFinal       = []string{"comision final", "final commission"}
	colLinkedSales = []string{"vanzari", "vanzari asociate", "sales"}
	colName        = []string{"nume", "name"}
	colRoles       = []string{"roluri", "roles"}
	colAmount      = []string{"suma", "amount", "cost"}
	colCurrency    = []string{"moneda", "currency"}
)

// header maps normalized column names to their index.
type header map[string]int

func newHeader(row []interface{}) header {
	h := header{}
	for i, cell := range toStrings(row) {
		k := matching.Normalize(cell)
		if _, dup := h[k]; !dup && k != "" {
			h[k] = i
		}
	}
	return h
}

func (h header) col(aliases []string) int {
	for _, a := range aliases {
		if i, ok := h[a]; ok {
			return i
		}
	}
	return -1
}

// require resolves every named column group or reports all missing ones.
func (h header) require(tab string, groups ...[]string) ([]int, error) {
	idx := make([]int, len(groups))
	var missing []string
	for i, g := range groups {
		idx[i] = h.col(g)
		if idx[i] < 0 {
			missing = append(missing, g[0])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s tab: missing columns %s", core.ErrCredentialOrConfig, tab, strings.Join(missing, ", "))
	}
	return idx, nil
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cellString(v)
	}
	return out
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func safeGet(row []interface{}, i int) interface{} {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

func str(row []interface{}, i int) string { return cellString(safeGet(row, i)) }

// money reads an amount cell. UNFORMATTED_VALUE renders numbers as
// float64; hand-typed cells stay strings such as "1.234,50".
func money(v interface{}) (core.Money, error) {
	switch x := v.(type) {
	case float64:
		return core.MoneyFromFloat(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return core.Money{}, nil
		}
		if strings.Contains(s, ".") && strings.Contains(s, ",") {
			s = strings.ReplaceAll(s, ".", "")
		}
		cents, err := core.ParseSignedCents(s)
		if err != nil {
			return core.Money{}, fmt.Errorf("amount %q: %w", x, err)
		}
		return core.Money{Cents: cents}, nil
	case nil:
		return core.Money{}, nil
	}
	return core.Money{}, fmt.Errorf("amount: unexpected cell %T", v)
}

func splitIDs(s string) []string {
	return core.SortedIDs(strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}))
}

func skipRow(ctx context.Context, tab string, line int, err error) {
	args := log.NewFields().WithComponent(log.ComponentSheets).WithError(err).ToSlice()
	slog.WarnContext(ctx, "Skipping malformed row", append(args, "tab", tab, "row", line)...)
}

func blank(row []interface{}) bool {
	for _, c := range row {
		if cellString(c) != "" {
			return false
		}
	}
	return true
}

func parseSales(ctx context.Context, values [][]interface{}) ([]core.Sale, error) {
	if len(values) == 0 {
		return nil, nil
	}
	h := newHeader(values[0])
	idx, err := h.require("sales", colID, colProject, colExclVat, colInclVat, colPeriod)
	if err != nil {
		return nil, err
	}
	cMethod, cCampaign := h.col(colMethod), h.col(colCampaign)

	var out []core.Sale
	for i, row := range values[1:] {
		if blank(row) {
			continue
		}
		period, err := core.ParsePeriod(str(row, idx[4]))
		if err != nil {
			skipRow(ctx, "sales", i+2, err)
			continue
		}
		excl, err := money(safeGet(row, idx[2]))
		if err != nil {
			skipRow(ctx, "sales", i+2, err)
			continue
		}
		incl, err := money(safeGet(row, idx[3]))
		if err != nil {
			skipRow(ctx, "sales", i+2, err)
			continue
		}
		out = append(out, core.Sale{
			ID:            str(row, idx[0]),
			Project:       str(row, idx[1]),
			AmountExclVat: excl,
			AmountInclVat: incl,
			PaymentMethod: str(row, cMethod),
			CampaignTag:   str(row, cCampaign),
			Period:        period,
		})
	}
	return out, nil
}

// commissionRow keeps the sheet row number for write-back.
type commissionRow struct {
	rec core.MonthlyCommissionRecord
	row int
}

func parseCommissions(ctx context.Context, values [][]interface{}) ([]commissionRow, error) {
	if len(values) == 0 {
		return nil, nil
	}
	h := newHeader(values[0])
	idx, err := h.require("commissions", colID, colPayee, colRole, colFinal, colPeriod)
	if err != nil {
		return nil, err
	}
	cLinked := h.col(colLinkedSales)

	var out []commissionRow
	for i, row := range values[1:] {
		if blank(row) {
			continue
		}
		period, err := core.ParsePeriod(str(row, idx[4]))
		if err != nil {
			skipRow(ctx, "commissions", i+2, err)
			continue
		}
		role, err := core.ParseRole(str(row, idx[2]))
		if err != nil {
			skipRow(ctx, "commissions", i+2, err)
			continue
		}
		final, err := money(safeGet(row, idx[3]))
		if err != nil {
			skipRow(ctx, "commissions", i+2, err)
			continue
		}
		out = append(out, commissionRow{
			rec: core.MonthlyCommissionRecord{
				ID:              str(row, idx[0]),
				PayeeRef:        str(row, idx[1]),
				Period:          period,
				Role:            role,
				FinalCommission: final,
				LinkedSaleIDs:   splitIDs(str(row, cLinked)),
			},
			row: i + 2,
		})
	}
	return out, nil
}

func parsePayees(ctx context.Context, values [][]interface{}) ([]core.Payee, error) {
	if len(values) == 0 {
		return nil, nil
	}
	h := newHeader(values[0])
	idx, err := h.require("payees", colID, colName, colRoles)
	if err != nil {
		return nil, err
	}
	var out []core.Payee
	for i, row := range values[1:] {
		if blank(row) {
			continue
		}
		roles, err := core.ParseRoles(str(row, idx[2]))
		if err != nil {
			skipRow(ctx, "payees", i+2, err)
			continue
		}
		out = append(out, core.Payee{ID: str(row, idx[0]), Name: str(row, idx[1]), Roles: roles})
	}
	return out, nil
}

func parseAdSpend(ctx context.Context, values [][]interface{}, period core.Period) ([]core.AdSpend, error) {
	if len(values) == 0 {
		return nil, nil
	}
	h := newHeader(values[0])
	idx, err := h.require("ad spend", colCampaign, colAmount, colPeriod)
	if err != nil {
		return nil, err
	}
	cCurrency := h.col(colCurrency)

	var out []core.AdSpend
	for i, row := range values[1:] {
		if blank(row) {
			continue
		}
		p, err := core.ParsePeriod(str(row, idx[2]))
		if err != nil {
			skipRow(ctx, "ad spend", i+2, err)
			continue
		}
		if p != period {
			continue
		}
		amount, err := money(safeGet(row, idx[1]))
		if err != nil {
			skipRow(ctx, "ad spend", i+2, err)
			continue
		}
		out = append(out, core.AdSpend{
			CampaignName: str(row, idx[0]),
			Amount:       amount,
			Currency:     strings.ToUpper(str(row, cCurrency)),
		})
	}
	return out, nil
}

// linkedSalesCell returns the A1 reference of the linked sales cell on the
// row holding commissionID.
func linkedSalesCell(tab string, values [][]interface{}, commissionID string) (string, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("%w: commission %s: empty tab", core.ErrLookupFailure, commissionID)
	}
	h := newHeader(values[0])
	idx, err := h.require("commissions", colID, colLinkedSales)
	if err != nil {
		return "", err
	}
	for i, row := range values[1:] {
		if str(row, idx[0]) == commissionID {
			return fmt.Sprintf("%s!%s%d", quoteTab(tab), columnLetters(idx[1]), i+2), nil
		}
	}
	return "", fmt.Errorf("%w: commission %s not found", core.ErrLookupFailure, commissionID)
}

// columnLetters converts a zero based column index to its A1 letters.
func columnLetters(i int) string {
	var b []byte
	for i >= 0 {
		b = append([]byte{byte('A' + i%26)}, b...)
		i = i/26 - 1
	}
	return string(b)
}

func quoteTab(tab string) string {
	if strings.ContainsAny(tab, " '!") {
		return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	}
	return tab
}
