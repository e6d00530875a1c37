// Package pnl folds a period's derived expenses and revenue into P&L lines:
// one line per expense plus the Revenue, TotalExpense, TotalProfit and
// ProfitMargin summary lines.
package pnl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"comisioane/internal/core"
)

var hundred = decimal.NewFromInt(100)

// Statement is the P&L of one project for one period.
type Statement struct {
	Project      string
	Period       core.Period
	Revenue      core.Money
	TotalExpense core.Money
	Profit       core.Money
	Margin       decimal.Decimal // percent, two decimals
	ByBucket     map[core.Bucket]core.Money
	Lines        []core.PnLLine
}

// Margin returns profit/revenue*100 rounded half-up to two decimals, or
// zero when there is no revenue.
func Margin(profit, revenue core.Money) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return profit.Decimal().Div(revenue.Decimal()).Mul(hundred).Round(2)
}

// Build computes the statement for project from its automatic expenses.
// Expenses of other projects or periods, manual expenses and zeroed
// expenses are ignored. Every remaining expense gets its own line labelled
// by category and display name; when two expenses would share a label,
// both carry their natural key as well, so labels stay stable across runs.
func Build(project string, period core.Period, revenue core.Money, expenses []core.DerivedExpense, rate core.EURRate) (Statement, error) {
	st := Statement{
		Project:  project,
		Period:   period,
		Revenue:  revenue,
		ByBucket: make(map[core.Bucket]core.Money),
	}

	type entry struct {
		expense core.DerivedExpense
		bucket  core.Bucket
		label   string
	}
	type lineKey struct {
		bucket core.Bucket
		label  string
	}
	var entries []entry
	uses := make(map[lineKey]int)
	for _, e := range expenses {
		if e.IsManual() || e.Project != project || e.Period != period || e.Amount.IsZero() {
			continue
		}
		bucket, err := e.Category.Bucket()
		if err != nil {
			return Statement{}, fmt.Errorf("expense %q: %w", e.NaturalKey, err)
		}
		en := entry{expense: e, bucket: bucket, label: expenseLabel(e)}
		uses[lineKey{bucket, en.label}]++
		entries = append(entries, en)
	}

	for _, en := range entries {
		e := en.expense
		label := en.label
		if uses[lineKey{en.bucket, label}] > 1 {
			label = fmt.Sprintf("%s (%s)", label, e.NaturalKey)
		}
		st.Lines = append(st.Lines, core.PnLLine{
			Project:     project,
			Period:      period,
			Bucket:      en.bucket,
			Label:       label,
			AmountRon:   e.Amount,
			AmountEur:   rate.ToEUR(e.Amount),
			Description: e.Description,
		})
		st.ByBucket[en.bucket] = st.ByBucket[en.bucket].Add(e.Amount)
		st.TotalExpense = st.TotalExpense.Add(e.Amount)
	}
	sort.Slice(st.Lines, func(i, j int) bool {
		if st.Lines[i].Bucket != st.Lines[j].Bucket {
			return st.Lines[i].Bucket < st.Lines[j].Bucket
		}
		return st.Lines[i].Label < st.Lines[j].Label
	})

	st.Profit = revenue.Sub(st.TotalExpense)
	st.Margin = Margin(st.Profit, revenue)

	summary := func(label string, amount core.Money, desc string) core.PnLLine {
		return core.PnLLine{
			Project:     project,
			Period:      period,
			Bucket:      core.BucketSummary,
			Label:       label,
			AmountRon:   amount,
			AmountEur:   rate.ToEUR(amount),
			Description: desc,
		}
	}
	st.Lines = append(st.Lines,
		summary(core.LabelRevenue, revenue, fmt.Sprintf("Venituri %s", period.Key())),
		summary(core.LabelTotalExpense, st.TotalExpense, bucketBreakdown(st.ByBucket)),
		summary(core.LabelTotalProfit, st.Profit, fmt.Sprintf("Profit %s", period.Key())),
		// The margin line carries a percentage, not an amount.
		summary(core.LabelProfitMargin, core.Money{}, st.Margin.StringFixed(2)+"%"),
	)
	return st, nil
}

func expenseLabel(e core.DerivedExpense) string {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		if n, ok := core.NameFromDescription(e.Description); ok {
			name = n
		} else {
			name = strings.TrimSpace(e.Description)
		}
	}
	return e.Category.String() + " - " + name
}

func bucketBreakdown(by map[core.Bucket]core.Money) string {
	buckets := make([]core.Bucket, 0, len(by))
	for b := range by {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
	parts := make([]string, 0, len(buckets))
	for _, b := range buckets {
		parts = append(parts, fmt.Sprintf("%s: %s", b, by[b]))
	}
	if len(parts) == 0 {
		return "Fara cheltuieli"
	}
	return strings.Join(parts, "; ")
}
