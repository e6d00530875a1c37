package allocation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"comisioane/internal/core"
)

var hundred = decimal.NewFromInt(100)

// FeeRule is a payment processor's pricing: a percentage of the gross
// (VAT included) amount plus a fixed amount per transaction.
type FeeRule struct {
	Method  string
	Percent decimal.Decimal
	Fixed   core.Money
}

// FeeFor returns the processor fee charged on one payment.
func (r FeeRule) FeeFor(amount core.Money) core.Money {
	variable := core.MoneyFromDecimal(amount.Decimal().Mul(r.Percent).Div(hundred))
	return variable.Add(r.Fixed)
}

// FeeTable maps payment methods to their rules. Lookups ignore case and
// surrounding whitespace.
type FeeTable map[string]FeeRule

// ParseFeeRules parses "Stripe:2.9:1.25,TBI:4.5:0", i.e.
// method:percent:fixedRON entries separated by commas.
func ParseFeeRules(s string) (FeeTable, error) {
	table := FeeTable{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: %q: expected <method>:<percent>:<fixed>", ErrInvalidFees, part)
		}
		method := strings.TrimSpace(fields[0])
		if method == "" {
			return nil, fmt.Errorf("%w: empty method in %q", ErrInvalidFees, part)
		}
		pct, err := decimal.NewFromString(strings.TrimSpace(fields[1]))
		if err != nil || pct.IsNegative() || pct.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: percent %q", ErrInvalidFees, fields[1])
		}
		fixed, err := core.ParseSignedCents(fields[2])
		if err != nil || fixed < 0 {
			return nil, fmt.Errorf("%w: fixed %q", ErrInvalidFees, fields[2])
		}
		key := feeKey(method)
		if _, dup := table[key]; dup {
			return nil, fmt.Errorf("%w: duplicate method %q", ErrInvalidFees, method)
		}
		table[key] = FeeRule{Method: method, Percent: pct, Fixed: core.Money{Cents: fixed}}
	}
	return table, nil
}

// Lookup finds the rule for a payment method.
func (t FeeTable) Lookup(method string) (FeeRule, bool) {
	r, ok := t[feeKey(method)]
	return r, ok
}

// Methods lists the configured methods in a stable order.
func (t FeeTable) Methods() []string {
	out := make([]string, 0, len(t))
	for _, r := range t {
		out = append(out, r.Method)
	}
	sort.Strings(out)
	return out
}

func feeKey(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}
