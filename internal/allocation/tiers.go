package allocation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"comisioane/internal/core"
)

var (
	ErrInvalidTiers = errors.New("invalid tier table")
	ErrInvalidFees  = errors.New("invalid fee rules")
)

// Tier is one bracket of a progressive commission table. Ceiling is the
// upper bound in EUR of cumulative basis covered by this bracket; a zero
// Ceiling marks the open-ended last bracket.
type Tier struct {
	Ceiling decimal.Decimal
	Rate    decimal.Decimal
}

// Open reports whether the tier has no upper bound.
func (t Tier) Open() bool { return t.Ceiling.IsZero() }

// ParseTiers parses "10000:0.05,25000:0.075,*:0.10".
func ParseTiers(s string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ceil, rate, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q: expected <ceiling>:<rate>", ErrInvalidTiers, part)
		}
		r, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil {
			return nil, fmt.Errorf("%w: rate %q: %v", ErrInvalidTiers, rate, err)
		}
		t := Tier{Rate: r}
		if c := strings.TrimSpace(ceil); c != "*" {
			t.Ceiling, err = decimal.NewFromString(c)
			if err != nil {
				return nil, fmt.Errorf("%w: ceiling %q: %v", ErrInvalidTiers, c, err)
			}
			if !t.Ceiling.IsPositive() {
				return nil, fmt.Errorf("%w: ceiling %q must be positive", ErrInvalidTiers, c)
			}
		}
		tiers = append(tiers, t)
	}
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// ValidateTiers requires strictly ascending ceilings, rates in [0,1] and
// exactly one open tier, in last position.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidTiers)
	}
	one := decimal.NewFromInt(1)
	prev := decimal.Zero
	for i, t := range tiers {
		if t.Rate.IsNegative() || t.Rate.GreaterThan(one) {
			return fmt.Errorf("%w: tier %d rate %s outside [0,1]", ErrInvalidTiers, i, t.Rate)
		}
		last := i == len(tiers)-1
		if t.Open() != last {
			return fmt.Errorf("%w: only the last tier may be open", ErrInvalidTiers)
		}
		if !last {
			if !t.Ceiling.GreaterThan(prev) {
				return fmt.Errorf("%w: ceilings must ascend", ErrInvalidTiers)
			}
			prev = t.Ceiling
		}
	}
	return nil
}

// Progressive computes a marginal-rate commission on basis. The basis is
// converted to EUR, each bracket is charged its own rate on the slice of
// basis it covers, and the EUR total is converted back to RON and rounded
// to cents once at the end.
func Progressive(basis core.Money, rate core.EURRate, tiers []Tier) (core.Money, error) {
	if basis.Cents < 0 {
		return core.Money{}, fmt.Errorf("%w: negative basis %s", core.ErrInvalidAmount, basis)
	}
	if !rate.RonPerEur.IsPositive() {
		return core.Money{}, core.ErrInvalidRate
	}
	if err := ValidateTiers(tiers); err != nil {
		return core.Money{}, err
	}

	remaining := basis.Decimal().Div(rate.RonPerEur)
	commission := decimal.Zero
	floor := decimal.Zero
	for _, t := range tiers {
		if !remaining.IsPositive() {
			break
		}
		slice := remaining
		if !t.Open() {
			slice = decimal.Min(remaining, t.Ceiling.Sub(floor))
			floor = t.Ceiling
		}
		commission = commission.Add(slice.Mul(t.Rate))
		remaining = remaining.Sub(slice)
	}
	return core.MoneyFromDecimal(commission.Mul(rate.RonPerEur)), nil
}

// ProgressiveByGroup computes one progressive commission over the combined
// basis of all groups and redistributes it by each group's basis share.
func ProgressiveByGroup(weights []Weight, rate core.EURRate, tiers []Tier) (core.Money, []Share, error) {
	total, err := Progressive(TotalWeight(weights), rate, tiers)
	if err != nil {
		return core.Money{}, nil, err
	}
	shares, err := Proportional(total, weights)
	if err != nil {
		return total, nil, err
	}
	return total, shares, nil
}
