// Package allocation holds the pure allocation math: proportional
// distribution of an aggregate amount over weighted groups, progressive
// tiered commission and payment processor fees.
package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"comisioane/internal/core"
)

// Weight is one group's share of the allocation basis.
type Weight struct {
	Group string
	Value core.Money
}

// Share is the amount allocated to one group.
type Share struct {
	Group  string
	Weight core.Money
	Amount core.Money
}

// Proportional splits amount across groups in proportion to their weights.
//
// Shares are computed in whole cents with a largest-remainder fixup, so the
// shares always sum to amount exactly. A zero-weight group receives exactly
// zero. Every share is within one cent of amount*w/Σw.
//
// Returns core.ErrNoAllocatableBasis when the weights sum to zero.
func Proportional(amount core.Money, weights []Weight) ([]Share, error) {
	if amount.Cents < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", core.ErrInvalidAmount, amount)
	}
	var total int64
	for _, w := range weights {
		if w.Value.Cents < 0 {
			return nil, fmt.Errorf("%w: negative weight for %q", core.ErrInvalidAmount, w.Group)
		}
		total += w.Value.Cents
	}
	if total == 0 {
		return nil, core.ErrNoAllocatableBasis
	}

	a := decimal.NewFromInt(amount.Cents)
	t := decimal.NewFromInt(total)

	shares := make([]Share, len(weights))
	rems := make([]decimal.Decimal, len(weights))
	var assigned int64
	for i, w := range weights {
		q, r := a.Mul(decimal.NewFromInt(w.Value.Cents)).QuoRem(t, 0)
		shares[i] = Share{Group: w.Group, Weight: w.Value, Amount: core.Money{Cents: q.IntPart()}}
		rems[i] = r
		assigned += q.IntPart()
	}

	leftover := amount.Cents - assigned
	if leftover > 0 {
		order := make([]int, len(weights))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(x, y int) bool {
			return rems[order[x]].GreaterThan(rems[order[y]])
		})
		for _, i := range order[:leftover] {
			shares[i].Amount.Cents++
		}
	}
	return shares, nil
}

// TotalWeight sums the weights.
func TotalWeight(weights []Weight) core.Money {
	var total core.Money
	for _, w := range weights {
		total = total.Add(w.Value)
	}
	return total
}

// WeightsFromMap turns a group→amount map into a weight list sorted by group
// name, so allocation order and remainder tie-breaks are deterministic.
func WeightsFromMap(m map[string]core.Money) []Weight {
	out := make([]Weight, 0, len(m))
	for g, v := range m {
		out = append(out, Weight{Group: g, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}
