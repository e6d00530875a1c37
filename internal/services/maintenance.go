package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/reconcile"
	"comisioane/internal/sheets"
)

// CleanupResult counts what a cleanup pass changed.
type CleanupResult struct {
	Merged     int `json:"merged"`
	Deleted    int `json:"deleted"`
	Rekeyed    int `json:"rekeyed"`
	Backfilled int `json:"backfilled"`
	Errors     int `json:"errors"`
}

// Maintenance repairs automatic expenses written under inconsistent
// natural keys. It is run on request only.
type Maintenance struct {
	store sheets.ExpenseStore
}

func NewMaintenance(store sheets.ExpenseStore) *Maintenance {
	return &Maintenance{store: store}
}

// Cleanup merges automatic expenses of period whose keys normalise to the
// same value and backfills empty display names from descriptions.
//
// The survivor of a group is the record with the lowest id. It takes the
// amount, description and name of the most recently updated member and the
// union of all linked sales. Manual expenses are never touched.
func (m *Maintenance) Cleanup(ctx context.Context, period core.Period) (CleanupResult, error) {
	var res CleanupResult
	all, err := m.store.ListExpenses(ctx, period)
	if err != nil {
		return res, fmt.Errorf("%w: expenses for %s: %w", core.ErrLookupFailure, period.Key(), err)
	}

	groups := map[string][]core.DerivedExpense{}
	var keys []string
	for _, e := range all {
		if e.IsManual() {
			continue
		}
		k := reconcile.NormalizeKey(e.NaturalKey)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		members := groups[k]
		survivor := merge(k, members)
		changed := len(members) > 1 || survivor.NaturalKey != members[0].NaturalKey
		if survivor.Name == "" {
			if name, ok := core.NameFromDescription(survivor.Description); ok {
				survivor.Name = name
				res.Backfilled++
				changed = true
			}
		}
		if !changed {
			continue
		}

		// Duplicates go first so the survivor can take the normalised key.
		failed := false
		for _, e := range members {
			if e.ID == survivor.ID {
				continue
			}
			if err := m.store.DeleteExpense(ctx, e.ID); err != nil {
				failed = true
				res.Errors++
				slog.ErrorContext(ctx, "Failed to delete duplicate expense",
					log.FieldComponent, log.ComponentReconcile, "id", e.ID, log.FieldNaturalKey, e.NaturalKey, log.FieldError, err)
				continue
			}
			res.Deleted++
		}
		if failed {
			continue
		}
		if err := m.store.UpdateExpense(ctx, survivor); err != nil {
			res.Errors++
			slog.ErrorContext(ctx, "Failed to update surviving expense",
				log.FieldComponent, log.ComponentReconcile, "id", survivor.ID, log.FieldNaturalKey, k, log.FieldError, err)
			continue
		}
		if len(members) > 1 {
			res.Merged++
		} else if survivor.NaturalKey != members[0].NaturalKey {
			res.Rekeyed++
		}
	}

	slog.InfoContext(ctx, "Cleanup finished",
		log.FieldComponent, log.ComponentReconcile,
		log.FieldPeriod, period.Key(),
		"merged", res.Merged,
		"deleted", res.Deleted,
		"rekeyed", res.Rekeyed,
		"backfilled", res.Backfilled,
		log.FieldErrors, res.Errors)
	return res, nil
}

// merge folds members into the lowest-id record.
func merge(key string, members []core.DerivedExpense) core.DerivedExpense {
	byID := append([]core.DerivedExpense(nil), members...)
	sort.SliceStable(byID, func(i, j int) bool { return idBefore(byID[i].ID, byID[j].ID) })
	survivor := byID[0]

	latest := survivor
	var sales []string
	for _, e := range byID {
		if e.UpdatedAt.After(latest.UpdatedAt) {
			latest = e
		}
		sales = append(sales, e.AssociatedSaleIDs...)
	}
	survivor.NaturalKey = key
	survivor.Amount = latest.Amount
	survivor.Description = latest.Description
	if strings.TrimSpace(latest.Name) != "" {
		survivor.Name = latest.Name
	}
	survivor.AssociatedSaleIDs = core.SortedIDs(sales)
	return survivor
}

// idBefore orders numeric-looking ids by value ("9" before "10").
func idBefore(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
