// Package adapters loads upstream records from a JSON seed document into
// the stores that accept writes: the in-memory store and SQLite.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"comisioane/internal/core"
	"comisioane/internal/sheets/memory"
	"comisioane/internal/storage"
)

// RecordWriter accepts upstream records.
type RecordWriter interface {
	SaveSale(ctx context.Context, s core.Sale) error
	SavePayee(ctx context.Context, p core.Payee) error
	SaveCommission(ctx context.Context, c core.MonthlyCommissionRecord) error
	ReplaceAdSpend(ctx context.Context, period core.Period, spend []core.AdSpend) error
}

var _ RecordWriter = (*storage.SQLiteRepository)(nil)

// Seed is the import document. Amounts are decimal strings in RON and
// periods are period keys, as they appear in the spreadsheet.
type Seed struct {
	Payees []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Roles any    `json:"roles"`
	} `json:"payees"`
	Sales []struct {
		ID            string `json:"id"`
		Project       string `json:"project"`
		AmountExclVat string `json:"amount_excl_vat"`
		AmountInclVat string `json:"amount_incl_vat"`
		PaymentMethod string `json:"payment_method"`
		CampaignTag   string `json:"campaign_tag"`
		Period        string `json:"period"`
	} `json:"sales"`
	Commissions []struct {
		ID              string   `json:"id"`
		PayeeRef        string   `json:"payee"`
		Role            string   `json:"role"`
		FinalCommission string   `json:"final_commission"`
		LinkedSaleIDs   []string `json:"linked_sales"`
		Period          string   `json:"period"`
	} `json:"commissions"`
	AdSpend []struct {
		Period    string `json:"period"`
		Campaigns []struct {
			Name     string `json:"name"`
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"campaigns"`
	} `json:"ad_spend"`
}

// ImportResult counts imported records per type.
type ImportResult struct {
	Payees      int `json:"payees"`
	Sales       int `json:"sales"`
	Commissions int `json:"commissions"`
	AdSpend     int `json:"ad_spend"`
}

// LoadSeed decodes a seed document, rejecting unknown fields.
func LoadSeed(r io.Reader) (*Seed, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var s Seed
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode seed: %w", core.ErrValidationSkip, err)
	}
	return &s, nil
}

func cents(s string) (core.Money, error) {
	c, err := core.ParseSignedCents(s)
	return core.Money{Cents: c}, err
}

// Import converts and writes every record. Conversion errors are
// collected and returned together; valid records are still written.
func Import(ctx context.Context, w RecordWriter, s *Seed) (ImportResult, error) {
	var res ImportResult
	var errs []error

	for _, p := range s.Payees {
		roles, err := core.ParseRoles(p.Roles)
		if err != nil {
			errs = append(errs, fmt.Errorf("payee %s: %w", p.ID, err))
			continue
		}
		if err := w.SavePayee(ctx, core.Payee{ID: p.ID, Name: strings.TrimSpace(p.Name), Roles: roles}); err != nil {
			return res, fmt.Errorf("%w: payee %s: %w", core.ErrWriteFailure, p.ID, err)
		}
		res.Payees++
	}

	for _, row := range s.Sales {
		period, err := core.ParsePeriod(row.Period)
		if err != nil {
			errs = append(errs, fmt.Errorf("sale %s: %w", row.ID, err))
			continue
		}
		excl, err1 := cents(row.AmountExclVat)
		incl, err2 := cents(row.AmountInclVat)
		if err := errors.Join(err1, err2); err != nil {
			errs = append(errs, fmt.Errorf("sale %s: %w", row.ID, err))
			continue
		}
		sale := core.Sale{
			ID: row.ID, Project: row.Project, AmountExclVat: excl, AmountInclVat: incl,
			PaymentMethod: row.PaymentMethod, CampaignTag: row.CampaignTag, Period: period,
		}
		if err := w.SaveSale(ctx, sale); err != nil {
			return res, fmt.Errorf("%w: sale %s: %w", core.ErrWriteFailure, row.ID, err)
		}
		res.Sales++
	}

	for _, row := range s.Commissions {
		period, err := core.ParsePeriod(row.Period)
		if err != nil {
			errs = append(errs, fmt.Errorf("commission %s: %w", row.ID, err))
			continue
		}
		role, err := core.ParseRole(row.Role)
		if err != nil {
			errs = append(errs, fmt.Errorf("commission %s: %w", row.ID, err))
			continue
		}
		final, err := cents(row.FinalCommission)
		if err != nil {
			errs = append(errs, fmt.Errorf("commission %s: %w", row.ID, err))
			continue
		}
		rec := core.MonthlyCommissionRecord{
			ID: row.ID, PayeeRef: row.PayeeRef, Period: period, Role: role,
			FinalCommission: final, LinkedSaleIDs: core.SortedIDs(row.LinkedSaleIDs),
		}
		if err := w.SaveCommission(ctx, rec); err != nil {
			return res, fmt.Errorf("%w: commission %s: %w", core.ErrWriteFailure, row.ID, err)
		}
		res.Commissions++
	}

	for _, block := range s.AdSpend {
		period, err := core.ParsePeriod(block.Period)
		if err != nil {
			errs = append(errs, fmt.Errorf("ad spend: %w", err))
			continue
		}
		spend := make([]core.AdSpend, 0, len(block.Campaigns))
		var bad bool
		for _, c := range block.Campaigns {
			amount, err := cents(c.Amount)
			if err != nil {
				errs = append(errs, fmt.Errorf("ad spend %s %q: %w", block.Period, c.Name, err))
				bad = true
				break
			}
			spend = append(spend, core.AdSpend{CampaignName: c.Name, Amount: amount, Currency: strings.ToUpper(c.Currency)})
		}
		if bad {
			continue
		}
		if err := w.ReplaceAdSpend(ctx, period, spend); err != nil {
			return res, fmt.Errorf("%w: ad spend %s: %w", core.ErrWriteFailure, block.Period, err)
		}
		res.AdSpend += len(spend)
	}

	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %w", core.ErrValidationSkip, errors.Join(errs...))
	}
	return res, nil
}

// MemoryWriter adapts the in-memory store to RecordWriter.
type MemoryWriter struct {
	store *memory.Store
}

func NewMemoryWriter(store *memory.Store) *MemoryWriter {
	return &MemoryWriter{store: store}
}

func (w *MemoryWriter) SaveSale(_ context.Context, s core.Sale) error {
	w.store.AddSale(s)
	return nil
}

func (w *MemoryWriter) SavePayee(_ context.Context, p core.Payee) error {
	w.store.AddPayee(p)
	return nil
}

func (w *MemoryWriter) SaveCommission(_ context.Context, c core.MonthlyCommissionRecord) error {
	w.store.AddCommission(c)
	return nil
}

func (w *MemoryWriter) ReplaceAdSpend(_ context.Context, period core.Period, spend []core.AdSpend) error {
	w.store.SetAdSpend(period, spend)
	return nil
}
