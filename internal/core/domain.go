package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	SourceAutomatic SourceTag = "Automatic"
	SourceManual    SourceTag = "Manual"
)

// Reserved P&L labels for the synthetic summary rows.
const (
	LabelRevenue      = "Revenue"
	LabelTotalExpense = "TotalExpense"
	LabelTotalProfit  = "TotalProfit"
	LabelProfitMargin = "ProfitMargin"
)

// CurrencyRON is the only currency the engine accepts.
const CurrencyRON = "RON"

type (
	// SourceTag records who produced an expense.
	SourceTag string

	Money struct {
		Cents int64
	}

	// Sale is an upstream fact; the engine only reads it.
	Sale struct {
		ID            string
		Project       string
		AmountExclVat Money
		AmountInclVat Money
		PaymentMethod string
		CampaignTag   string
		Period        Period
	}

	// MonthlyCommissionRecord is the aggregate commission of one payee for
	// one period. FinalCommission may be negative (a debt).
	MonthlyCommissionRecord struct {
		ID              string
		PayeeRef        string
		Period          Period
		Role            Role
		FinalCommission Money
		LinkedSaleIDs   []string
	}

	// Payee is a directory entry.
	Payee struct {
		ID    string
		Name  string
		Roles []Role
	}

	// DerivedExpense is the engine's output. NaturalKey is unique.
	DerivedExpense struct {
		ID                string
		NaturalKey        string
		Name              string // display name, usually the payee
		Description       string
		Project           string
		Category          Category
		Amount            Money
		VATIncluded       bool
		Period            Period
		Source            SourceTag
		Kind              Kind
		AssociatedSaleIDs []string
		UpdatedAt         time.Time
	}

	// PnLLine is one row of the monthly P&L, unique per
	// (Project, Period, Bucket, Label).
	PnLLine struct {
		ID          string
		Project     string
		Period      Period
		Bucket      Bucket
		Label       string
		AmountRon   Money
		AmountEur   Money
		Description string
		UpdatedAt   time.Time
	}

	// DebtRecord is a prior-period negative commission still outstanding.
	DebtRecord struct {
		CommissionID string
		PayeeRef     string
		Period       Period
		Original     Money // absolute value of the negative commission
		Remaining    Money
	}

	// DebtSettlement records how much of a debt a later period consumed.
	DebtSettlement struct {
		DebtRecordID string
		PayeeRef     string
		DebtPeriod   Period
		ConsumedBy   Period
		Amount       Money
	}

	// AdSpend is one campaign's spend for a period as reported by the ads platform.
	AdSpend struct {
		CampaignName string
		Amount       Money
		Currency     string
	}
)

// Validate checks the fields the allocation kinds depend on.
func (s Sale) Validate() error {
	if strings.TrimSpace(s.Project) == "" {
		return fmt.Errorf("%w: sale %s: %w", ErrValidationSkip, s.ID, ErrEmptyProject)
	}
	if !s.AmountExclVat.IsPositive() {
		return fmt.Errorf("%w: sale %s: %w", ErrValidationSkip, s.ID, ErrInvalidAmount)
	}
	return nil
}

// Validate checks an expense before it is written.
func (e DerivedExpense) Validate() error {
	var errs []error
	if strings.TrimSpace(e.NaturalKey) == "" {
		errs = append(errs, ErrEmptyNaturalKey)
	}
	if strings.TrimSpace(e.Project) == "" {
		errs = append(errs, ErrEmptyProject)
	}
	if _, err := e.Category.Bucket(); err != nil {
		errs = append(errs, err)
	}
	if e.Amount.Cents < 0 {
		errs = append(errs, ErrInvalidAmount)
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		errs = append(errs, ErrEmptyDescription)
	}
	if err := e.Period.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: expense %q: %w", ErrValidationSkip, e.NaturalKey, errors.Join(errs...))
	}
	return nil
}

// IsManual reports whether the expense was entered by hand.
func (e DerivedExpense) IsManual() bool {
	return e.Source == SourceManual
}

// SortedIDs returns a sorted, de-duplicated copy of ids. Linked sale sets
// are unordered; comparing their sorted forms makes updates deterministic.
func SortedIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SameIDs compares two id sets ignoring order and duplicates.
func SameIDs(a, b []string) bool {
	sa, sb := SortedIDs(a), SortedIDs(b)
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
