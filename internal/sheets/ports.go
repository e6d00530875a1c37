package sheets

import (
	"context"

	"comisioane/internal/core"
	"comisioane/internal/debt"
	"comisioane/internal/reconcile"
)

// Ports for outbound adapters.
type (
	// SalesSource reads upstream sales. Sales are never written.
	SalesSource interface {
		ListSales(ctx context.Context, period core.Period) ([]core.Sale, error)
		// ListProjects returns every project name seen in sales.
		ListProjects(ctx context.Context) ([]string, error)
	}

	// CommissionSource reads monthly commission records. Role cells are
	// normalised to core.Role by the adapter.
	CommissionSource interface {
		// ListCommissions returns the period's records; with no roles given
		// every role is returned.
		ListCommissions(ctx context.Context, period core.Period, roles ...core.Role) ([]core.MonthlyCommissionRecord, error)
		// UpdateLinkedSales replaces the record's linked sale ids.
		UpdateLinkedSales(ctx context.Context, commissionID string, saleIDs []string) error
		debt.CommissionHistory
	}

	PayeeDirectory interface {
		ListPayees(ctx context.Context) ([]core.Payee, error)
		GetPayee(ctx context.Context, id string) (core.Payee, bool, error)
		FindPayeeByName(ctx context.Context, name string) (core.Payee, bool, error)
	}

	// AdSpendSource reports campaign spend for a period.
	AdSpendSource interface {
		ListAdSpend(ctx context.Context, period core.Period) ([]core.AdSpend, error)
	}

	// ExpenseStore holds DerivedExpenses.
	ExpenseStore interface {
		reconcile.ExpenseStore
		DeleteExpense(ctx context.Context, id string) error
	}

	PnLStore interface {
		reconcile.PnLStore
	}

	// Source is everything the engine reads from the upstream record store.
	Source interface {
		SalesSource
		CommissionSource
		PayeeDirectory
		AdSpendSource
	}

	// Ledger is everything the engine writes.
	Ledger interface {
		ExpenseStore
		PnLStore
		debt.SettlementStore
	}
)
