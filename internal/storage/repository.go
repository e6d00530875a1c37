package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"comisioane/internal/core"
	"comisioane/internal/log"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by updates and deletes of missing rows.
var ErrNotFound = errors.New("not found")

// SQLiteRepository is the durable ledger: derived expenses, P&L lines and
// debt settlements. It can also serve as a local record store for sales,
// commissions, payees and ad spend.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; the engine never writes concurrently anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite repository ready", log.FieldComponent, log.ComponentStorage, "db_path", dbPath)
	return &SQLiteRepository{db: db, queries: New(db), now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func periodParams(p core.Period) PeriodParams {
	return PeriodParams{PeriodYear: int64(p.Year), PeriodMonth: int64(p.Month)}
}

func toPeriod(year, month int64) core.Period {
	return core.Period{Year: int(year), Month: time.Month(month)}
}

func joinIDs(ids []string) string { return strings.Join(core.SortedIDs(ids), ",") }

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return core.SortedIDs(strings.Split(s, ","))
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Record store: sales.

func (r *SQLiteRepository) SaveSale(ctx context.Context, s core.Sale) error {
	if err := r.queries.UpsertSale(ctx, Sale{
		ID:                 s.ID,
		Project:            s.Project,
		AmountExclVatCents: s.AmountExclVat.Cents,
		AmountInclVatCents: s.AmountInclVat.Cents,
		PaymentMethod:      s.PaymentMethod,
		CampaignTag:        s.CampaignTag,
		PeriodYear:         int64(s.Period.Year),
		PeriodMonth:        int64(s.Period.Month),
	}); err != nil {
		return fmt.Errorf("save sale %s: %w", s.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) ListSales(ctx context.Context, period core.Period) ([]core.Sale, error) {
	rows, err := r.queries.ListSalesByPeriod(ctx, periodParams(period))
	if err != nil {
		return nil, fmt.Errorf("list sales for %s: %w", period.Key(), err)
	}
	out := make([]core.Sale, 0, len(rows))
	for _, s := range rows {
		out = append(out, core.Sale{
			ID:            s.ID,
			Project:       s.Project,
			AmountExclVat: core.Money{Cents: s.AmountExclVatCents},
			AmountInclVat: core.Money{Cents: s.AmountInclVatCents},
			PaymentMethod: s.PaymentMethod,
			CampaignTag:   s.CampaignTag,
			Period:        toPeriod(s.PeriodYear, s.PeriodMonth),
		})
	}
	return out, nil
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]string, error) {
	projects, err := r.queries.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// Record store: payees.

func (r *SQLiteRepository) SavePayee(ctx context.Context, p core.Payee) error {
	names := make([]string, 0, len(p.Roles))
	for _, role := range p.Roles {
		names = append(names, role.String())
	}
	if err := r.queries.UpsertPayee(ctx, Payee{ID: p.ID, Name: p.Name, Roles: strings.Join(names, ",")}); err != nil {
		return fmt.Errorf("save payee %s: %w", p.ID, err)
	}
	return nil
}

func toPayee(p Payee) (core.Payee, error) {
	roles, err := core.ParseRoles(p.Roles)
	if err != nil {
		return core.Payee{}, fmt.Errorf("payee %s: %w", p.ID, err)
	}
	return core.Payee{ID: p.ID, Name: p.Name, Roles: roles}, nil
}

func (r *SQLiteRepository) ListPayees(ctx context.Context) ([]core.Payee, error) {
	rows, err := r.queries.ListPayees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payees: %w", err)
	}
	out := make([]core.Payee, 0, len(rows))
	for _, row := range rows {
		p, err := toPayee(row)
		if err != nil {
			slog.Warn("Skipping payee", log.FieldComponent, log.ComponentStorage, log.FieldError, err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *SQLiteRepository) GetPayee(ctx context.Context, id string) (core.Payee, bool, error) {
	row, err := r.queries.GetPayee(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payee{}, false, nil
	}
	if err != nil {
		return core.Payee{}, false, fmt.Errorf("get payee %s: %w", id, err)
	}
	p, err := toPayee(row)
	return p, err == nil, err
}

func (r *SQLiteRepository) FindPayeeByName(ctx context.Context, name string) (core.Payee, bool, error) {
	row, err := r.queries.FindPayeeByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payee{}, false, nil
	}
	if err != nil {
		return core.Payee{}, false, fmt.Errorf("find payee %q: %w", name, err)
	}
	p, err := toPayee(row)
	return p, err == nil, err
}

// Record store: commissions.

func (r *SQLiteRepository) SaveCommission(ctx context.Context, c core.MonthlyCommissionRecord) error {
	return r.withTx(ctx, func(q *Queries) error {
		if err := q.UpsertCommission(ctx, Commission{
			ID:                   c.ID,
			PayeeID:              c.PayeeRef,
			Role:                 c.Role.String(),
			FinalCommissionCents: c.FinalCommission.Cents,
			PeriodYear:           int64(c.Period.Year),
			PeriodMonth:          int64(c.Period.Month),
		}); err != nil {
			return fmt.Errorf("save commission %s: %w", c.ID, err)
		}
		return replaceLinks(ctx, q, c.ID, c.LinkedSaleIDs)
	})
}

func replaceLinks(ctx context.Context, q *Queries, commissionID string, saleIDs []string) error {
	if err := q.DeleteCommissionSales(ctx, commissionID); err != nil {
		return fmt.Errorf("clear linked sales of %s: %w", commissionID, err)
	}
	for _, id := range core.SortedIDs(saleIDs) {
		if err := q.InsertCommissionSale(ctx, commissionID, id); err != nil {
			return fmt.Errorf("link sale %s to %s: %w", id, commissionID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) toCommissions(ctx context.Context, rows []Commission) ([]core.MonthlyCommissionRecord, error) {
	out := make([]core.MonthlyCommissionRecord, 0, len(rows))
	for _, c := range rows {
		role, err := core.ParseRole(c.Role)
		if err != nil {
			slog.WarnContext(ctx, "Skipping commission", log.FieldComponent, log.ComponentStorage, "id", c.ID, log.FieldError, err)
			continue
		}
		linked, err := r.queries.ListCommissionSales(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("linked sales of %s: %w", c.ID, err)
		}
		out = append(out, core.MonthlyCommissionRecord{
			ID:              c.ID,
			PayeeRef:        c.PayeeID,
			Period:          toPeriod(c.PeriodYear, c.PeriodMonth),
			Role:            role,
			FinalCommission: core.Money{Cents: c.FinalCommissionCents},
			LinkedSaleIDs:   linked,
		})
	}
	return out, nil
}

func (r *SQLiteRepository) ListCommissions(ctx context.Context, period core.Period, roles ...core.Role) ([]core.MonthlyCommissionRecord, error) {
	rows, err := r.queries.ListCommissionsByPeriod(ctx, periodParams(period))
	if err != nil {
		return nil, fmt.Errorf("list commissions for %s: %w", period.Key(), err)
	}
	recs, err := r.toCommissions(ctx, rows)
	if err != nil || len(roles) == 0 {
		return recs, err
	}
	filtered := recs[:0]
	for _, rec := range recs {
		if core.HasRole(roles, rec.Role) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (r *SQLiteRepository) ListNegativeCommissions(ctx context.Context, payeeRef string, before core.Period) ([]core.MonthlyCommissionRecord, error) {
	rows, err := r.queries.ListNegativeCommissions(ctx, ListNegativeCommissionsParams{
		PayeeID:     payeeRef,
		BeforeYear:  int64(before.Year),
		BeforeMonth: int64(before.Month),
	})
	if err != nil {
		return nil, fmt.Errorf("list negative commissions of %s: %w", payeeRef, err)
	}
	return r.toCommissions(ctx, rows)
}

func (r *SQLiteRepository) UpdateLinkedSales(ctx context.Context, commissionID string, saleIDs []string) error {
	return r.withTx(ctx, func(q *Queries) error {
		ok, err := q.CommissionExists(ctx, commissionID)
		if err != nil {
			return fmt.Errorf("find commission %s: %w", commissionID, err)
		}
		if !ok {
			return fmt.Errorf("commission %s: %w", commissionID, ErrNotFound)
		}
		return replaceLinks(ctx, q, commissionID, saleIDs)
	})
}

// Record store: ad spend.

// ReplaceAdSpend swaps the stored campaigns of period for spend.
func (r *SQLiteRepository) ReplaceAdSpend(ctx context.Context, period core.Period, spend []core.AdSpend) error {
	return r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteAdSpendByPeriod(ctx, periodParams(period)); err != nil {
			return fmt.Errorf("clear ad spend for %s: %w", period.Key(), err)
		}
		for _, s := range spend {
			if err := q.InsertAdSpend(ctx, AdSpend{
				CampaignName: s.CampaignName,
				AmountCents:  s.Amount.Cents,
				Currency:     s.Currency,
				PeriodYear:   int64(period.Year),
				PeriodMonth:  int64(period.Month),
			}); err != nil {
				return fmt.Errorf("insert ad spend %q: %w", s.CampaignName, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) ListAdSpend(ctx context.Context, period core.Period) ([]core.AdSpend, error) {
	rows, err := r.queries.ListAdSpendByPeriod(ctx, periodParams(period))
	if err != nil {
		return nil, fmt.Errorf("list ad spend for %s: %w", period.Key(), err)
	}
	out := make([]core.AdSpend, 0, len(rows))
	for _, s := range rows {
		out = append(out, core.AdSpend{CampaignName: s.CampaignName, Amount: core.Money{Cents: s.AmountCents}, Currency: s.Currency})
	}
	return out, nil
}

// Ledger: derived expenses.

func fromExpense(e core.DerivedExpense) Expense {
	return Expense{
		NaturalKey:  e.NaturalKey,
		Name:        e.Name,
		Description: e.Description,
		Project:     e.Project,
		Category:    e.Category.String(),
		AmountCents: e.Amount.Cents,
		VatIncluded: boolInt(e.VATIncluded),
		Source:      string(e.Source),
		Kind:        string(e.Kind),
		SaleIds:     joinIDs(e.AssociatedSaleIDs),
		PeriodYear:  int64(e.Period.Year),
		PeriodMonth: int64(e.Period.Month),
		UpdatedAt:   e.UpdatedAt.UnixNano(),
	}
}

func toExpense(e Expense) (core.DerivedExpense, error) {
	cat, err := core.ParseCategory(e.Category)
	if err != nil {
		return core.DerivedExpense{}, fmt.Errorf("expense %d: %w", e.ID, err)
	}
	return core.DerivedExpense{
		ID:                strconv.FormatInt(e.ID, 10),
		NaturalKey:        e.NaturalKey,
		Name:              e.Name,
		Description:       e.Description,
		Project:           e.Project,
		Category:          cat,
		Amount:            core.Money{Cents: e.AmountCents},
		VATIncluded:       e.VatIncluded != 0,
		Period:            toPeriod(e.PeriodYear, e.PeriodMonth),
		Source:            core.SourceTag(e.Source),
		Kind:              core.Kind(e.Kind),
		AssociatedSaleIDs: splitIDs(e.SaleIds),
		UpdatedAt:         time.Unix(0, e.UpdatedAt).UTC(),
	}, nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", id, ErrNotFound)
	}
	return n, nil
}

func (r *SQLiteRepository) FindExpenseByKey(ctx context.Context, naturalKey string) (core.DerivedExpense, bool, error) {
	row, err := r.queries.GetExpenseByKey(ctx, naturalKey)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DerivedExpense{}, false, nil
	}
	if err != nil {
		return core.DerivedExpense{}, false, fmt.Errorf("find expense %q: %w", naturalKey, err)
	}
	e, err := toExpense(row)
	if err != nil {
		return core.DerivedExpense{}, false, err
	}
	return e, true, nil
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.DerivedExpense) (core.DerivedExpense, error) {
	if e.Source == "" {
		e.Source = core.SourceAutomatic
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = r.now()
	}
	id, err := r.queries.CreateExpense(ctx, fromExpense(e))
	if err != nil {
		return core.DerivedExpense{}, fmt.Errorf("create expense %q: %w", e.NaturalKey, err)
	}
	e.ID = strconv.FormatInt(id, 10)
	return e, nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.DerivedExpense) error {
	id, err := parseID(e.ID)
	if err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = r.now()
	}
	row := fromExpense(e)
	row.ID = id
	n, err := r.queries.UpdateExpense(ctx, row)
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update expense %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, period core.Period) ([]core.DerivedExpense, error) {
	rows, err := r.queries.ListExpensesByPeriod(ctx, periodParams(period))
	if err != nil {
		return nil, fmt.Errorf("list expenses for %s: %w", period.Key(), err)
	}
	out := make([]core.DerivedExpense, 0, len(rows))
	for _, row := range rows {
		e, err := toExpense(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	affected, err := r.queries.DeleteExpense(ctx, n)
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete expense %s: %w", id, ErrNotFound)
	}
	return nil
}

// Ledger: P&L lines.

func fromPnLLine(l core.PnLLine) PnlLine {
	return PnlLine{
		Project:        l.Project,
		Bucket:         l.Bucket.String(),
		Label:          l.Label,
		AmountRonCents: l.AmountRon.Cents,
		AmountEurCents: l.AmountEur.Cents,
		Description:    l.Description,
		PeriodYear:     int64(l.Period.Year),
		PeriodMonth:    int64(l.Period.Month),
		UpdatedAt:      l.UpdatedAt.UnixNano(),
	}
}

func toPnLLine(l PnlLine) (core.PnLLine, error) {
	b, err := core.ParseBucket(l.Bucket)
	if err != nil {
		return core.PnLLine{}, fmt.Errorf("P&L line %d: %w", l.ID, err)
	}
	return core.PnLLine{
		ID:          strconv.FormatInt(l.ID, 10),
		Project:     l.Project,
		Period:      toPeriod(l.PeriodYear, l.PeriodMonth),
		Bucket:      b,
		Label:       l.Label,
		AmountRon:   core.Money{Cents: l.AmountRonCents},
		AmountEur:   core.Money{Cents: l.AmountEurCents},
		Description: l.Description,
		UpdatedAt:   time.Unix(0, l.UpdatedAt).UTC(),
	}, nil
}

func (r *SQLiteRepository) FindPnLLine(ctx context.Context, project string, period core.Period, bucket core.Bucket, label string) (core.PnLLine, bool, error) {
	row, err := r.queries.GetPnlLine(ctx, fromPnLLine(core.PnLLine{Project: project, Period: period, Bucket: bucket, Label: label}))
	if errors.Is(err, sql.ErrNoRows) {
		return core.PnLLine{}, false, nil
	}
	if err != nil {
		return core.PnLLine{}, false, fmt.Errorf("find P&L line %s/%s: %w", project, label, err)
	}
	l, err := toPnLLine(row)
	if err != nil {
		return core.PnLLine{}, false, err
	}
	return l, true, nil
}

func (r *SQLiteRepository) CreatePnLLine(ctx context.Context, l core.PnLLine) (core.PnLLine, error) {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = r.now()
	}
	id, err := r.queries.CreatePnlLine(ctx, fromPnLLine(l))
	if err != nil {
		return core.PnLLine{}, fmt.Errorf("create P&L line %s/%s: %w", l.Project, l.Label, err)
	}
	l.ID = strconv.FormatInt(id, 10)
	return l, nil
}

func (r *SQLiteRepository) UpdatePnLLine(ctx context.Context, l core.PnLLine) error {
	id, err := parseID(l.ID)
	if err != nil {
		return err
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = r.now()
	}
	row := fromPnLLine(l)
	row.ID = id
	n, err := r.queries.UpdatePnlLine(ctx, row)
	if err != nil {
		return fmt.Errorf("update P&L line %s: %w", l.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update P&L line %s: %w", l.ID, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListPnLLines(ctx context.Context, project string, period core.Period) ([]core.PnLLine, error) {
	rows, err := r.queries.ListPnlLines(ctx, project, periodParams(period))
	if err != nil {
		return nil, fmt.Errorf("list P&L lines %s %s: %w", project, period.Key(), err)
	}
	out := make([]core.PnLLine, 0, len(rows))
	for _, row := range rows {
		l, err := toPnLLine(row)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Ledger: debt settlements.

func (r *SQLiteRepository) ListSettlements(ctx context.Context, payeeRef string) ([]core.DebtSettlement, error) {
	rows, err := r.queries.ListSettlements(ctx, payeeRef)
	if err != nil {
		return nil, fmt.Errorf("list settlements of %s: %w", payeeRef, err)
	}
	out := make([]core.DebtSettlement, 0, len(rows))
	for _, s := range rows {
		out = append(out, core.DebtSettlement{
			DebtRecordID: s.DebtRecordID,
			PayeeRef:     s.PayeeID,
			DebtPeriod:   toPeriod(s.DebtYear, s.DebtMonth),
			ConsumedBy:   toPeriod(s.ConsumedYear, s.ConsumedMonth),
			Amount:       core.Money{Cents: s.AmountCents},
		})
	}
	return out, nil
}

func (r *SQLiteRepository) ReplaceSettlements(ctx context.Context, payeeRef string, consumedBy core.Period, settlements []core.DebtSettlement) error {
	return r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteSettlementsByConsumer(ctx, payeeRef, periodParams(consumedBy)); err != nil {
			return fmt.Errorf("clear settlements of %s for %s: %w", payeeRef, consumedBy.Key(), err)
		}
		for _, s := range settlements {
			if err := q.InsertSettlement(ctx, DebtSettlement{
				DebtRecordID:  s.DebtRecordID,
				PayeeID:       payeeRef,
				DebtYear:      int64(s.DebtPeriod.Year),
				DebtMonth:     int64(s.DebtPeriod.Month),
				ConsumedYear:  int64(consumedBy.Year),
				ConsumedMonth: int64(consumedBy.Month),
				AmountCents:   s.Amount.Cents,
			}); err != nil {
				return fmt.Errorf("insert settlement of %s: %w", s.DebtRecordID, err)
			}
		}
		return nil
	})
}
