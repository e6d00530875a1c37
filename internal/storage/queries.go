package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row models.

type Sale struct {
	ID                 string
	Project            string
	AmountExclVatCents int64
	AmountInclVatCents int64
	PaymentMethod      string
	CampaignTag        string
	PeriodYear         int64
	PeriodMonth        int64
}

type Payee struct {
	ID    string
	Name  string
	Roles string
}

type Commission struct {
	ID                   string
	PayeeID              string
	Role                 string
	FinalCommissionCents int64
	PeriodYear           int64
	PeriodMonth          int64
}

type AdSpend struct {
	ID           int64
	CampaignName string
	AmountCents  int64
	Currency     string
	PeriodYear   int64
	PeriodMonth  int64
}

type Expense struct {
	ID          int64
	NaturalKey  string
	Name        string
	Description string
	Project     string
	Category    string
	AmountCents int64
	VatIncluded int64
	Source      string
	Kind        string
	SaleIds     string
	PeriodYear  int64
	PeriodMonth int64
	UpdatedAt   int64
}

type PnlLine struct {
	ID             int64
	Project        string
	Bucket         string
	Label          string
	AmountRonCents int64
	AmountEurCents int64
	Description    string
	PeriodYear     int64
	PeriodMonth    int64
	UpdatedAt      int64
}

type DebtSettlement struct {
	DebtRecordID  string
	PayeeID       string
	DebtYear      int64
	DebtMonth     int64
	ConsumedYear  int64
	ConsumedMonth int64
	AmountCents   int64
}

type PeriodParams struct {
	PeriodYear  int64
	PeriodMonth int64
}

// Sales.

const upsertSale = `INSERT INTO sales (id, project, amount_excl_vat_cents, amount_incl_vat_cents, payment_method, campaign_tag, period_year, period_month)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    project = excluded.project,
    amount_excl_vat_cents = excluded.amount_excl_vat_cents,
    amount_incl_vat_cents = excluded.amount_incl_vat_cents,
    payment_method = excluded.payment_method,
    campaign_tag = excluded.campaign_tag,
    period_year = excluded.period_year,
    period_month = excluded.period_month`

func (q *Queries) UpsertSale(ctx context.Context, arg Sale) error {
	_, err := q.db.ExecContext(ctx, upsertSale,
		arg.ID, arg.Project, arg.AmountExclVatCents, arg.AmountInclVatCents,
		arg.PaymentMethod, arg.CampaignTag, arg.PeriodYear, arg.PeriodMonth)
	return err
}

const listSalesByPeriod = `SELECT id, project, amount_excl_vat_cents, amount_incl_vat_cents, payment_method, campaign_tag, period_year, period_month
FROM sales WHERE period_year = ? AND period_month = ? ORDER BY id`

func (q *Queries) ListSalesByPeriod(ctx context.Context, arg PeriodParams) ([]Sale, error) {
	rows, err := q.db.QueryContext(ctx, listSalesByPeriod, arg.PeriodYear, arg.PeriodMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Sale
	for rows.Next() {
		var i Sale
		if err := rows.Scan(&i.ID, &i.Project, &i.AmountExclVatCents, &i.AmountInclVatCents,
			&i.PaymentMethod, &i.CampaignTag, &i.PeriodYear, &i.PeriodMonth); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listProjects = `SELECT DISTINCT project FROM sales WHERE project <> '' ORDER BY project`

func (q *Queries) ListProjects(ctx context.Context) ([]string, error) {
	return q.strings(ctx, listProjects)
}

// Payees.

const upsertPayee = `INSERT INTO payees (id, name, roles) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, roles = excluded.roles`

func (q *Queries) UpsertPayee(ctx context.Context, arg Payee) error {
	_, err := q.db.ExecContext(ctx, upsertPayee, arg.ID, arg.Name, arg.Roles)
	return err
}

const listPayees = `SELECT id, name, roles FROM payees ORDER BY name, id`

func (q *Queries) ListPayees(ctx context.Context) ([]Payee, error) {
	return q.payees(ctx, listPayees)
}

const getPayee = `SELECT id, name, roles FROM payees WHERE id = ?`

func (q *Queries) GetPayee(ctx context.Context, id string) (Payee, error) {
	var i Payee
	err := q.db.QueryRowContext(ctx, getPayee, id).Scan(&i.ID, &i.Name, &i.Roles)
	return i, err
}

const findPayeeByName = `SELECT id, name, roles FROM payees WHERE trim(name) = trim(?) COLLATE NOCASE ORDER BY id LIMIT 1`

func (q *Queries) FindPayeeByName(ctx context.Context, name string) (Payee, error) {
	var i Payee
	err := q.db.QueryRowContext(ctx, findPayeeByName, name).Scan(&i.ID, &i.Name, &i.Roles)
	return i, err
}

func (q *Queries) payees(ctx context.Context, query string, args ...interface{}) ([]Payee, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payee
	for rows.Next() {
		var i Payee
		if err := rows.Scan(&i.ID, &i.Name, &i.Roles); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// Commissions.

const upsertCommission = `INSERT INTO commissions (id, payee_id, role, final_commission_cents, period_year, period_month)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    payee_id = excluded.payee_id,
    role = excluded.role,
    final_commission_cents = excluded.final_commission_cents,
    period_year = excluded.period_year,
    period_month = excluded.period_month`

func (q *Queries) UpsertCommission(ctx context.Context, arg Commission) error {
	_, err := q.db.ExecContext(ctx, upsertCommission,
		arg.ID, arg.PayeeID, arg.Role, arg.FinalCommissionCents, arg.PeriodYear, arg.PeriodMonth)
	return err
}

const commissionColumns = `SELECT id, payee_id, role, final_commission_cents, period_year, period_month FROM commissions`

const listCommissionsByPeriod = commissionColumns + ` WHERE period_year = ? AND period_month = ? ORDER BY id`

func (q *Queries) ListCommissionsByPeriod(ctx context.Context, arg PeriodParams) ([]Commission, error) {
	return q.commissions(ctx, listCommissionsByPeriod, arg.PeriodYear, arg.PeriodMonth)
}

const listNegativeCommissions = commissionColumns + `
WHERE payee_id = ? AND final_commission_cents < 0
  AND (period_year * 12 + period_month) < (? * 12 + ?)
ORDER BY period_year, period_month, id`

type ListNegativeCommissionsParams struct {
	PayeeID     string
	BeforeYear  int64
	BeforeMonth int64
}

func (q *Queries) ListNegativeCommissions(ctx context.Context, arg ListNegativeCommissionsParams) ([]Commission, error) {
	return q.commissions(ctx, listNegativeCommissions, arg.PayeeID, arg.BeforeYear, arg.BeforeMonth)
}

func (q *Queries) commissions(ctx context.Context, query string, args ...interface{}) ([]Commission, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Commission
	for rows.Next() {
		var i Commission
		if err := rows.Scan(&i.ID, &i.PayeeID, &i.Role, &i.FinalCommissionCents, &i.PeriodYear, &i.PeriodMonth); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const commissionExists = `SELECT COUNT(*) FROM commissions WHERE id = ?`

func (q *Queries) CommissionExists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, commissionExists, id).Scan(&n)
	return n > 0, err
}

const listCommissionSales = `SELECT sale_id FROM commission_sales WHERE commission_id = ? ORDER BY sale_id`

func (q *Queries) ListCommissionSales(ctx context.Context, commissionID string) ([]string, error) {
	return q.strings(ctx, listCommissionSales, commissionID)
}

const deleteCommissionSales = `DELETE FROM commission_sales WHERE commission_id = ?`

func (q *Queries) DeleteCommissionSales(ctx context.Context, commissionID string) error {
	_, err := q.db.ExecContext(ctx, deleteCommissionSales, commissionID)
	return err
}

const insertCommissionSale = `INSERT OR IGNORE INTO commission_sales (commission_id, sale_id) VALUES (?, ?)`

func (q *Queries) InsertCommissionSale(ctx context.Context, commissionID, saleID string) error {
	_, err := q.db.ExecContext(ctx, insertCommissionSale, commissionID, saleID)
	return err
}

// Ad spend.

const deleteAdSpendByPeriod = `DELETE FROM ad_spend WHERE period_year = ? AND period_month = ?`

func (q *Queries) DeleteAdSpendByPeriod(ctx context.Context, arg PeriodParams) error {
	_, err := q.db.ExecContext(ctx, deleteAdSpendByPeriod, arg.PeriodYear, arg.PeriodMonth)
	return err
}

const insertAdSpend = `INSERT INTO ad_spend (campaign_name, amount_cents, currency, period_year, period_month) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) InsertAdSpend(ctx context.Context, arg AdSpend) error {
	_, err := q.db.ExecContext(ctx, insertAdSpend, arg.CampaignName, arg.AmountCents, arg.Currency, arg.PeriodYear, arg.PeriodMonth)
	return err
}

const listAdSpendByPeriod = `SELECT id, campaign_name, amount_cents, currency, period_year, period_month
FROM ad_spend WHERE period_year = ? AND period_month = ? ORDER BY id`

func (q *Queries) ListAdSpendByPeriod(ctx context.Context, arg PeriodParams) ([]AdSpend, error) {
	rows, err := q.db.QueryContext(ctx, listAdSpendByPeriod, arg.PeriodYear, arg.PeriodMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AdSpend
	for rows.Next() {
		var i AdSpend
		if err := rows.Scan(&i.ID, &i.CampaignName, &i.AmountCents, &i.Currency, &i.PeriodYear, &i.PeriodMonth); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// Expenses.

const expenseColumns = `SELECT id, natural_key, name, description, project, category, amount_cents, vat_included,
       source, kind, sale_ids, period_year, period_month, updated_at FROM expenses`

func scanExpense(row interface{ Scan(...interface{}) error }) (Expense, error) {
	var i Expense
	err := row.Scan(&i.ID, &i.NaturalKey, &i.Name, &i.Description, &i.Project, &i.Category, &i.AmountCents,
		&i.VatIncluded, &i.Source, &i.Kind, &i.SaleIds, &i.PeriodYear, &i.PeriodMonth, &i.UpdatedAt)
	return i, err
}

const getExpenseByKey = expenseColumns + ` WHERE natural_key = ?`

func (q *Queries) GetExpenseByKey(ctx context.Context, naturalKey string) (Expense, error) {
	return scanExpense(q.db.QueryRowContext(ctx, getExpenseByKey, naturalKey))
}

const createExpense = `INSERT INTO expenses (natural_key, name, description, project, category, amount_cents, vat_included,
    source, kind, sale_ids, period_year, period_month, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) CreateExpense(ctx context.Context, arg Expense) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createExpense,
		arg.NaturalKey, arg.Name, arg.Description, arg.Project, arg.Category, arg.AmountCents, arg.VatIncluded,
		arg.Source, arg.Kind, arg.SaleIds, arg.PeriodYear, arg.PeriodMonth, arg.UpdatedAt).Scan(&id)
	return id, err
}

const updateExpense = `UPDATE expenses SET natural_key = ?, name = ?, description = ?, project = ?, category = ?,
    amount_cents = ?, vat_included = ?, kind = ?, sale_ids = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) UpdateExpense(ctx context.Context, arg Expense) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateExpense,
		arg.NaturalKey, arg.Name, arg.Description, arg.Project, arg.Category,
		arg.AmountCents, arg.VatIncluded, arg.Kind, arg.SaleIds, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listExpensesByPeriod = expenseColumns + ` WHERE period_year = ? AND period_month = ? ORDER BY id`

func (q *Queries) ListExpensesByPeriod(ctx context.Context, arg PeriodParams) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesByPeriod, arg.PeriodYear, arg.PeriodMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Expense
	for rows.Next() {
		i, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteExpense = `DELETE FROM expenses WHERE id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpense, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// P&L lines.

const pnlColumns = `SELECT id, project, bucket, label, amount_ron_cents, amount_eur_cents, description,
       period_year, period_month, updated_at FROM pnl_lines`

func scanPnlLine(row interface{ Scan(...interface{}) error }) (PnlLine, error) {
	var i PnlLine
	err := row.Scan(&i.ID, &i.Project, &i.Bucket, &i.Label, &i.AmountRonCents, &i.AmountEurCents,
		&i.Description, &i.PeriodYear, &i.PeriodMonth, &i.UpdatedAt)
	return i, err
}

const getPnlLine = pnlColumns + ` WHERE project = ? AND period_year = ? AND period_month = ? AND bucket = ? AND label = ?`

func (q *Queries) GetPnlLine(ctx context.Context, arg PnlLine) (PnlLine, error) {
	return scanPnlLine(q.db.QueryRowContext(ctx, getPnlLine, arg.Project, arg.PeriodYear, arg.PeriodMonth, arg.Bucket, arg.Label))
}

const createPnlLine = `INSERT INTO pnl_lines (project, bucket, label, amount_ron_cents, amount_eur_cents, description,
    period_year, period_month, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) CreatePnlLine(ctx context.Context, arg PnlLine) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createPnlLine,
		arg.Project, arg.Bucket, arg.Label, arg.AmountRonCents, arg.AmountEurCents, arg.Description,
		arg.PeriodYear, arg.PeriodMonth, arg.UpdatedAt).Scan(&id)
	return id, err
}

const updatePnlLine = `UPDATE pnl_lines SET amount_ron_cents = ?, amount_eur_cents = ?, description = ?, updated_at = ? WHERE id = ?`

func (q *Queries) UpdatePnlLine(ctx context.Context, arg PnlLine) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePnlLine, arg.AmountRonCents, arg.AmountEurCents, arg.Description, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listPnlLines = pnlColumns + ` WHERE project = ? AND period_year = ? AND period_month = ? ORDER BY id`

func (q *Queries) ListPnlLines(ctx context.Context, project string, arg PeriodParams) ([]PnlLine, error) {
	rows, err := q.db.QueryContext(ctx, listPnlLines, project, arg.PeriodYear, arg.PeriodMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PnlLine
	for rows.Next() {
		i, err := scanPnlLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// Debt settlements.

const listSettlements = `SELECT debt_record_id, payee_id, debt_year, debt_month, consumed_year, consumed_month, amount_cents
FROM debt_settlements WHERE payee_id = ? ORDER BY debt_year, debt_month, consumed_year, consumed_month`

func (q *Queries) ListSettlements(ctx context.Context, payeeID string) ([]DebtSettlement, error) {
	rows, err := q.db.QueryContext(ctx, listSettlements, payeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DebtSettlement
	for rows.Next() {
		var i DebtSettlement
		if err := rows.Scan(&i.DebtRecordID, &i.PayeeID, &i.DebtYear, &i.DebtMonth,
			&i.ConsumedYear, &i.ConsumedMonth, &i.AmountCents); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteSettlementsByConsumer = `DELETE FROM debt_settlements WHERE payee_id = ? AND consumed_year = ? AND consumed_month = ?`

func (q *Queries) DeleteSettlementsByConsumer(ctx context.Context, payeeID string, arg PeriodParams) error {
	_, err := q.db.ExecContext(ctx, deleteSettlementsByConsumer, payeeID, arg.PeriodYear, arg.PeriodMonth)
	return err
}

const insertSettlement = `INSERT INTO debt_settlements (debt_record_id, payee_id, debt_year, debt_month, consumed_year, consumed_month, amount_cents)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertSettlement(ctx context.Context, arg DebtSettlement) error {
	_, err := q.db.ExecContext(ctx, insertSettlement,
		arg.DebtRecordID, arg.PayeeID, arg.DebtYear, arg.DebtMonth, arg.ConsumedYear, arg.ConsumedMonth, arg.AmountCents)
	return err
}

func (q *Queries) strings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
