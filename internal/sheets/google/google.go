// Package google reads the upstream record store from a Google
// spreadsheet: one tab each for sales, monthly commissions, the payee
// directory and ad spend. Every call goes through the shared pacing client.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/pacing"
)

// Tabs names the spreadsheet tabs.
type Tabs struct {
	Sales       string
	Commissions string
	Payees      string
	AdSpend     string
}

// DefaultTabs matches the production spreadsheet.
func DefaultTabs() Tabs {
	return Tabs{Sales: "Vanzari", Commissions: "Comisioane", Payees: "Persoane", AdSpend: "Reclame"}
}

// Config selects the spreadsheet and credentials. CredentialsJSON wins
// over CredentialsFile; with neither, GOOGLE_APPLICATION_CREDENTIALS is used.
type Config struct {
	SpreadsheetID   string
	Tabs            Tabs
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	tabs          Tabs
	pace          *pacing.Client
}

// New creates a client authenticated with a service account.
func New(ctx context.Context, cfg Config, pace *pacing.Client) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("%w: missing spreadsheet id", core.ErrCredentialOrConfig)
	}
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("%w: create sheets service: %w", core.ErrCredentialOrConfig, err)
	}
	slog.InfoContext(ctx, "Google Sheets client ready",
		log.FieldComponent, log.ComponentSheets, "spreadsheet_id", cfg.SpreadsheetID)
	return NewWithService(svc, cfg.SpreadsheetID, cfg.Tabs, pace), nil
}

// NewWithService wraps an existing service. Empty tab names take defaults.
func NewWithService(svc *gsheet.Service, spreadsheetID string, tabs Tabs, pace *pacing.Client) *Client {
	def := DefaultTabs()
	if tabs.Sales == "" {
		tabs.Sales = def.Sales
	}
	if tabs.Commissions == "" {
		tabs.Commissions = def.Commissions
	}
	if tabs.Payees == "" {
		tabs.Payees = def.Payees
	}
	if tabs.AdSpend == "" {
		tabs.AdSpend = def.AdSpend
	}
	if pace == nil {
		pace = pacing.NewClient(nil, pacing.Policy{Attempts: 1})
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, tabs: tabs, pace: pace}
}

func credentials(cfg Config) ([]byte, error) {
	if j := strings.TrimSpace(cfg.CredentialsJSON); j != "" {
		return []byte(j), nil
	}
	path := strings.TrimSpace(cfg.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, fmt.Errorf("%w: missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS)", core.ErrCredentialOrConfig)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read service account file: %w", core.ErrCredentialOrConfig, err)
	}
	return b, nil
}

// classify maps API failures onto the error taxonomy. Authentication,
// permission and addressing errors cannot heal by retrying.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: %w", core.ErrCredentialOrConfig, err)
		case http.StatusBadRequest:
			return pacing.Permanent(err)
		}
	}
	return err
}

func (c *Client) read(ctx context.Context, tab string) ([][]interface{}, error) {
	if c.svc == nil {
		return nil, fmt.Errorf("%w: sheets service not initialized", core.ErrCredentialOrConfig)
	}
	var values [][]interface{}
	err := c.pace.Do(ctx, "read "+tab, func(ctx context.Context) error {
		resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quoteTab(tab)).
			ValueRenderOption("UNFORMATTED_VALUE").
			Context(ctx).Do()
		if err != nil {
			return classify(err)
		}
		values = resp.Values
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tab, err)
	}
	return values, nil
}

func (c *Client) ListSales(ctx context.Context, period core.Period) ([]core.Sale, error) {
	values, err := c.read(ctx, c.tabs.Sales)
	if err != nil {
		return nil, err
	}
	all, err := parseSales(ctx, values)
	if err != nil {
		return nil, err
	}
	var out []core.Sale
	for _, s := range all {
		if s.Period == period {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]string, error) {
	values, err := c.read(ctx, c.tabs.Sales)
	if err != nil {
		return nil, err
	}
	all, err := parseSales(ctx, values)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range all {
		if p := strings.TrimSpace(s.Project); p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Client) commissions(ctx context.Context) ([]commissionRow, error) {
	values, err := c.read(ctx, c.tabs.Commissions)
	if err != nil {
		return nil, err
	}
	return parseCommissions(ctx, values)
}

func (c *Client) ListCommissions(ctx context.Context, period core.Period, roles ...core.Role) ([]core.MonthlyCommissionRecord, error) {
	rows, err := c.commissions(ctx)
	if err != nil {
		return nil, err
	}
	var out []core.MonthlyCommissionRecord
	for _, r := range rows {
		if r.rec.Period != period {
			continue
		}
		if len(roles) > 0 && !core.HasRole(roles, r.rec.Role) {
			continue
		}
		out = append(out, r.rec)
	}
	return out, nil
}

func (c *Client) ListNegativeCommissions(ctx context.Context, payeeRef string, before core.Period) ([]core.MonthlyCommissionRecord, error) {
	rows, err := c.commissions(ctx)
	if err != nil {
		return nil, err
	}
	var out []core.MonthlyCommissionRecord
	for _, r := range rows {
		if r.rec.PayeeRef == payeeRef && r.rec.FinalCommission.Cents < 0 && r.rec.Period.Before(before) {
			out = append(out, r.rec)
		}
	}
	return out, nil
}

// UpdateLinkedSales writes the sale ids, comma separated, into the
// record's linked sales cell.
func (c *Client) UpdateLinkedSales(ctx context.Context, commissionID string, saleIDs []string) error {
	values, err := c.read(ctx, c.tabs.Commissions)
	if err != nil {
		return err
	}
	cell, err := linkedSalesCell(c.tabs.Commissions, values, commissionID)
	if err != nil {
		return err
	}
	body := &gsheet.ValueRange{Values: [][]interface{}{{strings.Join(core.SortedIDs(saleIDs), ", ")}}}
	err = c.pace.Do(ctx, "update "+cell, func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, cell, body).
			ValueInputOption("RAW").
			Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", cell, err)
	}
	slog.DebugContext(ctx, "Linked sales updated",
		log.FieldComponent, log.ComponentSheets, "commission_id", commissionID, "cell", cell, "sales", len(saleIDs))
	return nil
}

func (c *Client) ListPayees(ctx context.Context) ([]core.Payee, error) {
	values, err := c.read(ctx, c.tabs.Payees)
	if err != nil {
		return nil, err
	}
	return parsePayees(ctx, values)
}

func (c *Client) GetPayee(ctx context.Context, id string) (core.Payee, bool, error) {
	payees, err := c.ListPayees(ctx)
	if err != nil {
		return core.Payee{}, false, err
	}
	for _, p := range payees {
		if p.ID == id {
			return p, true, nil
		}
	}
	return core.Payee{}, false, nil
}

func (c *Client) FindPayeeByName(ctx context.Context, name string) (core.Payee, bool, error) {
	payees, err := c.ListPayees(ctx)
	if err != nil {
		return core.Payee{}, false, err
	}
	for _, p := range payees {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, true, nil
		}
	}
	return core.Payee{}, false, nil
}

func (c *Client) ListAdSpend(ctx context.Context, period core.Period) ([]core.AdSpend, error) {
	values, err := c.read(ctx, c.tabs.AdSpend)
	if err != nil {
		return nil, err
	}
	return parseAdSpend(ctx, values, period)
}
