package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"comisioane/internal/amqp"
	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/middleware/trace"
	"comisioane/internal/services"
)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON encodes v with status. Encoding errors are logged only; the
// header is already out by then.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Failed to encode response",
			log.NewFields().WithError(err).ToSlice()...)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, ErrorBody{Error: msg, RequestID: trace.GetRequestID(r.Context())})
}

// writeErr maps err onto a status code and logs server-side failures.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().WithError(err).WithOperation(r.URL.Path).ToSlice()...)
	}
	writeError(w, r, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, amqp.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrCredentialOrConfig):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrLookupFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ExpenseView is the JSON rendering of a derived expense.
type ExpenseView struct {
	ID          string   `json:"id"`
	NaturalKey  string   `json:"natural_key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Project     string   `json:"project"`
	Category    string   `json:"category"`
	Kind        string   `json:"kind,omitempty"`
	Amount      string   `json:"amount"`
	VATIncluded bool     `json:"vat_included"`
	Period      string   `json:"period"`
	Source      string   `json:"source"`
	SaleIDs     []string `json:"sale_ids,omitempty"`
}

func expenseView(e core.DerivedExpense) ExpenseView {
	return ExpenseView{
		ID:          e.ID,
		NaturalKey:  e.NaturalKey,
		Name:        e.Name,
		Description: e.Description,
		Project:     e.Project,
		Category:    e.Category.String(),
		Kind:        string(e.Kind),
		Amount:      e.Amount.String(),
		VATIncluded: e.VATIncluded,
		Period:      e.Period.Key(),
		Source:      string(e.Source),
		SaleIDs:     e.AssociatedSaleIDs,
	}
}

// PnLLineView is the JSON rendering of one P&L row.
type PnLLineView struct {
	Bucket      string `json:"bucket"`
	Label       string `json:"label"`
	AmountRON   string `json:"amount_ron"`
	AmountEUR   string `json:"amount_eur"`
	Description string `json:"description,omitempty"`
}

func pnlLineView(l core.PnLLine) PnLLineView {
	v := PnLLineView{
		Bucket:      l.Bucket.String(),
		Label:       l.Label,
		AmountRON:   l.AmountRon.String(),
		AmountEUR:   l.AmountEur.String(),
		Description: l.Description,
	}
	// The margin row carries its percentage in Description.
	if l.Label == core.LabelProfitMargin {
		v.AmountRON, v.AmountEUR = "", ""
	}
	return v
}

// EnqueuedView acknowledges an asynchronous run.
type EnqueuedView struct {
	RequestID string   `json:"request_id"`
	Scope     string   `json:"scope"`
	Periods   []string `json:"periods"`
}
