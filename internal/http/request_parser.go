package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"comisioane/internal/core"
	"comisioane/internal/services"
)

const (
	maxBodyBytes = 64 << 10
	// maxRunPeriods bounds a single run request.
	maxRunPeriods = 36
)

var errBadRequest = errors.New("bad request")

// RunBody is the JSON body of POST /api/runs. Periods and From/To are
// mutually exclusive; with neither, the current period runs. From without
// To runs up to the current period.
type RunBody struct {
	Periods []string `json:"periods,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Scope   string   `json:"scope,omitempty"`
	// Async enqueues the run instead of executing it in the request.
	Async bool `json:"async,omitempty"`
}

type runParams struct {
	Periods []core.Period
	Scope   services.Scope
	Async   bool
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads a bounded JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("body exceeds %d bytes", tooLarge.Limit)
		}
		return badRequest("malformed JSON: %v", err)
	}
	if dec.More() {
		return badRequest("trailing data after JSON body")
	}
	return nil
}

// parseRunRequest validates a run body. Period keys are parsed strictly.
func parseRunRequest(w http.ResponseWriter, r *http.Request, now time.Time) (runParams, error) {
	var body RunBody
	if err := decodeJSON(w, r, &body); err != nil {
		return runParams{}, err
	}
	scope, err := services.ParseScope(body.Scope)
	if err != nil {
		return runParams{}, badRequest("%v", err)
	}
	periods, err := resolvePeriods(body, core.PeriodOf(now))
	if err != nil {
		return runParams{}, err
	}
	return runParams{Periods: periods, Scope: scope, Async: body.Async}, nil
}

func resolvePeriods(body RunBody, current core.Period) ([]core.Period, error) {
	hasRange := body.From != "" || body.To != ""
	switch {
	case len(body.Periods) > 0 && hasRange:
		return nil, badRequest("periods and from/to are mutually exclusive")
	case len(body.Periods) > 0:
		if len(body.Periods) > maxRunPeriods {
			return nil, badRequest("at most %d periods per run", maxRunPeriods)
		}
		out := make([]core.Period, 0, len(body.Periods))
		seen := make(map[core.Period]bool, len(body.Periods))
		for _, key := range body.Periods {
			p, err := core.ParsePeriod(key)
			if err != nil {
				return nil, err
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
		return out, nil
	case hasRange:
		if body.From == "" {
			return nil, badRequest("to requires from")
		}
		from, err := core.ParsePeriod(body.From)
		if err != nil {
			return nil, err
		}
		to := current
		if body.To != "" {
			if to, err = core.ParsePeriod(body.To); err != nil {
				return nil, err
			}
		}
		out := core.PeriodRange(from, to)
		if len(out) == 0 {
			return nil, badRequest("from %s is after to %s", from.Key(), to.Key())
		}
		if len(out) > maxRunPeriods {
			return nil, badRequest("range spans %d periods, at most %d allowed", len(out), maxRunPeriods)
		}
		return out, nil
	}
	return []core.Period{current}, nil
}

// periodParam reads a required period key from the query string.
func periodParam(r *http.Request) (core.Period, error) {
	key := strings.TrimSpace(r.URL.Query().Get("period"))
	if key == "" {
		return core.Period{}, badRequest("missing period")
	}
	return core.ParsePeriod(key)
}
