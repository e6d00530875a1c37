package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"comisioane/internal/core"
)

// ErrInvalidRequest marks a message that can never be processed.
var ErrInvalidRequest = errors.New("invalid run request")

// RunRequest asks the worker to process one or more periods. Periods are
// period keys such as "Octombrie 2025"; Scope is empty for a full run.
type RunRequest struct {
	RequestID   string    `json:"request_id,omitempty"`
	Periods     []string  `json:"periods"`
	Scope       string    `json:"scope,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewRunRequest builds a request stamped with the current time.
func NewRunRequest(scope string, periods ...core.Period) *RunRequest {
	keys := make([]string, len(periods))
	for i, p := range periods {
		keys[i] = p.Key()
	}
	return &RunRequest{Periods: keys, Scope: scope, RequestedAt: time.Now()}
}

// ToJSON converts the message to JSON bytes
func (m *RunRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RunRequestFromJSON decodes and validates a message body.
func RunRequestFromJSON(data []byte) (*RunRequest, error) {
	var msg RunRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if _, err := msg.ParsePeriods(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParsePeriods parses every period key strictly. One bad key rejects the
// whole request.
func (m *RunRequest) ParsePeriods() ([]core.Period, error) {
	if len(m.Periods) == 0 {
		return nil, fmt.Errorf("%w: no periods", ErrInvalidRequest)
	}
	out := make([]core.Period, 0, len(m.Periods))
	seen := map[core.Period]bool{}
	for _, key := range m.Periods {
		p, err := core.ParsePeriod(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}
