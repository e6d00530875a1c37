package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"caller id kept", "run-2025.10_a", true},
		{"malformed id replaced", "bad id\nwith newline", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if seen == "" || rr.Header().Get(HeaderRequestID) != seen {
				t.Fatalf("context id %q, header %q", seen, rr.Header().Get(HeaderRequestID))
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("id = %q, want %q", seen, tt.incoming)
			}
			if !tt.keep && !strings.HasPrefix(seen, "req_") {
				t.Errorf("id = %q, want generated req_ prefix", seen)
			}
		})
	}
}
