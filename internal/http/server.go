// Package http exposes the run trigger and read-only views of the ledger
// as a small JSON API.
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"comisioane/internal/amqp"
	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/middleware/ratelimit"
	"comisioane/internal/middleware/security"
	"comisioane/internal/middleware/trace"
	"comisioane/internal/services"
	"comisioane/internal/sheets"
)

// RunTrigger executes runs in-process.
type RunTrigger interface {
	RunPeriods(ctx context.Context, periods []core.Period, scope services.Scope) (services.RunReport, error)
}

// RunPublisher hands runs to the worker.
type RunPublisher interface {
	PublishRun(ctx context.Context, req *amqp.RunRequest) error
}

// LedgerReader is the read side of the ledger the API exposes.
type LedgerReader interface {
	ListExpenses(ctx context.Context, period core.Period) ([]core.DerivedExpense, error)
	ListPnLLines(ctx context.Context, project string, period core.Period) ([]core.PnLLine, error)
}

var _ LedgerReader = (sheets.Ledger)(nil)

// Deps wires the server. At least one of Runner and Publisher is needed
// for POST /api/runs; with both, only requests with async set are queued.
type Deps struct {
	Runner    RunTrigger
	Publisher RunPublisher
	Ledger    LedgerReader
	// Ready is consulted by /readyz; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *log.Logger

	RateLimit  ratelimit.Config
	RunTimeout time.Duration
}

// Server is the HTTP surface of the service.
type Server struct {
	http.Server
	deps         Deps
	limiter      *ratelimit.Limiter
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 10 * time.Minute
	}

	s := &Server{
		deps:    deps,
		limiter: ratelimit.NewLimiter(deps.RateLimit),
		now:     time.Now,
	}
	clientIP := security.NewClientIP()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	// Runs are expensive; only they are rate limited.
	limited := s.limiter.Middleware(clientIP.Extract, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
	})
	mux.Handle("POST /api/runs", limited(http.HandlerFunc(s.handleRun)))
	mux.HandleFunc("GET /api/expenses", s.handleExpenses)
	mux.HandleFunc("GET /api/pnl", s.handlePnL)

	var h http.Handler = mux
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = log.Middleware(deps.Logger, clientIP.Extract)(h)
	h = trace.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      deps.RunTimeout + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Shutdown gracefully shuts down the server and the limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	params, err := parseRunRequest(w, r, s.now())
	if err != nil {
		writeErr(w, r, err)
		return
	}

	queue := s.deps.Publisher != nil && (params.Async || s.deps.Runner == nil)
	switch {
	case queue:
		s.enqueue(w, r, params)
	case s.deps.Runner != nil:
		s.runNow(w, r, params)
	default:
		writeError(w, r, http.StatusServiceUnavailable, "runs are not enabled on this server")
	}
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, params runParams) {
	req := amqp.NewRunRequest(string(params.Scope), params.Periods...)
	req.RequestID = trace.GetRequestID(r.Context())
	if err := s.deps.Publisher.PublishRun(r.Context(), req); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to enqueue run",
			log.NewFields().WithError(err).WithOperation("publish_run").ToSlice()...)
		writeError(w, r, http.StatusServiceUnavailable, "could not enqueue run")
		return
	}
	writeJSON(w, r, http.StatusAccepted, EnqueuedView{RequestID: req.RequestID, Scope: string(params.Scope), Periods: req.Periods})
}

func (s *Server) runNow(w http.ResponseWriter, r *http.Request, params runParams) {
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RunTimeout)
	defer cancel()

	rep, err := s.deps.Runner.RunPeriods(ctx, params.Periods, params.Scope)
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		w.Header().Set("Retry-After", "30")
		writeErr(w, r, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "run did not finish within "+s.deps.RunTimeout.String())
	case err != nil:
		writeErr(w, r, err)
	default:
		writeJSON(w, r, http.StatusOK, rep)
	}
}

func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	period, err := periodParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	expenses, err := s.deps.Ledger.ListExpenses(r.Context(), period)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	out := make([]ExpenseView, 0, len(expenses))
	for _, e := range expenses {
		if project != "" && e.Project != project {
			continue
		}
		out = append(out, expenseView(e))
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	period, err := periodParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if project == "" {
		writeError(w, r, http.StatusBadRequest, "missing project")
		return
	}
	lines, err := s.deps.Ledger.ListPnLLines(r.Context(), project, period)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]PnLLineView, 0, len(lines))
	for _, l := range lines {
		out = append(out, pnlLineView(l))
	}
	writeJSON(w, r, http.StatusOK, out)
}
