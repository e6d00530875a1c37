package backend

import (
	"context"
	"fmt"
	"log/slog"

	"comisioane/internal/adapters"
	"comisioane/internal/cache"
	"comisioane/internal/debt"
	"comisioane/internal/log"
	"comisioane/internal/pacing"
	"comisioane/internal/pnl"
	"comisioane/internal/reconcile"
	"comisioane/internal/services"
	"comisioane/internal/sheets/cached"
	gsheet "comisioane/internal/sheets/google"
	"comisioane/internal/sheets/memory"
	"comisioane/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger.With(log.FieldComponent, log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{
		Type:    SQLiteBackend,
		Source:  repo,
		Ledger:  repo,
		Writer:  repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite ledger: %w", err)
	}
	pace := pacing.NewClient(pacing.NewGate(config.PacingRPS, config.PacingBurst), config.Retry)
	client, err := gsheet.New(ctx, config.Sheets, pace)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	size := config.CacheSize
	if size < 1 {
		size = 64
	}
	src := cached.New(client, config.CacheTTL, size)
	mgr := cache.NewManager()
	src.Register(mgr)
	if config.CacheTTL > 0 {
		mgr.StartCleanup(config.CacheTTL)
	}

	f.logger.Info("Initialized Google Sheets backend",
		"spreadsheet_id", config.Sheets.SpreadsheetID,
		"ledger", config.SQLiteDBPath,
		"pacing_rps", config.PacingRPS,
		"cache_ttl", config.CacheTTL.String())

	return &BackendResult{
		Type:   SheetsBackend,
		Source: src,
		Ledger: repo,
		Cache:  src,
		Cleanup: func() error {
			mgr.Stop()
			st := src.Stats()
			f.logger.Info("Source cache closed", "hits", st.Hits, "misses", st.Misses, "evictions", st.Evictions)
			return repo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	store := memory.New()
	f.logger.Info("Initialized memory backend")
	return &BackendResult{
		Type:   MemoryBackend,
		Source: store,
		Ledger: store,
		Writer: adapters.NewMemoryWriter(store),
	}, nil
}

// NewRunner wires the engine over the backend's stores.
func NewRunner(res *BackendResult, cfg services.AllocatorConfig) (*services.Runner, error) {
	debts := debt.NewLedger(res.Source, res.Ledger)
	rec := reconcile.New(res.Ledger, res.Ledger)
	agg, err := pnl.NewAggregator(res.Source, res.Ledger, rec, cfg.Rate)
	if err != nil {
		return nil, err
	}
	alloc := services.NewAllocator(res.Source, debts, rec, cfg)
	return services.NewRunner(alloc, services.NewPnLService(agg), services.NewMaintenance(res.Ledger)), nil
}
