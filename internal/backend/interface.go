package backend

import (
	"context"
	"time"

	"comisioane/internal/adapters"
	"comisioane/internal/pacing"
	"comisioane/internal/sheets"
	"comisioane/internal/sheets/cached"
	gsheet "comisioane/internal/sheets/google"
	"comisioane/internal/sheets/memory"
	"comisioane/internal/storage"
)

// Port conformance.
var (
	_ sheets.Source = (*memory.Store)(nil)
	_ sheets.Ledger = (*memory.Store)(nil)
	_ sheets.Source = (*storage.SQLiteRepository)(nil)
	_ sheets.Ledger = (*storage.SQLiteRepository)(nil)
	_ sheets.Source = (*gsheet.Client)(nil)
	_ sheets.Source = (*cached.Source)(nil)
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult is the assembled store pair. Writer is nil when the
// upstream records live in the spreadsheet and cannot be imported into.
type BackendResult struct {
	Type    BackendType
	Source  sheets.Source
	Ledger  sheets.Ledger
	Writer  adapters.RecordWriter
	Cache   *cached.Source
	Cleanup CleanupFunc
}

// Close runs Cleanup if set.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	Sheets gsheet.Config

	// Pacing applies to every spreadsheet call.
	PacingRPS   float64
	PacingBurst int
	Retry       pacing.Policy

	CacheTTL  time.Duration
	CacheSize int
}

// BackendType represents the type of backend
type BackendType string

const (
	// SQLiteBackend keeps records and ledger in one SQLite file.
	SQLiteBackend BackendType = "sqlite"
	// SheetsBackend reads records from the spreadsheet and keeps the
	// ledger in SQLite.
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
