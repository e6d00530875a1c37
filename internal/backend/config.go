package backend

import (
	"errors"
	"fmt"

	"comisioane/internal/config"
	"comisioane/internal/pacing"
	"comisioane/internal/services"
	gsheet "comisioane/internal/sheets/google"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}
	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}
	return Config{
		Type:         backendType,
		SQLiteDBPath: appConfig.SQLiteDBPath,
		Sheets: gsheet.Config{
			SpreadsheetID:   appConfig.GoogleSpreadsheetID,
			CredentialsJSON: appConfig.GoogleServiceAccountJSON,
			CredentialsFile: appConfig.GoogleServiceAccountFile,
			Tabs: gsheet.Tabs{
				Sales:       appConfig.SalesTab,
				Commissions: appConfig.CommissionsTab,
				Payees:      appConfig.PayeesTab,
				AdSpend:     appConfig.AdSpendTab,
			},
		},
		PacingRPS:   appConfig.PacingRPS,
		PacingBurst: appConfig.PacingBurst,
		Retry: pacing.Policy{
			Attempts: appConfig.RetryAttempts,
			Base:     appConfig.RetryBase,
			Max:      pacing.DefaultPolicy().Max,
		},
		CacheTTL:  appConfig.CacheTTL,
		CacheSize: appConfig.CacheSize,
	}, nil
}

// AllocatorConfig parses the allocation settings of the application config.
func AllocatorConfig(appConfig *config.Config) (services.AllocatorConfig, error) {
	rate, err := appConfig.Rate()
	if err != nil {
		return services.AllocatorConfig{}, err
	}
	tiers, err := appConfig.Tiers()
	if err != nil {
		return services.AllocatorConfig{}, err
	}
	fees, err := appConfig.Fees()
	if err != nil {
		return services.AllocatorConfig{}, err
	}
	return services.AllocatorConfig{
		Rate:          rate,
		Tiers:         tiers,
		Fees:          fees,
		SharedProject: appConfig.SharedProject,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("SQLite database path is required for sqlite backend")
		}
	case SheetsBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("SQLite database path is required for the sheets backend ledger")
		}
		if c.Sheets.SpreadsheetID == "" {
			return errors.New("Google Spreadsheet ID is required for sheets backend")
		}
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, SheetsBackend}
}
