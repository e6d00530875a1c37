package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"comisioane/internal/allocation"
	"comisioane/internal/core"
	"comisioane/internal/log"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendSheets = "sheets"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	SalesTab                 string
	CommissionsTab           string
	PayeesTab                string
	AdSpendTab               string

	// Allocation
	EURRate         string // RON per EUR
	CommissionTiers string // "10000:0.05,*:0.10", ceilings in EUR
	PaymentFees     string // "Stripe:2.9:1.25,TBI:5:0"
	SharedProject   string

	// Pacing of store calls
	PacingRPS     float64
	PacingBurst   int
	RetryAttempts int
	RetryBase     time.Duration

	// Source cache
	CacheTTL  time.Duration
	CacheSize int

	// HTTP run trigger
	RunsPerMinute int
	RunTimeout    time.Duration

	// Worker
	CronSchedule    string
	LookbackPeriods int
	BusyDelay       time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Backend selection
	DataBackend string
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/comisioane.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "comisioane"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "runs"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		SalesTab:                 getEnv("SHEET_SALES_TAB", "Vanzari"),
		CommissionsTab:           getEnv("SHEET_COMMISSIONS_TAB", "Comisioane"),
		PayeesTab:                getEnv("SHEET_PAYEES_TAB", "Persoane"),
		AdSpendTab:               getEnv("SHEET_ADSPEND_TAB", "Reclame"),

		EURRate:         getEnv("EUR_RATE", "5.0"),
		CommissionTiers: getEnv("COMMISSION_TIERS", "10000:0.05,*:0.10"),
		PaymentFees:     getEnv("PAYMENT_FEES", ""),
		SharedProject:   getEnv("SHARED_PROJECT", "Comun"),

		PacingRPS:     getEnvFloat("PACING_RPS", 1),
		PacingBurst:   getEnvInt("PACING_BURST", 5),
		RetryAttempts: getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBase:     getEnvDuration("RETRY_BASE", 500*time.Millisecond),

		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSize: getEnvInt("CACHE_SIZE", 64),

		RunsPerMinute: getEnvInt("RUNS_PER_MINUTE", 6),
		RunTimeout:    getEnvDuration("RUN_TIMEOUT", 10*time.Minute),

		CronSchedule:    getEnv("CRON_SCHEDULE", "0 3 * * *"),
		LookbackPeriods: getEnvInt("LOOKBACK_PERIODS", 2),
		BusyDelay:       getEnvDuration("WORKER_BUSY_DELAY", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DataBackend: getEnv("DATA_BACKEND", BackendMemory),
	}
}

// Rate parses EUR_RATE.
func (c *Config) Rate() (core.EURRate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.EURRate))
	if err != nil {
		return core.EURRate{}, fmt.Errorf("%w: %q", core.ErrInvalidRate, c.EURRate)
	}
	return core.NewEURRate(d)
}

// Tiers parses COMMISSION_TIERS.
func (c *Config) Tiers() ([]allocation.Tier, error) {
	return allocation.ParseTiers(c.CommissionTiers)
}

// Fees parses PAYMENT_FEES. An empty value yields an empty table.
func (c *Config) Fees() (allocation.FeeTable, error) {
	return allocation.ParseFeeRules(c.PaymentFees)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendMemory, BackendSQLite, BackendSheets}
	isValidBackend := false
	for _, b := range validBackends {
		if c.DataBackend == b {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// The sheets backend keeps its ledger in SQLite too.
	if c.DataBackend == BackendSQLite || c.DataBackend == BackendSheets {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using "+c.DataBackend+" backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.DataBackend == BackendSheets {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errors = append(errors, "one of GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS must be provided for sheets backend")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if _, err := c.Rate(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid EUR_RATE: %v", err))
	}
	if _, err := c.Tiers(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid COMMISSION_TIERS: %v", err))
	}
	if _, err := c.Fees(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid PAYMENT_FEES: %v", err))
	}
	if strings.TrimSpace(c.SharedProject) == "" {
		errors = append(errors, "SHARED_PROJECT cannot be empty")
	}

	if c.PacingRPS < 0 {
		errors = append(errors, fmt.Sprintf("invalid pacing rate %v: must not be negative", c.PacingRPS))
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid retry attempts %d: must be between 1 and 10", c.RetryAttempts))
	}
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}

	if c.RunsPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid runs per minute %d: must be at least 1", c.RunsPerMinute))
	}
	if c.RunTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid run timeout %s: must be positive", c.RunTimeout))
	}
	if c.BusyDelay < 0 {
		errors = append(errors, fmt.Sprintf("invalid worker busy delay %s: must not be negative", c.BusyDelay))
	}

	if c.CronSchedule != "" {
		if _, err := cron.ParseStandard(c.CronSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("invalid cron schedule '%s': %v", c.CronSchedule, err))
		}
	}
	if c.LookbackPeriods < 0 || c.LookbackPeriods > 24 {
		errors = append(errors, fmt.Sprintf("invalid lookback %d: must be between 0 and 24", c.LookbackPeriods))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if f := strings.ToLower(c.LogFormat); f != "" && f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%w: configuration validation failed:\n- %s", core.ErrCredentialOrConfig, strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
