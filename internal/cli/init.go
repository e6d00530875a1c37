// Package cli holds the start-up steps shared by the commands.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"comisioane/internal/config"
	"comisioane/internal/log"
)

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile(files ...string) {
	_ = godotenv.Load(files...)
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default. Bad values fall back to text at info.
func SetupLogger(level, format, component string) *log.Logger {
	cfg := log.DefaultConfig()
	lvl, err := log.ParseLevel(level)
	cfg.Level = lvl
	cfg.Format = format
	cfg.Component = component
	logger := log.New(cfg)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info level", log.FieldError, err)
	}
	return logger
}

// LoadAndValidateConfig loads configuration and exits on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// Bootstrap runs the common start-up sequence: .env, logger, config.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()
	logger := SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), component)
	return LoadAndValidateConfig(logger), logger
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		slog.Info("Shutdown signal received", log.FieldComponent, log.ComponentApp)
	}()
	return ctx, stop
}
