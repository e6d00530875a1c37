// Command comisioane-server serves the run trigger and ledger views over
// HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"comisioane/internal/amqp"
	"comisioane/internal/backend"
	"comisioane/internal/cli"
	"comisioane/internal/config"
	"comisioane/internal/core"
	apphttp "comisioane/internal/http"
	"comisioane/internal/log"
	"comisioane/internal/middleware/ratelimit"
	"comisioane/internal/services"
)

// freshRunner drops cached upstream reads before every in-process run.
type freshRunner struct {
	runner *services.Runner
	cache  interface{ Invalidate() }
}

func (r freshRunner) RunPeriods(ctx context.Context, periods []core.Period, scope services.Scope) (services.RunReport, error) {
	if r.cache != nil {
		r.cache.Invalidate()
	}
	return r.runner.RunPeriods(ctx, periods, scope)
}

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentHTTP)

	ctx, stop := cli.SignalContext()
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error", log.NewFields().WithError(err).ToSlice()...)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	}()

	allocCfg, err := backend.AllocatorConfig(cfg)
	if err != nil {
		return err
	}
	runner, err := backend.NewRunner(res, allocCfg)
	if err != nil {
		return err
	}

	deps := apphttp.Deps{
		Runner:     freshRunner{runner: runner},
		Ledger:     res.Ledger,
		Logger:     logger,
		RateLimit:  ratelimit.Config{RequestsPerMinute: cfg.RunsPerMinute, Burst: 2},
		RunTimeout: cfg.RunTimeout,
	}
	if res.Cache != nil {
		deps.Runner = freshRunner{runner: runner, cache: res.Cache}
	}
	if p, ok := res.Ledger.(interface{ Ping(context.Context) error }); ok {
		deps.Ready = p.Ping
	}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.Publisher = client
	}

	srv := apphttp.NewServer(":"+cfg.Port, deps)
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting comisioane server", "port", cfg.Port, "backend", cfg.DataBackend, "queue", deps.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
