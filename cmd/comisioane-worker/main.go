// Command comisioane-worker consumes run requests from AMQP and runs the
// scheduled reprocessing of recent periods.
package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"comisioane/internal/amqp"
	"comisioane/internal/backend"
	"comisioane/internal/cli"
	"comisioane/internal/config"
	"comisioane/internal/log"
	"comisioane/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting comisioane-worker", "backend", cfg.DataBackend, "schedule", cfg.CronSchedule)

	ctx, stop := cli.SignalContext()
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Worker stopped with error", log.NewFields().WithError(err).ToSlice()...)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
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

	var inv worker.Invalidator
	if res.Cache != nil {
		inv = res.Cache
	}
	w := worker.NewRunWorker(runner, inv, worker.Config{
		Schedule:  cfg.CronSchedule,
		Lookback:  cfg.LookbackPeriods,
		BusyDelay: cfg.BusyDelay,
	})

	var client *amqp.Client
	if cfg.AMQPURL != "" {
		if client, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue); err != nil {
			return err
		}
		defer client.Close()
	} else {
		logger.Info("AMQP disabled, only scheduled runs will execute")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		w.Stop()
		return nil
	})

	if client != nil {
		g.Go(func() error {
			err := client.ConsumeRuns(gctx, w.HandleRun)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
