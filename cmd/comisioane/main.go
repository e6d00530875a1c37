// Command comisioane runs allocation and P&L for one or more periods and
// prints the run report as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"comisioane/internal/adapters"
	"comisioane/internal/amqp"
	"comisioane/internal/backend"
	"comisioane/internal/cli"
	"comisioane/internal/config"
	"comisioane/internal/core"
	"comisioane/internal/log"
	"comisioane/internal/services"
)

type options struct {
	periods    string
	from, to   string
	scope      string
	importPath string
	enqueue    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.periods, "period", "", `comma separated period keys, e.g. "Septembrie 2025,Octombrie 2025"`)
	flag.StringVar(&opts.from, "from", "", "first period of a range")
	flag.StringVar(&opts.to, "to", "", "last period of a range (default: current period)")
	flag.StringVar(&opts.scope, "scope", "all", "all, allocation, pnl or cleanup")
	flag.StringVar(&opts.importPath, "import", "", "seed JSON file to import before running")
	flag.BoolVar(&opts.enqueue, "enqueue", false, "publish the run to AMQP instead of running it here")
	flag.Parse()

	cfg, logger := cli.Bootstrap(log.ComponentApp)
	ctx, stop := cli.SignalContext()
	defer stop()

	code, err := run(ctx, cfg, logger, opts)
	if err != nil {
		logger.Error("Run failed", log.NewFields().WithError(err).ToSlice()...)
	}
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, opts options) (int, error) {
	periods, err := resolvePeriods(opts, core.PeriodOf(time.Now()))
	if err != nil {
		return 2, err
	}
	scope, err := services.ParseScope(opts.scope)
	if err != nil {
		return 2, err
	}

	if opts.enqueue {
		return enqueue(ctx, cfg, logger, scope, periods)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return 1, err
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	}()

	if opts.importPath != "" {
		if err := importSeed(ctx, logger, res, opts.importPath); err != nil {
			return 1, err
		}
	}

	allocCfg, err := backend.AllocatorConfig(cfg)
	if err != nil {
		return 1, err
	}
	runner, err := backend.NewRunner(res, allocCfg)
	if err != nil {
		return 1, err
	}
	rep, err := runner.RunPeriods(ctx, periods, scope)
	if err != nil {
		return 1, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return 1, err
	}
	if rep.Totals.Errors > 0 {
		return 3, nil
	}
	return 0, nil
}

func importSeed(ctx context.Context, logger *log.Logger, res *backend.BackendResult, path string) error {
	if res.Writer == nil {
		return fmt.Errorf("%w: the %s backend reads records from the spreadsheet and cannot import", core.ErrCredentialOrConfig, res.Type)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	seed, err := adapters.LoadSeed(f)
	if err != nil {
		return err
	}
	got, err := adapters.Import(ctx, res.Writer, seed)
	if err != nil && !errors.Is(err, core.ErrValidationSkip) {
		return err
	}
	if err != nil {
		logger.Warn("Seed rows skipped", log.FieldError, err)
	}
	logger.Info("Seed imported",
		"payees", got.Payees, "sales", got.Sales, "commissions", got.Commissions, "ad_spend", got.AdSpend)
	return nil
}

func enqueue(ctx context.Context, cfg *config.Config, logger *log.Logger, scope services.Scope, periods []core.Period) (int, error) {
	if cfg.AMQPURL == "" {
		return 2, fmt.Errorf("%w: -enqueue needs AMQP_URL", core.ErrCredentialOrConfig)
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return 1, err
	}
	defer client.Close()

	req := amqp.NewRunRequest(string(scope), periods...)
	if err := client.PublishRun(ctx, req); err != nil {
		return 1, err
	}
	logger.Info("Run enqueued", "scope", string(scope), "periods", strings.Join(req.Periods, ", "))
	return 0, nil
}

// resolvePeriods turns the period flags into the run list, oldest first
// for ranges. With no flags the current period runs.
func resolvePeriods(opts options, current core.Period) ([]core.Period, error) {
	if opts.periods != "" && (opts.from != "" || opts.to != "") {
		return nil, errors.New("-period and -from/-to are mutually exclusive")
	}
	if opts.periods != "" {
		var out []core.Period
		seen := map[core.Period]bool{}
		for _, key := range strings.Split(opts.periods, ",") {
			p, err := core.ParsePeriod(key)
			if err != nil {
				return nil, err
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
		return out, nil
	}
	if opts.from == "" {
		if opts.to != "" {
			return nil, errors.New("-to requires -from")
		}
		return []core.Period{current}, nil
	}
	from, err := core.ParsePeriod(opts.from)
	if err != nil {
		return nil, err
	}
	to := current
	if opts.to != "" {
		if to, err = core.ParsePeriod(opts.to); err != nil {
			return nil, err
		}
	}
	out := core.PeriodRange(from, to)
	if len(out) == 0 {
		return nil, fmt.Errorf("-from %s is after -to %s", from.Key(), to.Key())
	}
	return out, nil
}
