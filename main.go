// Command synthbalance allocates PUMS sample households to census tracts.
//
// It reads the cleaned household and person samples and a table of tract
// marginals, balances the household weights against the marginals, rounds
// them to counts, and writes the allocated tables. It can also save the run to
// SQLite, write an accuracy report and plot, and dump Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"

	"github.com/ricci-colasanti/synthbalance/internal/accuracy"
	"github.com/ricci-colasanti/synthbalance/internal/allocation"
	"github.com/ricci-colasanti/synthbalance/internal/allocation/sqlite"
	"github.com/ricci-colasanti/synthbalance/internal/balance"
	"github.com/ricci-colasanti/synthbalance/internal/config"
	"github.com/ricci-colasanti/synthbalance/internal/indicator"
	"github.com/ricci-colasanti/synthbalance/internal/inputs"
	"github.com/ricci-colasanti/synthbalance/internal/logging"
	"github.com/ricci-colasanti/synthbalance/internal/marginals"
	"github.com/ricci-colasanti/synthbalance/internal/metrics"
	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

// inputData is what a run reads before allocating.
type inputData struct {
	households inputs.Table
	persons    inputs.Table
	tracts     *marginals.Marginals
}

func loadInputData(cfg config.Config) (inputData, error) {
	households, err := inputs.ReadCSV(cfg.Households.File)
	if err != nil {
		return inputData{}, fmt.Errorf("failed to read households CSV: %w", err)
	}
	persons, err := inputs.ReadCSV(cfg.Persons.File)
	if err != nil {
		return inputData{}, fmt.Errorf("failed to read persons CSV: %w", err)
	}
	tracts, err := marginals.ReadCSV(cfg.Marginals.File, cfg.TractColumn)
	if err != nil {
		return inputData{}, err
	}
	return inputData{households: households, persons: persons, tracts: tracts}, nil
}

// newAllocator wires the configured coefficients into an allocator.
func newAllocator(cfg config.Config, log logr.Logger, m *metrics.Metrics) (*allocation.Allocator, error) {
	fallback, err := balance.ParseFallbackPolicy(cfg.Fallback)
	if err != nil {
		return nil, err
	}
	a := allocation.NewAllocator(solver.NewBackend(cfg.Timeout), log, m)
	a.Builder = indicator.NewBuilder(cfg.Attributes)
	a.SparsityThreshold = cfg.SparsityThreshold
	a.Gamma = cfg.Gamma
	a.MetaGamma = cfg.MetaGamma
	a.Balancer.RelaxStep = cfg.RelaxStep
	a.Balancer.MuFloor = cfg.MuFloor
	a.Balancer.Fallback = fallback
	a.Discretizer.Gamma = cfg.DiscretizeGamma
	a.Discretizer.Workers = cfg.Workers
	return a, nil
}

// run executes one allocation and writes every configured output.
func run(ctx context.Context, cfg config.Config, log logr.Logger) error {
	data, err := loadInputData(cfg)
	if err != nil {
		return err
	}
	log.Info("loaded inputs", "households", data.households.Len(), "persons", data.persons.Len(),
		"tracts", data.tracts.Len())

	m := metrics.New()
	allocator, err := newAllocator(cfg, log, m)
	if err != nil {
		return err
	}
	allocator.RunID = cfg.RunName

	start := time.Now()
	res, err := allocator.Allocate(ctx, data.tracts, data.households, data.persons)
	if err != nil {
		return fmt.Errorf("allocation failed: %w", err)
	}
	log.Info("allocation completed", "elapsed", time.Since(start).Round(time.Millisecond),
		"outcome", res.Outcome.Kind.String(), "level", res.Outcome.Level)

	if cfg.Output.Households != "" && cfg.Output.Persons != "" {
		if err := res.Write(cfg.Output.Households, cfg.Output.Persons); err != nil {
			return err
		}
		log.Info("wrote allocation", "households", cfg.Output.Households, "persons", cfg.Output.Persons)
	}

	if cfg.Output.Database != "" {
		if err := saveRun(ctx, cfg, res, log); err != nil {
			return err
		}
	}

	if cfg.Output.Accuracy != "" || cfg.Output.Plot != "" {
		if err := writeAccuracy(cfg, data, res, log); err != nil {
			return err
		}
	}

	if cfg.Output.Metrics != "" {
		if err := m.WriteTextfile(cfg.Output.Metrics); err != nil {
			return err
		}
	}
	return nil
}

func saveRun(ctx context.Context, cfg config.Config, res *allocation.Result, log logr.Logger) error {
	store, err := sqlite.Open(cfg.Output.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.SaveResult(ctx, cfg.RunName, res)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	log.Info("saved run", "database", cfg.Output.Database, "id", id)
	return nil
}

func writeAccuracy(cfg config.Config, data inputData, res *allocation.Result, log logr.Logger) error {
	metric, err := accuracy.ParseMetric(cfg.Distance)
	if err != nil {
		return err
	}
	fits, err := accuracy.Fit(data.tracts, res, nil, metric)
	if err != nil {
		return fmt.Errorf("measuring tract fit: %w", err)
	}

	if cfg.Output.Accuracy != "" {
		var variables []string
		for _, attr := range append(append([]string(nil), cfg.Attributes...), inputs.Age) {
			if _, ok := marginals.Lookup(attr); ok {
				variables = append(variables, attr)
			}
		}
		comparison, err := accuracy.Compare(data.tracts, data.households, data.persons, res, variables)
		if err != nil {
			return fmt.Errorf("comparing totals: %w", err)
		}
		report := accuracy.NewReport(comparison, fits, metric)
		if err := report.Write(cfg.Output.Accuracy); err != nil {
			return err
		}
		log.Info("wrote accuracy report", "file", cfg.Output.Accuracy,
			"rmseSample", report.RootMeanSquaredError.Sample, "rmseAllocated", report.RootMeanSquaredError.Allocated)
	}

	if cfg.Output.Plot != "" {
		if err := accuracy.Plot(fits, cfg.Output.Plot); err != nil {
			return err
		}
		log.V(logging.DEBUG).Info("wrote accuracy plot", "file", cfg.Output.Plot)
	}
	return nil
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.PrintConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	log, err := logging.NewLogger(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(err, "run failed")
		stop()
		os.Exit(1)
	}
}
