// Command pytestlabd is a thin wiring demonstration for PyTestLab: it
// loads a bench descriptor and profile catalog, opens the bench, runs
// one measurement session, and stores a record describing the resulting
// Experiment. It is deliberately not a dispatching CLI — the `bench
// ls/validate/id/sim`, `replay record/run`, and `sim-profile
// record/edit/reset/diff` subcommands described elsewhere are out of
// scope for this binary; this only carries the ambient
// construction-and-run wiring a long-running bench process needs.
//
// Usage:
//
//	pytestlabd [flags]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"flag"

	"github.com/labiium/pytestlab/bench"
	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/internal/labconfig"
	"github.com/labiium/pytestlab/profile"
	"github.com/labiium/pytestlab/session"
	"github.com/labiium/pytestlab/store"
	"github.com/labiium/pytestlab/store/memstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pytestlabd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		logLevel      string
		logFmt        string
		benchPath     string
		catalogRoot   string
		forceSimulate bool
		simSeed       int64
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")
	flag.StringVar(&benchPath, "bench", "", "Path to the bench descriptor YAML file (required)")
	flag.StringVar(&catalogRoot, "profiles", "./profiles", "Root directory of the profile catalog")
	flag.BoolVar(&forceSimulate, "simulate", false, "Force every instrument onto the Simulator transport (PYTESTLAB_FORCE_SIMULATE)")
	flag.Int64Var(&simSeed, "sim.seed", 1, "Deterministic seed for the simulation random-number source")
	flag.Parse()

	if benchPath == "" {
		return fmt.Errorf("flag -bench is required")
	}

	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	if labconfig.ForceSimulateFromEnv() {
		forceSimulate = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(benchPath)
	if err != nil {
		return fmt.Errorf("open bench descriptor: %w", err)
	}
	desc, err := bench.LoadDescriptor(f, benchPath)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("load bench descriptor: %w", err)
	}

	catalog := profile.NewOSCatalog(catalogRoot, logger)

	b, err := bench.Open(ctx, desc, catalog, bench.Config{
		ForceSimulate: forceSimulate,
		SimSeed:       simSeed,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open bench: %w", err)
	}
	logger.Info("pytestlabd: bench open", "bench", desc.BenchName, "instruments", b.Aliases())

	instruments := make(map[string]instrument.Driver, len(b.Aliases()))
	for _, alias := range b.Aliases() {
		instruments[alias] = b.Instrument(alias)
	}

	sess := session.New(instruments)
	sess.RegisterAcquisition("identity", identityAcquisition(b.Aliases()))

	exp, err := sess.Sweep(ctx, nil)
	if err != nil {
		_ = b.Close(ctx)
		return fmt.Errorf("run session: %w", err)
	}
	logger.Info("pytestlabd: session complete", "rows", len(exp.Rows))

	if err := persist(ctx, desc, exp, logger); err != nil {
		logger.Error("pytestlabd: persist failed", "error", err.Error())
	}

	if err := b.Close(ctx); err != nil {
		return fmt.Errorf("close bench: %w", err)
	}
	return nil
}

// identityAcquisition queries every instrument's Identity() string,
// demonstrating a session acquisition that touches the whole bench
// without assuming any one device type's measurement semantics.
func identityAcquisition(aliases []string) session.Acquisition {
	return func(c *session.Context) (map[string]session.Value, error) {
		out := make(map[string]session.Value, len(aliases))
		for _, alias := range aliases {
			handle := c.Instrument(alias)
			var identity string
			err := handle.With(func(d instrument.Driver) error {
				identity = d.Identity()
				return nil
			})
			if err != nil {
				return nil, err
			}
			out[alias+"_identity"] = session.StrValue(identity)
		}
		return out, nil
	}
}

// persist stores a record describing exp (its row count and columns, not
// the rows themselves) in an in-memory store under a store-generated ID,
// titled with the bench's experiment title if one is configured or the
// bench name otherwise, then searches for that title — exercising the
// store.Store contract end to end. A real
// deployment would inject a durable store.Store implementation in place
// of memstore here.
func persist(ctx context.Context, desc *bench.Descriptor, exp *session.Experiment, logger *slog.Logger) error {
	title := desc.BenchName
	description := fmt.Sprintf("%d rows, columns: %v", len(exp.Rows), exp.ColumnOrder)
	if desc.Experiment != nil && desc.Experiment.Title != "" {
		title = desc.Experiment.Title
	}

	s := memstore.New()
	id, err := s.Put(ctx, store.Record{Title: title, Description: description})
	if err != nil {
		return err
	}

	hits, err := s.Search(ctx, title)
	if err != nil {
		return err
	}
	logger.Info("pytestlabd: persisted experiment", "id", id, "search_hits", len(hits))
	return nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}
