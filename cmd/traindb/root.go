package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"traindb/internal/config"
	"traindb/internal/pipeline"
	"traindb/internal/store"

	// Pipeline packages register their classes at init.
	_ "traindb/internal/calc"
	_ "traindb/internal/nearby"
	_ "traindb/internal/reader"
	_ "traindb/internal/response"
)

var (
	flagDatabase string
	flagVerbose  bool
	flagLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "traindb",
	Short: "Personal training database",
	Long: `Traindb ingests FIT activity and monitor files into a SQLite
statistics store and derives training metrics from them: distances and
speeds, heart-rate zones, climbs, fitness/fatigue responses, and groupings
of spatially similar activities.

Typical use:

  traindb ingest             # read new FIT files
  traindb calculate          # derive statistics from what was read
  traindb constants list     # inspect tunable parameters`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "database", "",
		"path to the database file (default from config, else ~/.traindb/data.db)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false,
		"log JSON instead of console output")
}

func newLogger() (*zap.Logger, error) {
	var cfg zap.Config
	if flagLogJSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if flagVerbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// openContext builds the pipeline context every subcommand needs: logger,
// config, database, and a seeded pipeline registry. The returned cleanup
// closes them.
func openContext() (*pipeline.Context, func(), error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}

	cfg, err := config.Load()
	if errors.Is(err, config.ErrNoConfig) {
		if err := config.CreateExample(); err != nil {
			return nil, nil, fmt.Errorf("creating example config: %w", err)
		}
		dir, _ := config.GetConfigDir()
		return nil, nil, fmt.Errorf(
			"no config found; an example was written to %s/config.json - edit it and rerun", dir)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	path := flagDatabase
	if path == "" {
		path = config.ExpandPath(cfg.Database)
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := seedRegistry(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("seeding pipeline registry: %w", err)
	}

	ctx := &pipeline.Context{
		Log:    log,
		DB:     db,
		Config: cfg,
		Args:   map[string]string{},
	}
	cleanup := func() {
		_ = log.Sync()
		db.Close()
	}
	return ctx, cleanup, nil
}

// seedRegistry ensures every built-in pipeline class has a registry row. The
// sort order fixes dependencies: raw statistics before derived, summaries
// and groupings last.
func seedRegistry(db *store.Store) error {
	readers := []struct {
		typ store.PipelineType
		cls string
	}{
		{store.PipelineReadActivity, "ActivityReader"},
		{store.PipelineReadMonitor, "MonitorReader"},
	}
	for i, r := range readers {
		if err := db.EnsurePipeline(r.typ, r.cls, "", i); err != nil {
			return err
		}
	}

	calculators := []string{
		"ActivityCalculator",
		"ZoneCalculator",
		"MaxWindowCalculator",
		"ElevationCalculator",
		"StepsCalculator",
		"ImpulseCalculator",
		"ResponseCalculator",
		"NearbyCalculator",
		"SummaryCalculatorMonth",
		"SummaryCalculatorYear",
	}
	for i, cls := range calculators {
		if err := db.EnsurePipeline(store.PipelineCalculate, cls, "", i); err != nil {
			return err
		}
	}
	return nil
}
