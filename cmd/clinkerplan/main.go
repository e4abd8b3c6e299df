package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clinkerplan/internal/config"
	"clinkerplan/internal/logging"
	"clinkerplan/internal/service"
	"clinkerplan/internal/store"
)

var (
	configPath string
	dbPath     string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "clinkerplan",
	Short: "clinkerplan - clinker supply-chain planning service",
	Long: `clinkerplan plans clinker production, shipments, inventory, and vehicle
trips across a multi-period horizon.

Master data enters through a staged pipeline (ingest, validate, promote),
optimization runs as background jobs over a MILP solver chain, and KPIs are
materialized per scenario for dashboards.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DatabaseURL = dbPath
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Initialize(logging.Options{
			Level:      level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// openPlanner opens the store and wires the service facade. The returned
// close func must run before process exit.
func openPlanner() (*service.Planner, func(), error) {
	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabaseURL, err)
	}
	p, err := service.New(s, cfg)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return p, func() { s.Close() }, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(resolveRouteCmd)
	rootCmd.AddCommand(kpiCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
