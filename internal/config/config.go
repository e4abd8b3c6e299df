// Package config holds all clinkerplan configuration. A single Config tree
// is loaded at startup and threaded explicitly through constructors; no
// package reads configuration on its own.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree.
type Config struct {
	// DatabaseURL is the SQLite database path (":memory:" for tests).
	DatabaseURL string `yaml:"database_url"`

	Solver  SolverConfig  `yaml:"solver"`
	Routing RoutingConfig `yaml:"routing"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Batch   BatchConfig   `yaml:"batch"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// SolverConfig configures the solver driver.
type SolverConfig struct {
	// Default solver name: auto, cplex, highs, cbc, builtin.
	Default          string  `yaml:"default"`
	TimeLimitSeconds int     `yaml:"time_limit_seconds"`
	MIPGap           float64 `yaml:"mip_gap"`
	// SoftDemand enables demand slack variables with PenaltyPerTonne.
	SoftDemand      bool    `yaml:"soft_demand"`
	PenaltyPerTonne float64 `yaml:"penalty_per_tonne"`
}

// RoutingConfig configures the route resolver.
type RoutingConfig struct {
	PrimaryProvider   string `yaml:"primary_provider"`   // osrm
	SecondaryProvider string `yaml:"secondary_provider"` // ors
	SecondaryAPIKey   string `yaml:"secondary_api_key"`
	PrimaryBaseURL    string `yaml:"primary_base_url"`
	SecondaryBaseURL  string `yaml:"secondary_base_url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MaxRetries        int    `yaml:"max_retries"`
	// CacheTTLDays of 0 means cache entries never expire.
	CacheTTLDays int `yaml:"cache_ttl_days"`
}

// JobsConfig configures the job queue.
type JobsConfig struct {
	WorkerPoolSize int `yaml:"worker_pool_size"`
	QueueCapacity  int `yaml:"queue_capacity"`
	// BlockWhenFull makes submit wait for channel space instead of
	// returning ErrQueueFull.
	BlockWhenFull bool `yaml:"block_when_full"`
}

// BatchConfig configures staging retention.
type BatchConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		DatabaseURL: "clinkerplan.db",
		Solver: SolverConfig{
			Default:          "auto",
			TimeLimitSeconds: 600,
			MIPGap:           0.01,
			PenaltyPerTonne:  1e6,
		},
		Routing: RoutingConfig{
			PrimaryProvider:   "osrm",
			SecondaryProvider: "ors",
			PrimaryBaseURL:    "https://router.project-osrm.org",
			SecondaryBaseURL:  "https://api.openrouteservice.org",
			TimeoutSeconds:    10,
			MaxRetries:        3,
		},
		Jobs: JobsConfig{
			WorkerPoolSize: 2,
			QueueCapacity:  32,
		},
		Batch: BatchConfig{
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. An empty path returns defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from CLINKERPLAN_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("CLINKERPLAN_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("CLINKERPLAN_DEFAULT_SOLVER"); v != "" {
		c.Solver.Default = v
	}
	if v := os.Getenv("CLINKERPLAN_SOLVER_TIME_LIMIT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Solver.TimeLimitSeconds = n
		}
	}
	if v := os.Getenv("CLINKERPLAN_SOLVER_MIP_GAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Solver.MIPGap = f
		}
	}
	if v := os.Getenv("CLINKERPLAN_ROUTING_SECONDARY_API_KEY"); v != "" {
		c.Routing.SecondaryAPIKey = v
	}
	if v := os.Getenv("CLINKERPLAN_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Jobs.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("CLINKERPLAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	switch c.Solver.Default {
	case "auto", "cplex", "highs", "cbc", "builtin":
	default:
		return fmt.Errorf("unknown default solver %q", c.Solver.Default)
	}
	if c.Solver.TimeLimitSeconds <= 0 {
		return fmt.Errorf("solver time limit must be positive")
	}
	if c.Solver.MIPGap < 0 {
		return fmt.Errorf("solver mip gap must be non-negative")
	}
	if c.Jobs.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}
	if c.Jobs.QueueCapacity <= 0 {
		return fmt.Errorf("job queue capacity must be positive")
	}
	if c.Routing.MaxRetries < 0 {
		return fmt.Errorf("routing max retries must be non-negative")
	}
	return nil
}
