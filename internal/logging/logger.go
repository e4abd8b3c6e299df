// Package logging provides categorized structured logging for clinkerplan.
// Each subsystem logs through a named zap logger; categories can be silenced
// individually from config, and the global level is set once at startup.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Process startup and wiring
	CategoryStore    Category = "store"    // SQLite store operations
	CategoryIngest   Category = "ingest"   // Staging ingestion
	CategoryValidate Category = "validate" // Validation sweep
	CategoryPromote  Category = "promote"  // Batch promotion
	CategoryRouting  Category = "routing"  // Route cache and resolver
	CategoryModel    Category = "model"    // MILP construction
	CategorySolver   Category = "solver"   // Solver driver and capabilities
	CategoryScenario Category = "scenario" // Scenario runner
	CategoryJobs     Category = "jobs"     // Job queue and workers
	CategoryKPI      Category = "kpi"      // KPI materialization
	CategoryAPI      Category = "api"      // Service facade
)

// Options controls logger construction.
type Options struct {
	Level      string          // debug, info, warn, error (default info)
	JSONFormat bool            // JSON encoder instead of console
	Categories map[string]bool // per-category enable; nil means all enabled
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	opts    Options
	loggers = make(map[Category]*zap.SugaredLogger)
	nop     = zap.NewNop().Sugar()
)

// Initialize builds the root logger. Safe to call more than once; the last
// call wins. Before any call, Get returns no-op loggers.
func Initialize(o Options) error {
	level := zapcore.InfoLevel
	switch o.Level {
	case "", "info":
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return fmt.Errorf("unknown log level %q", o.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if o.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(core)
	opts = o
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// InitializeForTest installs a debug-level console logger. Used by tests that
// want visible output without threading Options through.
func InitializeForTest() {
	_ = Initialize(Options{Level: "debug"})
}

// Get returns the sugared logger for a category, or a no-op logger when the
// category is disabled or Initialize has not run.
func Get(category Category) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		return nop
	}
	if opts.Categories != nil {
		if enabled, ok := opts.Categories[string(category)]; ok && !enabled {
			return nop
		}
	}
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
