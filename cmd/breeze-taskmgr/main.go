package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/taskmgr/internal/config"
	"github.com/breeze-rmm/taskmgr/internal/engine"
	"github.com/breeze-rmm/taskmgr/internal/launcher"
	"github.com/breeze-rmm/taskmgr/internal/lifecycle"
	"github.com/breeze-rmm/taskmgr/internal/logging"
	"github.com/breeze-rmm/taskmgr/internal/metrics"
	"github.com/breeze-rmm/taskmgr/internal/snapshot"
	"github.com/breeze-rmm/taskmgr/internal/telemetry"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:           "breeze-taskmgr",
	Short:         "Breeze process monitor",
	Long:          `Breeze Task Manager - watch running processes and applications, terminate processes and launch commands`,
	SilenceUsage:  true,
	SilenceErrors: true, // main prints it

}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Breeze Task Manager v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/breeze/taskmgr.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads and validates the config and initializes logging. The returned
// cleanup closes the log file, if any.
func setup() (*config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	// Validation warnings go to stderr in the configured format; the log
	// file is opened only once its rotation settings are clamped.
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	cfg.Validate()

	cleanup := func() {}
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, logging.Rotation{
			MaxSizeMB: cfg.LogMaxSizeMB,
			MaxFiles:  cfg.LogMaxFiles,
		})
		if err != nil {
			log.Warn("failed to open log file, logging to stderr", "path", cfg.LogFile, logging.KeyError, err)
		} else {
			logging.Init(cfg.LogFormat, cfg.LogLevel, rw)
			cleanup = func() { rw.Close() }
		}
	}
	return cfg, cleanup, nil
}

// newEngine wires the host-backed components into an engine.
func newEngine(cfg *config.Config, m *telemetry.Metrics) *engine.Engine {
	source := metrics.NewHostSource()
	builder := snapshot.NewBuilder(source, snapshot.NewMatcher(cfg.ApplicationPatterns))
	controller := lifecycle.NewController(nil, lifecycle.WithTimeout(cfg.TerminationTimeout()))
	gateway := launcher.New(cfg.LaunchGrace())
	return engine.New(cfg, source, builder, controller, gateway, engine.WithMetrics(m))
}

func stopEngine(eng *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		log.Warn("engine stop", logging.KeyError, err)
	}
}
