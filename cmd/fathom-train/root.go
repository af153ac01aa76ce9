package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/seantiz/fathom-train/internal/build"
	"github.com/seantiz/fathom-train/internal/config"
	"github.com/seantiz/fathom-train/internal/gateway"
	"github.com/seantiz/fathom-train/internal/orchestrator"
	"github.com/seantiz/fathom-train/internal/store"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
	dbPath     string
}

type trainFlags struct {
	firefoxBin       string
	projectRoot      string
	webpackBin       string
	timeout          time.Duration
	handshakeTimeout time.Duration
	marionettePort   int
	tempDir          string
	metricsTextfile  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags
	var f trainFlags

	root := &cobra.Command{
		Use:   "fathom-train",
		Short: "Build and run a Fathom ruleset trainer in headless Firefox",
		Long: `fathom-train builds the ruleset and training bundles with webpack, runs the
training bundle inside a headless Firefox over Marionette, and prints the best
solution and cost it reports.

The Firefox binary defaults to the npm config value firefox_bin
(npm_package_config_firefox_bin) and can be overridden with --firefox-bin.`,
		Example: `  # Use the binary configured with npm config
  npm run train

  # Point at a specific Firefox and allow ten minutes
  fathom-train --firefox-bin /opt/firefox/firefox --timeout 10m`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd, g, f, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.ParameterError{Param: "flags", Reason: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.dbPath, "db", "", "SQLite run history database")

	fl := root.Flags()
	fl.StringVar(&f.firefoxBin, "firefox-bin", "", "path to the Firefox binary (default $"+config.EnvFirefoxBin+")")
	fl.StringVar(&f.projectRoot, "project-root", "", "directory holding the webpack configs")
	fl.StringVar(&f.webpackBin, "webpack-bin", "", "webpack executable")
	fl.DurationVar(&f.timeout, "timeout", 0, "upper bound on the training script (default 5m)")
	fl.DurationVar(&f.handshakeTimeout, "handshake-timeout", 0, "upper bound on browser start-up (default 60s)")
	fl.IntVar(&f.marionettePort, "marionette-port", 0, "Marionette port (default: pick a free port)")
	fl.StringVar(&f.tempDir, "temp-dir", "", "directory for the training bundle and browser profile")
	fl.StringVar(&f.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after the run")

	root.AddCommand(newRunsCmd(&g, stdout, stderr))
	root.AddCommand(newServeCmd(&g, stderr))

	return root
}

// loadConfig layers the config file, environment, and global flags.
func loadConfig(cmd *cobra.Command, g globalFlags) (config.Config, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		var perr *config.ParameterError
		if errors.As(err, &perr) {
			return config.Config{}, err
		}
		return config.Config{}, &config.ParameterError{Param: "--config", Reason: err.Error()}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = config.ParseLogLevel(g.logLevel)
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = g.dbPath
	}
	return cfg, nil
}

func (f trainFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("project-root") {
		cfg.ProjectRoot = f.projectRoot
	}
	if flags.Changed("webpack-bin") {
		cfg.WebpackBin = f.webpackBin
	}
	if flags.Changed("timeout") {
		if f.timeout <= 0 {
			return &config.ParameterError{Param: "--timeout", Reason: "must be positive"}
		}
		cfg.ScriptTimeout = f.timeout
	}
	if flags.Changed("handshake-timeout") {
		if f.handshakeTimeout <= 0 {
			return &config.ParameterError{Param: "--handshake-timeout", Reason: "must be positive"}
		}
		cfg.HandshakeTimeout = f.handshakeTimeout
	}
	if flags.Changed("marionette-port") {
		if f.marionettePort < 0 || f.marionettePort > 65535 {
			return &config.ParameterError{Param: "--marionette-port", Reason: fmt.Sprintf("%d is out of range", f.marionettePort)}
		}
		cfg.MarionettePort = f.marionettePort
	}
	if flags.Changed("temp-dir") {
		cfg.TempDir = f.tempDir
	}
	if flags.Changed("metrics-textfile") {
		cfg.MetricsTextfile = f.metricsTextfile
	}
	return nil
}

func runTrain(cmd *cobra.Command, g globalFlags, f trainFlags, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}
	if err := f.apply(cmd, &cfg); err != nil {
		return err
	}
	logger := config.NewLogger(stderr, cfg.LogLevel)

	bin, err := config.ResolveBinary(f.firefoxBin, cmd.Flags().Changed("firefox-bin"), os.LookupEnv)
	if err != nil {
		return err
	}

	var history store.Store
	if cfg.DBPath != "" {
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			logger.Warn("run history disabled", "db_path", cfg.DBPath, "error", err)
		} else {
			defer db.Close()
			history = db
		}
	}

	o := orchestrator.New(orchestrator.Deps{
		Builder:  build.NewRunner(stderr, stderr, logger),
		Launcher: orchestrator.NewBrowserLauncher(logger),
		Executor: gateway.New(logger),
		Store:    history,
		Stdout:   stdout,
		Logger:   logger,
	})

	_, runErr := o.Run(cmd.Context(), orchestrator.OptionsFromConfig(cfg, bin))

	writeMetrics(cfg.MetricsTextfile, logger)
	return runErr
}

// writeMetrics dumps the default registry in the node exporter textfile format.
func writeMetrics(path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		logger.Warn("write metrics textfile", "path", path, "error", err)
	}
}
