package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/fathom-train/internal/model"
)

const (
	defaultWebpackBin       = "webpack"
	defaultRulesetConfig    = "webpack.config.ruleset.js"
	defaultTrainingConfig   = "webpack.config.fathom.js"
	defaultScriptTimeout    = 5 * time.Minute
	defaultHandshakeTimeout = 60 * time.Second
	defaultListenAddr       = ":8080"

	// EnvFirefoxBin is the npm-config variable that supplies the browser binary
	// when no flag is given.
	EnvFirefoxBin = "npm_package_config_firefox_bin"

	envProjectRoot      = "FATHOM_PROJECT_ROOT"
	envWebpackBin       = "FATHOM_WEBPACK_BIN"
	envRulesetConfig    = "FATHOM_RULESET_CONFIG"
	envTrainingConfig   = "FATHOM_TRAINING_CONFIG"
	envScriptTimeout    = "FATHOM_SCRIPT_TIMEOUT"
	envHandshakeTimeout = "FATHOM_HANDSHAKE_TIMEOUT"
	envMarionettePort   = "FATHOM_MARIONETTE_PORT"
	envTempDir          = "FATHOM_TEMP_DIR"
	envLogLevel         = "FATHOM_LOG_LEVEL"
	envDBPath           = "FATHOM_DB_PATH"
	envMetricsTextfile  = "FATHOM_METRICS_TEXTFILE"
	envListenAddr       = "FATHOM_LISTEN_ADDR"
)

// Config holds application configuration.
type Config struct {
	ProjectRoot      string
	WebpackBin       string
	RulesetConfig    string
	TrainingConfig   string
	ScriptTimeout    time.Duration
	HandshakeTimeout time.Duration
	MarionettePort   int
	TempDir          string
	LogLevel         slog.Level
	DBPath           string
	MetricsTextfile  string
	ListenAddr       string
}

// fileConfig mirrors Config for YAML decoding. Durations and the log level are
// read as strings so "5m" and "debug" work in the file.
type fileConfig struct {
	ProjectRoot      string `yaml:"project_root"`
	WebpackBin       string `yaml:"webpack_bin"`
	RulesetConfig    string `yaml:"ruleset_config"`
	TrainingConfig   string `yaml:"training_config"`
	ScriptTimeout    string `yaml:"script_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	MarionettePort   int    `yaml:"marionette_port"`
	TempDir          string `yaml:"temp_dir"`
	LogLevel         string `yaml:"log_level"`
	DBPath           string `yaml:"db_path"`
	MetricsTextfile  string `yaml:"metrics_textfile"`
	ListenAddr       string `yaml:"listen_addr"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		ProjectRoot:      ".",
		WebpackBin:       defaultWebpackBin,
		RulesetConfig:    defaultRulesetConfig,
		TrainingConfig:   defaultTrainingConfig,
		ScriptTimeout:    defaultScriptTimeout,
		HandshakeTimeout: defaultHandshakeTimeout,
		LogLevel:         slog.LevelInfo,
		ListenAddr:       defaultListenAddr,
	}
}

// Load builds a Config from defaults, the optional YAML file at path, and
// environment variables, in that order of precedence (later wins).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ProjectRoot != "" {
		c.ProjectRoot = fc.ProjectRoot
	}
	if fc.WebpackBin != "" {
		c.WebpackBin = fc.WebpackBin
	}
	if fc.RulesetConfig != "" {
		c.RulesetConfig = fc.RulesetConfig
	}
	if fc.TrainingConfig != "" {
		c.TrainingConfig = fc.TrainingConfig
	}
	if fc.ScriptTimeout != "" {
		d, err := time.ParseDuration(fc.ScriptTimeout)
		if err != nil {
			return fmt.Errorf("parse script_timeout: %w", err)
		}
		c.ScriptTimeout = d
	}
	if fc.HandshakeTimeout != "" {
		d, err := time.ParseDuration(fc.HandshakeTimeout)
		if err != nil {
			return fmt.Errorf("parse handshake_timeout: %w", err)
		}
		c.HandshakeTimeout = d
	}
	if fc.MarionettePort > 0 {
		c.MarionettePort = fc.MarionettePort
	}
	if fc.TempDir != "" {
		c.TempDir = fc.TempDir
	}
	if fc.LogLevel != "" {
		c.LogLevel = ParseLogLevel(fc.LogLevel)
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.MetricsTextfile != "" {
		c.MetricsTextfile = fc.MetricsTextfile
	}
	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	return nil
}

// mergeEnv overlays environment variables. A variable that is set but does
// not parse is a *ParameterError naming the variable.
func (c *Config) mergeEnv() error {
	if v := os.Getenv(envProjectRoot); v != "" {
		c.ProjectRoot = v
	}
	if v := os.Getenv(envWebpackBin); v != "" {
		c.WebpackBin = v
	}
	if v := os.Getenv(envRulesetConfig); v != "" {
		c.RulesetConfig = v
	}
	if v := os.Getenv(envTrainingConfig); v != "" {
		c.TrainingConfig = v
	}
	if v := os.Getenv(envScriptTimeout); v != "" {
		d, err := parseEnvDuration(envScriptTimeout, v)
		if err != nil {
			return err
		}
		c.ScriptTimeout = d
	}
	if v := os.Getenv(envHandshakeTimeout); v != "" {
		d, err := parseEnvDuration(envHandshakeTimeout, v)
		if err != nil {
			return err
		}
		c.HandshakeTimeout = d
	}
	if v := os.Getenv(envMarionettePort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port >= 65536 {
			return &ParameterError{Param: envMarionettePort, Reason: fmt.Sprintf("%q is not a TCP port", v)}
		}
		c.MarionettePort = port
	}
	if v := os.Getenv(envTempDir); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envMetricsTextfile); v != "" {
		c.MetricsTextfile = v
	}
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	return nil
}

func parseEnvDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ParameterError{Param: name, Reason: err.Error()}
	}
	if d <= 0 {
		return 0, &ParameterError{Param: name, Reason: fmt.Sprintf("%s must be positive", v)}
	}
	return d, nil
}

// ConfigPath resolves a webpack config name against the project root.
// Absolute paths are returned unchanged.
func (c Config) ConfigPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ProjectRoot, name)
}

// ParameterError reports a missing or invalid operator-supplied parameter.
type ParameterError struct {
	Param  string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Param, e.Reason)
}

// Binary is a resolved browser binary path and where it came from.
type Binary struct {
	Path   string
	Source string
}

// ResolveBinary picks the browser binary: a flag that was set wins over the
// environment default read through lookupEnv, even when its value is empty.
// The result is validated to be non-empty and present on disk.
func ResolveBinary(flagValue string, flagSet bool, lookupEnv func(string) (string, bool)) (Binary, error) {
	if flagSet && flagValue == "" {
		return Binary{}, &ParameterError{Param: "--firefox-bin", Reason: "path must not be empty"}
	}

	bin := Binary{Path: flagValue, Source: model.SourceFlag}
	if !flagSet {
		bin = Binary{Source: model.SourceEnvironmentDefault}
		if v, ok := lookupEnv(EnvFirefoxBin); ok {
			bin.Path = v
		}
	}

	if bin.Path == "" {
		return Binary{}, &ParameterError{
			Param:  "--firefox-bin",
			Reason: "no Firefox binary found; configure the path to Firefox with `npm config` or --firefox-bin",
		}
	}
	if _, err := os.Stat(bin.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Binary{}, &ParameterError{
				Param:  "--firefox-bin",
				Reason: fmt.Sprintf("path to Firefox binary does not exist: %s", bin.Path),
			}
		}
		return Binary{}, &ParameterError{
			Param:  "--firefox-bin",
			Reason: fmt.Sprintf("stat %s: %v", bin.Path, err),
		}
	}
	return bin, nil
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
