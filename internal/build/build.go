// Package build runs the external bundler that produces the ruleset and
// training artifacts.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Config describes one bundler invocation.
type Config struct {
	// Stage names the pipeline stage this build belongs to; it is carried in errors.
	Stage string

	// Tool is the bundler executable, either a path or a name looked up in PATH.
	Tool string

	// ConfigPath is the bundler configuration file.
	ConfigPath string

	// OutputPath overrides the output location. Empty leaves it to the config.
	OutputPath string

	// Dir is the working directory for the tool. Empty uses the current one.
	Dir string
}

// Args returns the command-line arguments for the invocation. Bail mode is
// always on so the first warning or error aborts the bundle.
func (c Config) Args() []string {
	args := []string{"--bail", "--config", c.ConfigPath}
	if c.OutputPath != "" {
		args = append(args, "--output", c.OutputPath)
	}
	return args
}

// Error reports a bundler run that did not succeed. ExitCode is -1 when the
// tool could not be started at all.
type Error struct {
	Stage    string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("build %s: could not run bundler: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("build %s: bundler exited with status %d", e.Stage, e.ExitCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Runner invokes the bundler as a subprocess and waits for it.
type Runner struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// NewRunner creates a Runner. Tool output is forwarded to stdout and stderr;
// nil writers default to os.Stderr so the caller's stdout stays clean.
func NewRunner(stdout, stderr io.Writer, logger *slog.Logger) *Runner {
	if stdout == nil {
		stdout = os.Stderr
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Runner{stdout: stdout, stderr: stderr, logger: logger}
}

// Build runs one bundler invocation. A non-zero exit is returned as *Error
// without retrying; the output is deterministic for the same inputs.
func (r *Runner) Build(ctx context.Context, cfg Config) error {
	start := time.Now()

	cmd := exec.CommandContext(ctx, cfg.Tool, cfg.Args()...)
	cmd.Dir = cfg.Dir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	r.logger.Debug("running bundler",
		"stage", cfg.Stage,
		"tool", cfg.Tool,
		"args", cfg.Args(),
	)

	err := cmd.Run()
	buildDuration.WithLabelValues(cfg.Stage).Observe(time.Since(start).Seconds())
	if err != nil {
		buildsTotal.WithLabelValues(cfg.Stage, statusFailed).Inc()

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Error{Stage: cfg.Stage, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return &Error{Stage: cfg.Stage, ExitCode: -1, Err: err}
	}

	buildsTotal.WithLabelValues(cfg.Stage, statusSucceeded).Inc()
	r.logger.Debug("bundler finished",
		"stage", cfg.Stage,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
