package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/fathom-train/internal/marionette"
)

// DefaultTimeout applies when a Request carries no timeout.
const DefaultTimeout = 5 * time.Minute

// Failure reasons carried by ExecutionError.
const (
	ReasonTimeout  = "timeout"
	ReasonProtocol = "protocol_error"
	ReasonCanceled = "canceled"
)

// Commander sends one command over an established browser session.
// *session.Session satisfies it.
type Commander interface {
	Command(ctx context.Context, name string, params any, result any) error
}

// Context selects the privilege level the script runs with.
type Context int

const (
	// ContextPrivileged runs the script with chrome privileges.
	ContextPrivileged Context = iota
	// ContextNormal runs the script with page privileges.
	ContextNormal
)

// Sandbox returns the Marionette sandbox name for the context.
func (c Context) Sandbox() string {
	if c == ContextPrivileged {
		return "system"
	}
	return "default"
}

func (c Context) String() string {
	if c == ContextPrivileged {
		return "privileged"
	}
	return "normal"
}

// Request is one script submission.
type Request struct {
	Script  string
	Context Context
	Timeout time.Duration
	Args    []any
}

// Result is the pair the script reports through its completion callback.
// Both members are passed through untyped; numbers arrive as json.Number.
type Result struct {
	Solution any
	Cost     any
}

// ExecutionError reports a script that did not produce a result.
type ExecutionError struct {
	Reason  string
	Elapsed time.Duration
	Detail  string
	Err     error
}

func (e *ExecutionError) Error() string {
	switch e.Reason {
	case ReasonTimeout:
		return fmt.Sprintf("script did not report a result within %s", e.Elapsed)
	case ReasonCanceled:
		return fmt.Sprintf("script execution canceled after %s", e.Elapsed.Round(time.Millisecond))
	default:
		return fmt.Sprintf("script execution failed: %s", e.Detail)
	}
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Gateway executes scripts against a session.
type Gateway struct {
	logger *slog.Logger
}

// New creates a Gateway.
func New(logger *slog.Logger) *Gateway {
	return &Gateway{logger: logger}
}

type setTimeoutsParams struct {
	Script int64 `json:"script"`
}

type executeParams struct {
	Script     string `json:"script"`
	Args       []any  `json:"args"`
	Sandbox    string `json:"sandbox"`
	NewSandbox bool   `json:"newSandbox"`
}

type valueBody struct {
	Value json.RawMessage `json:"value"`
}

// ExecuteAsync runs req.Script in the session and waits up to req.Timeout for
// it to call its completion callback with a two-element array. The session's
// script timeout and a local deadline both enforce the bound, so a session
// that never answers still returns on time.
func (g *Gateway) ExecuteAsync(ctx context.Context, cmd Commander, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	args := req.Args
	if args == nil {
		args = []any{}
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g.logger.Debug("executing script",
		"context", req.Context.String(),
		"sandbox", req.Context.Sandbox(),
		"timeout_ms", timeout.Milliseconds(),
		"script_bytes", len(req.Script),
	)

	err := cmd.Command(execCtx, marionette.CmdSetTimeouts, setTimeoutsParams{Script: timeout.Milliseconds()}, nil)
	if err != nil {
		return Result{}, g.fail(ctx, start, timeout, fmt.Errorf("set script timeout: %w", err))
	}

	var body valueBody
	err = cmd.Command(execCtx, marionette.CmdExecuteAsyncScript, executeParams{
		Script:     req.Script,
		Args:       args,
		Sandbox:    req.Context.Sandbox(),
		NewSandbox: true,
	}, &body)
	if err != nil {
		return Result{}, g.fail(ctx, start, timeout, err)
	}

	result, err := decodeResult(body.Value)
	if err != nil {
		return Result{}, g.fail(ctx, start, timeout, err)
	}

	scriptExecutions.WithLabelValues(statusCompleted).Inc()
	scriptDuration.Observe(time.Since(start).Seconds())
	g.logger.Debug("script reported result", "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// decodeResult checks the reported value is a two-element array.
func decodeResult(raw json.RawMessage) (Result, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Result{}, errors.New("script reported no value")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var pair []any
	if err := dec.Decode(&pair); err != nil {
		return Result{}, fmt.Errorf("script result is not an array: %s", truncate(raw))
	}
	if len(pair) != 2 {
		return Result{}, fmt.Errorf("script result has %d elements, want 2", len(pair))
	}
	return Result{Solution: pair[0], Cost: pair[1]}, nil
}

// fail classifies err into an ExecutionError and records it.
func (g *Gateway) fail(parent context.Context, start time.Time, timeout time.Duration, err error) error {
	elapsed := time.Since(start)
	var execErr *ExecutionError

	var perr *marionette.ProtocolError
	switch {
	case parent.Err() != nil:
		execErr = &ExecutionError{Reason: ReasonCanceled, Elapsed: elapsed, Detail: parent.Err().Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		execErr = &ExecutionError{Reason: ReasonTimeout, Elapsed: timeout, Detail: err.Error(), Err: err}
	case errors.As(err, &perr) && perr.Name == marionette.ErrNameScriptTimeout:
		execErr = &ExecutionError{Reason: ReasonTimeout, Elapsed: timeout, Detail: perr.Message, Err: err}
	default:
		execErr = &ExecutionError{Reason: ReasonProtocol, Elapsed: elapsed, Detail: err.Error(), Err: err}
	}

	scriptExecutions.WithLabelValues(execErr.Reason).Inc()
	scriptDuration.Observe(elapsed.Seconds())
	g.logger.Warn("script execution failed",
		"reason", execErr.Reason,
		"elapsed_ms", elapsed.Milliseconds(),
		"error", err,
	)
	return execErr
}

func truncate(raw []byte) string {
	const limit = 120
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
