package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/fathom-train/internal/build"
	"github.com/seantiz/fathom-train/internal/config"
	"github.com/seantiz/fathom-train/internal/gateway"
	"github.com/seantiz/fathom-train/internal/session"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitParameter    = 2
	ExitBuild        = 3
	ExitSessionStart = 4
	ExitExecution    = 5
	ExitInterrupted  = 130
)

// StageError names the pipeline stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error from a run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		paramErr *config.ParameterError
		buildErr *build.Error
		startErr *session.StartError
		execErr  *gateway.ExecutionError
	)
	switch {
	case errors.As(err, &paramErr):
		return ExitParameter
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &buildErr):
		return ExitBuild
	case errors.As(err, &startErr):
		return ExitSessionStart
	case errors.As(err, &execErr):
		return ExitExecution
	default:
		return ExitFailure
	}
}
