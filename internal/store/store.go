package store

import (
	"context"
	"errors"

	"github.com/seantiz/fathom-train/internal/model"
)

// ErrInvalidTransition is returned when a run stage transition is not allowed.
var ErrInvalidTransition = errors.New("invalid stage transition")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	FailuresByStage map[string]int `json:"failures_by_stage"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for training runs.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStage(ctx context.Context, id, stage string) error
	FinishRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	Ping(ctx context.Context) error
	Close() error
}
