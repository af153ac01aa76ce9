package model

import "time"

// Run status constants.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Stage names, in pipeline order. StageReported and StageFailed are terminal.
const (
	StageBuildSide    = "build_side"
	StageBuildPrimary = "build_primary"
	StageReadPrimary  = "read_primary"
	StageRun          = "run"
	StageReport       = "report"
	StageReported     = "reported"
	StageFailed       = "failed"
)

// Binary sources record where the browser binary path came from.
const (
	SourceFlag               = "flag"
	SourceEnvironmentDefault = "environment_default"
)

// validTransitions maps each stage to the set of stages it may move to.
// Every non-terminal stage may fail; otherwise progress is strictly forward.
var validTransitions = map[string]map[string]bool{
	"": {
		StageBuildSide: true,
		StageFailed:    true,
	},
	StageBuildSide: {
		StageBuildPrimary: true,
		StageFailed:       true,
	},
	StageBuildPrimary: {
		StageReadPrimary: true,
		StageFailed:      true,
	},
	StageReadPrimary: {
		StageRun:    true,
		StageFailed: true,
	},
	StageRun: {
		StageReport: true,
		StageFailed: true,
	},
	StageReport: {
		StageReported: true,
		StageFailed:   true,
	},
}

// ValidTransition reports whether moving from one stage to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether stage ends a run.
func IsTerminal(stage string) bool {
	return stage == StageReported || stage == StageFailed
}

// Run is the persisted record of one training invocation.
type Run struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Stage        string     `json:"stage"`
	BinaryPath   string     `json:"binary_path"`
	BinarySource string     `json:"binary_source"`
	Solution     string     `json:"solution,omitempty"`
	Cost         string     `json:"cost,omitempty"`
	Error        string     `json:"error,omitempty"`
	TimeoutMS    int64      `json:"timeout_ms"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
