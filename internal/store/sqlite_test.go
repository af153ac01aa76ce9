package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/seantiz/fathom-train/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestRun() *model.Run {
	return &model.Run{
		ID:           model.NewID(),
		Status:       model.StatusRunning,
		BinaryPath:   "/usr/bin/firefox",
		BinarySource: model.SourceFlag,
		TimeoutMS:    (5 * time.Minute).Milliseconds(),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

// advance walks a run through the pipeline up to and including stage.
func advance(t *testing.T, s *SQLiteStore, id, stage string) {
	t.Helper()
	for _, st := range []string{
		model.StageBuildSide, model.StageBuildPrimary, model.StageReadPrimary,
		model.StageRun, model.StageReport,
	} {
		if err := s.UpdateRunStage(context.Background(), id, st); err != nil {
			t.Fatalf("UpdateRunStage(%s): %v", st, err)
		}
		if st == stage {
			return
		}
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()

	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.ID != r.ID {
		t.Errorf("ID = %q, want %q", got.ID, r.ID)
	}
	if got.Status != model.StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusRunning)
	}
	if got.BinaryPath != r.BinaryPath {
		t.Errorf("BinaryPath = %q, want %q", got.BinaryPath, r.BinaryPath)
	}
	if got.BinarySource != model.SourceFlag {
		t.Errorf("BinarySource = %q, want %q", got.BinarySource, model.SourceFlag)
	}
	if got.TimeoutMS != r.TimeoutMS {
		t.Errorf("TimeoutMS = %d, want %d", got.TimeoutMS, r.TimeoutMS)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
	if got.DurationMS != nil || got.FinishedAt != nil {
		t.Errorf("unfinished run has DurationMS=%v FinishedAt=%v", got.DurationMS, got.FinishedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun error = %v, want ErrNotFound", err)
	}
}

func TestListRunsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	var ids []string
	for i := 0; i < 5; i++ {
		r := makeTestRun()
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		ids = append(ids, r.ID)
	}

	runs, total, err := s.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != ids[4] || runs[1].ID != ids[3] {
		t.Errorf("first page = [%s %s], want newest first", runs[0].ID, runs[1].ID)
	}

	runs, _, err = s.ListRuns(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListRuns offset: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != ids[0] {
		t.Errorf("last page = %v, want only the oldest run", runs)
	}
}

func TestListRunsEmpty(t *testing.T) {
	s := newTestStore(t)

	runs, total, err := s.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 0 || len(runs) != 0 {
		t.Errorf("got %d runs (total %d), want none", len(runs), total)
	}
}

func TestUpdateRunStageValidLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	advance(t, s, r.ID, model.StageReport)

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != model.StageReport {
		t.Errorf("Stage = %q, want %q", got.Stage, model.StageReport)
	}
}

func TestUpdateRunStageInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	advance(t, s, r.ID, model.StageBuildPrimary)

	tests := []struct {
		name  string
		stage string
	}{
		{"skip ahead", model.StageReport},
		{"go back", model.StageBuildSide},
		{"repeat", model.StageBuildPrimary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.UpdateRunStage(ctx, r.ID, tt.stage)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("UpdateRunStage(%s) error = %v, want ErrInvalidTransition", tt.stage, err)
			}
		})
	}
}

func TestUpdateRunStageNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateRunStage(context.Background(), "nonexistent", model.StageBuildSide)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRunStage error = %v, want ErrNotFound", err)
	}
}

func TestFinishRunCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	advance(t, s, r.ID, model.StageReport)

	dur := int64(1234)
	finished := time.Now().UTC().Truncate(time.Second)
	err := s.FinishRun(ctx, &model.Run{
		ID:         r.ID,
		Status:     model.StatusCompleted,
		Stage:      model.StageReported,
		Solution:   `"solution-A"`,
		Cost:       "0.42",
		DurationMS: &dur,
		FinishedAt: &finished,
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Solution != `"solution-A"` || got.Cost != "0.42" {
		t.Errorf("result = (%s, %s), want (\"solution-A\", 0.42)", got.Solution, got.Cost)
	}
	if got.DurationMS == nil || *got.DurationMS != 1234 {
		t.Errorf("DurationMS = %v, want 1234", got.DurationMS)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}

	// A finished run cannot move again.
	if err := s.UpdateRunStage(ctx, r.ID, model.StageFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("UpdateRunStage after finish = %v, want ErrInvalidTransition", err)
	}
}

func TestFinishRunFailedSetsFinishedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	advance(t, s, r.ID, model.StageRun)

	err := s.FinishRun(ctx, &model.Run{
		ID:     r.ID,
		Status: model.StatusFailed,
		Stage:  model.StageFailed,
		Error:  "script did not report a result within 5m0s",
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != model.StageFailed {
		t.Errorf("Stage = %q, want failed", got.Stage)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if got.Error == "" {
		t.Error("Error not stored")
	}
}

func TestFinishRunRejectsNonTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	err := s.FinishRun(ctx, &model.Run{ID: r.ID, Status: model.StatusCompleted, Stage: model.StageRun})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishRun(non-terminal) = %v, want ErrInvalidTransition", err)
	}

	// reported is only reachable from report.
	err = s.FinishRun(ctx, &model.Run{ID: r.ID, Status: model.StatusCompleted, Stage: model.StageReported})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishRun(skip to reported) = %v, want ErrInvalidTransition", err)
	}
}

func TestGetRunStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	finish := func(stage, status, finalStage string, dur int64) {
		r := makeTestRun()
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		advance(t, s, r.ID, stage)
		if err := s.FinishRun(ctx, &model.Run{ID: r.ID, Status: status, Stage: finalStage, DurationMS: &dur}); err != nil {
			t.Fatalf("FinishRun: %v", err)
		}
	}
	finish(model.StageReport, model.StatusCompleted, model.StageReported, 100)
	finish(model.StageReport, model.StatusCompleted, model.StageReported, 200)
	finish(model.StageRun, model.StatusFailed, model.StageFailed, 300)
	finish(model.StageBuildSide, model.StatusFailed, model.StageFailed, 400)

	// One run still in flight.
	if err := s.CreateRun(ctx, makeTestRun()); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	stats, err := s.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}

	if stats.Total != 5 {
		t.Errorf("Total = %d, want 5", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 {
		t.Errorf("completed count = %d, want 2", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByStatus[model.StatusFailed] != 2 {
		t.Errorf("failed count = %d, want 2", stats.CountByStatus[model.StatusFailed])
	}
	if stats.CountByStatus[model.StatusRunning] != 1 {
		t.Errorf("running count = %d, want 1", stats.CountByStatus[model.StatusRunning])
	}
	if stats.FailuresByStage[model.StageRun] != 1 || stats.FailuresByStage[model.StageBuildSide] != 1 {
		t.Errorf("FailuresByStage = %v, want one each for run and build_side", stats.FailuresByStage)
	}
	if stats.AvgDurationMS != 250 {
		t.Errorf("AvgDurationMS = %f, want 250", stats.AvgDurationMS)
	}
}

func TestGetRunStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetRunStats(context.Background())
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgDurationMS != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if stats.CountByStatus == nil || stats.FailuresByStage == nil {
		t.Error("stat maps should be non-nil")
	}
}

func TestMigrationIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	r := makeTestRun()
	if err := s1.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetRun(context.Background(), r.ID); err != nil {
		t.Errorf("run lost across reopen: %v", err)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping after Close succeeded, want error")
	}
}
