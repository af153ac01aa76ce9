package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/fathom-train/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    stage         TEXT NOT NULL,
    failed_stage  TEXT NOT NULL DEFAULT '',
    binary_path   TEXT NOT NULL,
    binary_source TEXT NOT NULL,
    solution      TEXT NOT NULL DEFAULT '',
    cost          TEXT NOT NULL DEFAULT '',
    error         TEXT NOT NULL DEFAULT '',
    timeout_ms    INTEGER NOT NULL,
    duration_ms   INTEGER,
    created_at    DATETIME NOT NULL,
    finished_at   DATETIME
)`

const createRunsIndex = `CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at)`

const runColumns = `id, status, stage, binary_path, binary_source, solution, cost,
	error, timeout_ms, duration_ms, created_at, finished_at`

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	if _, err := db.Exec(createRunsIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	r := &model.Run{}
	err := sc.Scan(
		&r.ID, &r.Status, &r.Stage, &r.BinaryPath, &r.BinarySource, &r.Solution, &r.Cost,
		&r.Error, &r.TimeoutMS, &r.DurationMS, &r.CreatedAt, &r.FinishedAt,
	)
	return r, err
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Stage, r.BinaryPath, r.BinarySource, r.Solution, r.Cost,
		r.Error, r.TimeoutMS, r.DurationMS, r.CreatedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// UpdateRunStage moves a run to the next pipeline stage. Moves that skip or
// revisit a stage, or leave a terminal stage, return ErrInvalidTransition.
func (s *SQLiteStore) UpdateRunStage(ctx context.Context, id, stage string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := currentStage(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(current, stage) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, stage)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE runs SET stage = ? WHERE id = ?", stage, id); err != nil {
		return fmt.Errorf("update run stage: %w", err)
	}
	return tx.Commit()
}

// FinishRun records the outcome of a run. r.Stage must be terminal and
// reachable from the stored stage; for a failed run the stage it failed in
// is kept for statistics.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.Run) error {
	if !model.IsTerminal(r.Stage) {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, r.Stage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := currentStage(ctx, tx, r.ID)
	if err != nil {
		return err
	}
	if !model.ValidTransition(current, r.Stage) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, r.Stage)
	}

	failedStage := ""
	if r.Stage == model.StageFailed {
		failedStage = current
	}
	finishedAt := r.FinishedAt
	if finishedAt == nil {
		now := time.Now().UTC()
		finishedAt = &now
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, stage = ?, failed_stage = ?, solution = ?, cost = ?,
			error = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, r.Stage, failedStage, r.Solution, r.Cost,
		r.Error, r.DurationMS, finishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return tx.Commit()
}

func currentStage(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var stage string
	err := tx.QueryRowContext(ctx, "SELECT stage FROM runs WHERE id = ?", id).Scan(&stage)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read run stage: %w", err)
	}
	return stage, nil
}

// GetRunStats returns totals by status, failures by stage, and the average
// duration of finished runs.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByStatus:   map[string]int{},
		FailuresByStage: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT failed_stage, COUNT(*) FROM runs WHERE status = ? GROUP BY failed_stage", model.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("count failures by stage: %w", err)
	}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		stats.FailuresByStage[stage] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM runs WHERE duration_ms IS NOT NULL").Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}
