package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cliq-dev/cliq/internal/task"
)

// Store is a SQLite-backed run history. It records the outcome of master
// task runs so past work can be inspected and interrupted jobs can be
// resumed without re-running finished tasks.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// NewStore opens (or creates) the history database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun persists one finished (or failed, or cancelled) run of a master
// task, including per-task outcomes and peak resource usage.
func (s *Store) RecordRun(m *task.Master) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (master_id, name, state, started_at, finished_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.State().String(), m.Stats.StartTime, m.Stats.EndTime,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	for _, t := range m.Tasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_tasks (run_id, task_id, name, state, optional, duration_ms, peak_cpu, peak_rss)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, t.ID, t.Name, t.State().String(), t.Optional,
			t.Stats.Duration().Milliseconds(), t.Stats.PeakCPU(), t.Stats.PeakRSS(),
		)
		if err != nil {
			return fmt.Errorf("insert run task: %w", err)
		}
	}
	return tx.Commit()
}

// RunSummary is one row of run history.
type RunSummary struct {
	RunID      int64
	MasterID   string
	Name       string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
	Tasks      int
}

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.master_id, r.name, r.state, r.started_at, r.finished_at,
		        (SELECT COUNT(*) FROM run_tasks t WHERE t.run_id = r.id)
		 FROM runs r ORDER BY r.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.MasterID, &r.Name, &r.State, &r.StartedAt, &r.FinishedAt, &r.Tasks); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TaskStates returns the per-task states recorded by the most recent run of
// the given master task. An empty map means no prior run exists.
func (s *Store) TaskStates(ctx context.Context, masterID string) (map[string]string, error) {
	var runID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE master_id = ? ORDER BY id DESC LIMIT 1`, masterID).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, state FROM run_tasks WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run tasks: %w", err)
	}
	defer rows.Close()

	states := make(map[string]string)
	for rows.Next() {
		var id, st string
		if err := rows.Scan(&id, &st); err != nil {
			return nil, fmt.Errorf("scan run task: %w", err)
		}
		states[id] = st
	}
	return states, rows.Err()
}

// Restore applies previously recorded task states to a master task so a
// re-run skips work that already finished: finished tasks are marked
// finished and locked, everything else stays queued for re-execution. A
// master with a partial prior run is marked incomplete until it starts.
func Restore(m *task.Master, states map[string]string) {
	restored := 0
	for id, st := range states {
		t := m.TaskForID(id)
		if t == nil {
			continue
		}
		if task.StateFromString(st) == task.StateFinished {
			t.MarkFinished()
			restored++
		}
	}
	if restored > 0 && restored < len(m.Tasks) {
		m.SetState(task.StateIncomplete)
	}
}
