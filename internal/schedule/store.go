// Package schedule persists job descriptions and fires them at their due
// times, handing each fire to the trigger layer.
package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/seamarks/helmsman/internal/fault"
)

// Job kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Job is one persisted schedule entry.
type Job struct {
	ID        string    `db:"id" json:"id"`
	Workflow  string    `db:"workflow" json:"workflow"`
	Kind      string    `db:"kind" json:"kind"`
	Expr      string    `db:"expr" json:"expr"`
	Payload   string    `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PayloadMap decodes the stored JSON payload; empty payload yields nil.
func (j Job) PayloadMap() (map[string]interface{}, error) {
	if j.Payload == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(j.Payload), &m); err != nil {
		return nil, fault.Validation("job %s payload is not valid JSON: %v", j.ID, err)
	}
	return m, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_jobs (
    id         TEXT PRIMARY KEY,
    workflow   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    expr       TEXT NOT NULL,
    payload    TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
)`

// Store persists jobs in SQLite or Postgres, selected by driver name.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens the job store and ensures the schema exists. driver is
// "sqlite3" or "postgres".
func NewStore(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening schedule store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schedule schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// NewStoreFromDB wraps an existing connection; tests use this with
// sqlmock.
func NewStoreFromDB(db *sql.DB, driver string) *Store {
	return &Store{db: sqlx.NewDb(db, driver), driver: driver}
}

func (s *Store) rebind(q string) string { return s.db.Rebind(q) }

// Insert adds a job.
func (s *Store) Insert(ctx context.Context, job Job) error {
	q := s.rebind(`INSERT INTO scheduled_jobs (id, workflow, kind, expr, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, job.ID, job.Workflow, job.Kind, job.Expr, job.Payload, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	q := s.rebind(`DELETE FROM scheduled_jobs WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Validation("unknown schedule %q", id)
	}
	return nil
}

// List returns all jobs ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT id, workflow, kind, expr, payload, created_at FROM scheduled_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	q := s.rebind(`SELECT id, workflow, kind, expr, payload, created_at FROM scheduled_jobs WHERE id = ?`)
	err := s.db.GetContext(ctx, &job, q, id)
	if err == sql.ErrNoRows {
		return Job{}, fault.Validation("unknown schedule %q", id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }
