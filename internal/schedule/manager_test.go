package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seamarks/helmsman/internal/fault"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"cron", Job{Workflow: "w", Kind: KindCron, Expr: "*/5 * * * *"}, true},
		{"bad cron", Job{Workflow: "w", Kind: KindCron, Expr: "every day"}, false},
		{"every", Job{Workflow: "w", Kind: KindEvery, Expr: "30s"}, true},
		{"negative every", Job{Workflow: "w", Kind: KindEvery, Expr: "-5s"}, false},
		{"at", Job{Workflow: "w", Kind: KindAt, Expr: "2030-01-02T15:04:05Z"}, true},
		{"bad at", Job{Workflow: "w", Kind: KindAt, Expr: "tomorrow"}, false},
		{"unknown kind", Job{Workflow: "w", Kind: "weekly", Expr: "x"}, false},
		{"missing workflow", Job{Kind: KindEvery, Expr: "30s"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate(tc.job)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, fault.ErrValidation)
			}
		})
	}
}

func TestAddRejectsInvalidWithoutPersisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewManager(NewStoreFromDB(db, "sqlite3"), time.UTC, func(context.Context, string, map[string]interface{}) {}, zaptest.NewLogger(t))

	_, err = m.Add(context.Background(), "disk-check", KindCron, "not a cron expr", nil)
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet(), "no store calls for invalid job")
}

func TestAddPersistsAndArms(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO scheduled_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(NewStoreFromDB(db, "sqlite3"), time.UTC, func(context.Context, string, map[string]interface{}) {}, zaptest.NewLogger(t))
	defer m.Stop()

	job, err := m.Add(context.Background(), "disk-check", KindEvery, "1h", map[string]interface{}{"depth": 2})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Contains(t, job.Payload, "depth")

	m.mu.Lock()
	_, armed := m.entries[job.ID]
	m.mu.Unlock()
	assert.True(t, armed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartDropsExpiredOneShot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	rows := sqlmock.NewRows([]string{"id", "workflow", "kind", "expr", "payload", "created_at"}).
		AddRow("stale", "disk-check", KindAt, past, "", time.Now().Add(-2*time.Hour))
	mock.ExpectQuery("SELECT id, workflow, kind, expr, payload, created_at FROM scheduled_jobs ORDER BY created_at").
		WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM scheduled_jobs").
		WithArgs("stale").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewManager(NewStoreFromDB(db, "sqlite3"), time.UTC, func(context.Context, string, map[string]interface{}) {}, zaptest.NewLogger(t))
	require.NoError(t, m.Start(context.Background()))
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.timers, "expired one-shot must not arm a timer")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOneShotFiresAndSelfDeletes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO scheduled_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM scheduled_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	fired := make(chan string, 1)
	m := NewManager(NewStoreFromDB(db, "sqlite3"), time.UTC, func(_ context.Context, wf string, _ map[string]interface{}) {
		fired <- wf
	}, zaptest.NewLogger(t))

	soon := time.Now().Add(250 * time.Millisecond).Format(time.RFC3339Nano)
	_, err = m.Add(context.Background(), "disk-check", KindAt, soon, nil)
	require.NoError(t, err)

	select {
	case wf := <-fired:
		assert.Equal(t, "disk-check", wf)
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot never fired")
	}
	m.Stop()
}

func TestSyncDeclaredReplaces(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewManager(NewStoreFromDB(db, "sqlite3"), time.UTC, func(context.Context, string, map[string]interface{}) {}, zaptest.NewLogger(t))
	defer m.Stop()

	m.SyncDeclared([]Declared{
		{Workflow: "disk-check", Kind: KindCron, Expr: "*/5 * * * *"},
		{Workflow: "log-sweep", Kind: KindEvery, Expr: "10m"},
	})
	m.mu.Lock()
	assert.Len(t, m.declared, 2)
	m.mu.Unlock()

	m.SyncDeclared([]Declared{
		{Workflow: "log-sweep", Kind: KindEvery, Expr: "15m"},
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.declared, 1)
	_, ok := m.declared["log-sweep"]
	assert.True(t, ok)
}
