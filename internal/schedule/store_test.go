package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seamarks/helmsman/internal/fault"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromDB(db, "sqlite3"), mock
}

func TestStoreInsertAndList(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO scheduled_jobs").
		WithArgs("j1", "disk-check", KindCron, "*/5 * * * *", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Insert(context.Background(), Job{
		ID: "j1", Workflow: "disk-check", Kind: KindCron, Expr: "*/5 * * * *", CreatedAt: now,
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "workflow", "kind", "expr", "payload", "created_at"}).
		AddRow("j1", "disk-check", KindCron, "*/5 * * * *", "", now)
	mock.ExpectQuery("SELECT id, workflow, kind, expr, payload, created_at FROM scheduled_jobs ORDER BY created_at").
		WillReturnRows(rows)

	jobs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "disk-check", jobs[0].Workflow)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDeleteUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM scheduled_jobs").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, workflow, kind, expr, payload, created_at FROM scheduled_jobs WHERE").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow", "kind", "expr", "payload", "created_at"}))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobPayloadMap(t *testing.T) {
	m, err := Job{Payload: `{"severity":"high"}`}.PayloadMap()
	require.NoError(t, err)
	assert.Equal(t, "high", m["severity"])

	m, err = Job{}.PayloadMap()
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = Job{ID: "j1", Payload: "not json"}.PayloadMap()
	assert.ErrorIs(t, err, fault.ErrValidation)
}
