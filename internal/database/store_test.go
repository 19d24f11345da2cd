package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

func newMockedStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStoreFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestGetSubcloud(t *testing.T) {
	store, mock := newMockedStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM subclouds WHERE region = $1`)).
		WithArgs("subcloud1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "region", "state", "management_state", "availability_status",
			"software_version", "management_ip", "created_at", "updated_at",
		}).AddRow(int64(4), "subcloud1", "enabled", "managed", "online", "24.09", "192.168.101.2", now, now))

	subcloud, err := store.GetSubcloud(context.Background(), "subcloud1")
	if assert.NoError(t, err) {
		assert.Equal(t, int64(4), subcloud.ID)
		assert.Equal(t, SubcloudEnabled, subcloud.State)
		assert.Equal(t, ManagementManaged, subcloud.ManagementState)
	}
}

func TestGetSubcloudNotFound(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM subclouds WHERE region = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetSubcloud(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSubcloudDuplicateRegion(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO subclouds`)).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := store.CreateSubcloud(context.Background(), &Subcloud{Region: "subcloud1", State: SubcloudLoading})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateSubcloudStateUnknownRegion(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE subclouds SET state = $2`)).
		WithArgs("missing", SubcloudEnabled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSubcloudState(context.Background(), "missing", SubcloudEnabled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueueWorkCoalescesExistingRequest(t *testing.T) {
	store, mock := newMockedStore(t)
	info := []byte(`{"id":"u-1"}`)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE orch_jobs AS j`)).
		WithArgs(records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationUpdate, info, "subcloud1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectCommit()

	err := store.EnqueueWork(context.Background(), []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationUpdate, info)
	assert.NoError(t, err)
}

func TestEnqueueWorkInsertsJobAndRequests(t *testing.T) {
	store, mock := newMockedStore(t)
	info := []byte(`{"keys":[]}`)

	mock.ExpectBegin()
	for _, region := range []string{"subcloud1", "subcloud2"} {
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE orch_jobs AS j`)).
			WithArgs(records.EndpointPlatform, records.ResourceFernetRepo, "", records.OperationUpdate, info, region).
			WillReturnError(sql.ErrNoRows)
	}
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orch_jobs`)).
		WithArgs(records.EndpointPlatform, records.ResourceFernetRepo, "", records.OperationUpdate, info).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orch_requests (job_id, region) VALUES ($1, $2)`)).
		WithArgs(int64(7), "subcloud1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orch_requests (job_id, region) VALUES ($1, $2)`)).
		WithArgs(int64(7), "subcloud2").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := store.EnqueueWork(context.Background(), []string{"subcloud1", "subcloud2"}, records.EndpointPlatform, records.ResourceFernetRepo, "", records.OperationUpdate, info)
	assert.NoError(t, err)
}

func TestNextQueuedWorkEmptyQueue(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT r.id FROM orch_requests AS r`)).
		WithArgs("subcloud1", records.EndpointIdentity).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.NextQueuedWork(context.Background(), "subcloud1", records.EndpointIdentity)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishWorkRejectsNonTerminalState(t *testing.T) {
	store, _ := newMockedStore(t)

	err := store.FinishWork(context.Background(), 4, RequestInProgress, "")
	assert.EqualError(t, err, `request 4: "in-progress" is not a terminal state`)
}

func TestFinishWorkNotClaimed(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE orch_requests`)).
		WithArgs(int64(4), RequestCompleted, "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.FinishWork(context.Background(), 4, RequestCompleted, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasPendingWork(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("subcloud1", records.EndpointIdentity).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	pending, err := store.HasPendingWork(context.Background(), "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)
	assert.True(t, pending)
}
