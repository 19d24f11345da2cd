package keystonedb

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

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

func TestRoleGetTranslatesNoRows(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, domain_id, extra FROM role WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.RoleGet(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoleCreateDuplicate(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO role`)).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := store.RoleCreate(context.Background(), records.Role{ID: "r-1", Name: "member"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRoleCreateDefaultsDomainSentinel(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO role`)).
		WithArgs("r-1", "member", records.NullDomainID, []byte("{}")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.RoleCreate(context.Background(), records.Role{ID: "r-1", Name: "member"})
	assert.NoError(t, err)
}

func TestProjectUpdateCascadesAssignmentTargets(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE project`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE assignment SET target_id = $2 WHERE target_id = $1`)).
		WithArgs("p-old", "p-new").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := store.ProjectUpdate(context.Background(), "p-old", records.Project{ID: "p-new", Name: "svc", DomainID: "default"})
	assert.NoError(t, err)
}

func TestProjectUpdateSameIDSkipsCascade(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE project`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ProjectUpdate(context.Background(), "p-1", records.Project{ID: "p-1", Name: "svc", DomainID: "default"})
	assert.NoError(t, err)
}

func TestUserDeleteCascadeOrder(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM password WHERE local_user_id IN`)).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM local_user WHERE user_id = $1`)).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM assignment WHERE actor_id = $1`)).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "user" WHERE id = $1`)).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UserDelete(context.Background(), "u-1")
	assert.NoError(t, err)
}

func TestUserDeleteUnknownUser(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM password`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM local_user`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM assignment`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "user"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.UserDelete(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedUser(id, name string) records.User {
	return records.User{
		ID:       id,
		DomainID: "default",
		Enabled:  true,
		LocalUser: records.LocalUser{
			DomainID: "default",
			Name:     name,
			Passwords: []records.Password{
				{ID: 99, LocalUserID: 42, PasswordHash: "$2b$hash", CreatedAtInt: 1700000000},
			},
		},
	}
}

func TestMemStoreUserCreateReparentsPasswords(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.UserCreate(ctx, seedUser("u-1", "operator")))

	user, err := store.UserGet(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "operator", user.Name)
	require.Len(t, user.LocalUser.Passwords, 1)
	// The source cloud's row IDs were dropped on insert.
	assert.NotEqual(t, 99, user.LocalUser.Passwords[0].ID)
	assert.Equal(t, user.LocalUser.ID, user.LocalUser.Passwords[0].LocalUserID)

	err = store.UserCreate(ctx, seedUser("u-1", "operator"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemStoreUserUpdateCascadesAssignmentActor(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.UserCreate(ctx, seedUser("u-old", "operator")))
	require.NoError(t, store.AssignmentCreate(ctx, records.Assignment{
		Type: records.AssignmentUserProject, ActorID: "u-old", TargetID: "p-1", RoleID: "r-1",
	}))

	updated := seedUser("u-new", "operator")
	require.NoError(t, store.UserUpdate(ctx, "u-old", updated))

	_, err := store.UserGet(ctx, "u-old")
	assert.ErrorIs(t, err, ErrNotFound)

	assignment, err := store.AssignmentGet(ctx, "p-1", "u-new", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "u-new", assignment.ActorID)
}

func TestMemStoreUserUpdateKeepsPasswordsWhenOmitted(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.UserCreate(ctx, seedUser("u-1", "operator")))

	updated := seedUser("u-1", "operator")
	updated.LocalUser.Passwords = nil
	updated.Enabled = false
	require.NoError(t, store.UserUpdate(ctx, "u-1", updated))

	user, err := store.UserGet(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, user.Enabled)
	assert.Len(t, user.LocalUser.Passwords, 1)
}

func TestMemStoreRevokeEventsByUserSelector(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	event := records.RevocationEvent{UserID: "u-1", IssuedBefore: "2026-08-26T10:00:00Z"}
	require.NoError(t, store.RevokeEventCreate(ctx, event))

	got, err := store.RevokeEventGetByUser(ctx, "u-1", "2026-08-26T10:00:00Z")
	require.NoError(t, err)
	assert.NotZero(t, got.ID)

	require.NoError(t, store.RevokeEventDeleteByUser(ctx, "u-1", "2026-08-26T10:00:00Z"))
	err = store.RevokeEventDeleteByUser(ctx, "u-1", "2026-08-26T10:00:00Z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreRevokeEventsByAudit(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.RevokeEventCreate(ctx, records.RevocationEvent{
		AuditID: "audit-1", IssuedBefore: "2026-08-26T10:00:00Z",
	}))

	got, err := store.RevokeEventGetByAudit(ctx, "audit-1")
	require.NoError(t, err)
	assert.Equal(t, "audit-1", got.AuditID)

	require.NoError(t, store.RevokeEventDeleteByAudit(ctx, "audit-1"))
	events, err := store.RevokeEventGetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemStoreRoleDeleteDropsAssignments(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.RoleCreate(ctx, records.Role{ID: "r-1", Name: "member"}))
	require.NoError(t, store.AssignmentCreate(ctx, records.Assignment{
		Type: records.AssignmentUserProject, ActorID: "u-1", TargetID: "p-1", RoleID: "r-1",
	}))

	require.NoError(t, store.RoleDelete(ctx, "r-1"))
	assignments, err := store.AssignmentGetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}
