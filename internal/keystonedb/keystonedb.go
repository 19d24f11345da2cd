// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keystonedb reads and writes the identity service's own
// backend tables on behalf of the replication API. The schema belongs
// to the identity service; this package carries no migrations.
package keystonedb

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the slice of the identity backend the replication API
// serves: consolidated users, projects, roles, role assignments and
// token revocation events. Writes that change a record's primary key
// cascade into the assignment table in the same transaction.
type Store interface {
	// ConnectionTest verifies the database is reachable. Intended for use in health checks.
	ConnectionTest(ctx context.Context) error

	// UserGetAll returns every user consolidated with its local user and
	// password rows, ordered by ID.
	UserGetAll(ctx context.Context) ([]records.User, error)

	// UserGet returns one consolidated user.
	UserGet(ctx context.Context, id string) (*records.User, error)

	// UserCreate inserts a consolidated user. Incoming autoincrement IDs
	// on the local user and password rows are dropped; passwords are
	// reparented to the inserted local user.
	UserCreate(ctx context.Context, rec records.User) error

	// UserUpdate replaces a user's fields. When the primary key changes,
	// assignment actor references follow in the same transaction. The
	// local user row is updated alongside, and the password history is
	// replaced when the record carries one.
	UserUpdate(ctx context.Context, id string, rec records.User) error

	// UserDelete removes a user together with its local user, passwords
	// and assignments.
	UserDelete(ctx context.Context, id string) error

	// ProjectGetAll returns every project ordered by ID.
	ProjectGetAll(ctx context.Context) ([]records.Project, error)

	// ProjectGet returns one project.
	ProjectGet(ctx context.Context, id string) (*records.Project, error)

	// ProjectCreate inserts a project.
	ProjectCreate(ctx context.Context, rec records.Project) error

	// ProjectUpdate replaces a project's fields, cascading assignment
	// target references when the primary key changes.
	ProjectUpdate(ctx context.Context, id string, rec records.Project) error

	// ProjectDelete removes a project and its assignments.
	ProjectDelete(ctx context.Context, id string) error

	// RoleGetAll returns every role ordered by ID.
	RoleGetAll(ctx context.Context) ([]records.Role, error)

	// RoleGet returns one role.
	RoleGet(ctx context.Context, id string) (*records.Role, error)

	// RoleCreate inserts a role.
	RoleCreate(ctx context.Context, rec records.Role) error

	// RoleUpdate replaces a role's fields, cascading assignment role
	// references when the primary key changes.
	RoleUpdate(ctx context.Context, id string, rec records.Role) error

	// RoleDelete removes a role and its assignments.
	RoleDelete(ctx context.Context, id string) error

	// AssignmentGetAll returns every role assignment.
	AssignmentGetAll(ctx context.Context) ([]records.Assignment, error)

	// AssignmentGet returns the assignment addressed by its triplet.
	AssignmentGet(ctx context.Context, targetID, actorID, roleID string) (*records.Assignment, error)

	// AssignmentCreate inserts an assignment.
	AssignmentCreate(ctx context.Context, rec records.Assignment) error

	// RevokeEventGetAll returns every revocation event ordered by ID.
	RevokeEventGetAll(ctx context.Context) ([]records.RevocationEvent, error)

	// RevokeEventGetByAudit returns the revocation event carrying an
	// audit ID.
	RevokeEventGetByAudit(ctx context.Context, auditID string) (*records.RevocationEvent, error)

	// RevokeEventGetByUser returns the user-scoped revocation event
	// selected by user ID and issue cutoff.
	RevokeEventGetByUser(ctx context.Context, userID, issuedBefore string) (*records.RevocationEvent, error)

	// RevokeEventCreate inserts a revocation event, dropping any incoming
	// autoincrement ID.
	RevokeEventCreate(ctx context.Context, rec records.RevocationEvent) error

	// RevokeEventDeleteByAudit removes the revocation event carrying an
	// audit ID.
	RevokeEventDeleteByAudit(ctx context.Context, auditID string) error

	// RevokeEventDeleteByUser removes the user-scoped revocation event
	// selected by user ID and issue cutoff.
	RevokeEventDeleteByUser(ctx context.Context, userID, issuedBefore string) error
}

// postgresStore implements Store on the identity service's PostgreSQL
// backend through the pgx driver.
type postgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to the identity database and verifies the
// connection.
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &postgresStore{db: db}, nil
}

// NewStoreFromDB wraps an existing connection. Used by tests.
func NewStoreFromDB(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) ConnectionTest(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execExpectingRow runs a statement that must touch at least one row,
// translating the zero-row case to ErrNotFound.
func execExpectingRow(ctx context.Context, tx sqlx.ExecerContext, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// marshalExtra encodes the free-form extra column, mapping an empty map
// to the keystone convention of "{}".
func marshalExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(extra)
}

func unmarshalExtra(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return nil, nil
	}
	return extra, nil
}
