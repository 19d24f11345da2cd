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

package keystonedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type userRow struct {
	ID               string         `db:"id"`
	DomainID         string         `db:"domain_id"`
	DefaultProjectID sql.NullString `db:"default_project_id"`
	Enabled          bool           `db:"enabled"`
	Extra            []byte         `db:"extra"`
	CreatedAt        sql.NullString `db:"created_at"`
	LastActiveAt     sql.NullString `db:"last_active_at"`
}

type localUserRow struct {
	ID              int            `db:"id"`
	UserID          string         `db:"user_id"`
	DomainID        string         `db:"domain_id"`
	Name            string         `db:"name"`
	FailedAuthCount int            `db:"failed_auth_count"`
	FailedAuthAt    sql.NullString `db:"failed_auth_at"`
}

type passwordRow struct {
	ID           int            `db:"id"`
	LocalUserID  int            `db:"local_user_id"`
	PasswordHash sql.NullString `db:"password_hash"`
	SelfService  bool           `db:"self_service"`
	CreatedAt    sql.NullString `db:"created_at"`
	CreatedAtInt int64          `db:"created_at_int"`
	ExpiresAt    sql.NullString `db:"expires_at"`
	ExpiresAtInt sql.NullInt64  `db:"expires_at_int"`
}

// Timestamps travel as text on the wire, so every read casts them.
const (
	selectUsers = `
		SELECT id, domain_id, default_project_id, enabled, extra,
		       created_at::text AS created_at, last_active_at::text AS last_active_at
		FROM "user"`
	selectLocalUsers = `
		SELECT id, user_id, domain_id, name, failed_auth_count,
		       failed_auth_at::text AS failed_auth_at
		FROM local_user`
	selectPasswords = `
		SELECT id, local_user_id, password_hash, self_service,
		       created_at::text AS created_at, created_at_int,
		       expires_at::text AS expires_at, expires_at_int
		FROM password`
)

func (r userRow) toRecord(local localUserRow, passwords []passwordRow) (records.User, error) {
	extra, err := unmarshalExtra(r.Extra)
	if err != nil {
		return records.User{}, fmt.Errorf("user %q extra: %w", r.ID, err)
	}

	user := records.User{
		ID:               r.ID,
		Name:             local.Name,
		DomainID:         r.DomainID,
		DefaultProjectID: r.DefaultProjectID.String,
		Enabled:          r.Enabled,
		Extra:            extra,
		CreatedAt:        r.CreatedAt.String,
		LastActiveAt:     r.LastActiveAt.String,
		LocalUser: records.LocalUser{
			ID:              local.ID,
			UserID:          local.UserID,
			DomainID:        local.DomainID,
			Name:            local.Name,
			FailedAuthCount: local.FailedAuthCount,
			FailedAuthAt:    local.FailedAuthAt.String,
		},
	}
	for _, p := range passwords {
		user.LocalUser.Passwords = append(user.LocalUser.Passwords, records.Password{
			ID:           p.ID,
			LocalUserID:  p.LocalUserID,
			PasswordHash: p.PasswordHash.String,
			SelfService:  p.SelfService,
			CreatedAt:    p.CreatedAt.String,
			CreatedAtInt: p.CreatedAtInt,
			ExpiresAt:    p.ExpiresAt.String,
			ExpiresAtInt: p.ExpiresAtInt.Int64,
		})
	}
	return user, nil
}

func (s *postgresStore) UserGetAll(ctx context.Context) ([]records.User, error) {
	var userRows []userRow
	if err := s.db.SelectContext(ctx, &userRows, selectUsers+` ORDER BY id`); err != nil {
		return nil, err
	}

	var localRows []localUserRow
	if err := s.db.SelectContext(ctx, &localRows, selectLocalUsers); err != nil {
		return nil, err
	}
	localByUser := make(map[string]localUserRow, len(localRows))
	for _, l := range localRows {
		localByUser[l.UserID] = l
	}

	var passwordRows []passwordRow
	if err := s.db.SelectContext(ctx, &passwordRows, selectPasswords+` ORDER BY id`); err != nil {
		return nil, err
	}
	passwordsByLocal := make(map[int][]passwordRow)
	for _, p := range passwordRows {
		passwordsByLocal[p.LocalUserID] = append(passwordsByLocal[p.LocalUserID], p)
	}

	users := make([]records.User, 0, len(userRows))
	for _, u := range userRows {
		local := localByUser[u.ID]
		user, err := u.toRecord(local, passwordsByLocal[local.ID])
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *postgresStore) UserGet(ctx context.Context, id string) (*records.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, selectUsers+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var local localUserRow
	err = s.db.GetContext(ctx, &local, selectLocalUsers+` WHERE user_id = $1`, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var passwords []passwordRow
	if local.ID != 0 {
		if err := s.db.SelectContext(ctx, &passwords, selectPasswords+` WHERE local_user_id = $1 ORDER BY id`, local.ID); err != nil {
			return nil, err
		}
	}

	user, err := row.toRecord(local, passwords)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func insertPasswords(ctx context.Context, tx *sqlx.Tx, localUserID int, passwords []records.Password) error {
	const query = `
		INSERT INTO password (local_user_id, password_hash, self_service, created_at, created_at_int, expires_at, expires_at_int)
		VALUES ($1, $2, $3, $4::timestamp, $5, $6::timestamp, $7)`
	for _, p := range passwords {
		_, err := tx.ExecContext(ctx, query,
			localUserID, nullString(p.PasswordHash), p.SelfService,
			nullString(p.CreatedAt), p.CreatedAtInt,
			nullString(p.ExpiresAt), sql.NullInt64{Int64: p.ExpiresAtInt, Valid: p.ExpiresAtInt != 0})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) UserCreate(ctx context.Context, rec records.User) error {
	extra, err := marshalExtra(rec.Extra)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertUser = `
		INSERT INTO "user" (id, domain_id, default_project_id, enabled, extra, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamp, now()), $7::timestamp)`
	_, err = tx.ExecContext(ctx, insertUser,
		rec.ID, rec.DomainID, nullString(rec.DefaultProjectID), rec.Enabled, extra,
		nullString(rec.CreatedAt), nullString(rec.LastActiveAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", rec.ID, ErrAlreadyExists)
	}
	if err != nil {
		return err
	}

	// The incoming local user and password IDs belong to the source
	// cloud; fresh rows get fresh ones here.
	const insertLocal = `
		INSERT INTO local_user (user_id, domain_id, name, failed_auth_count, failed_auth_at)
		VALUES ($1, $2, $3, $4, $5::timestamp)
		RETURNING id`
	var localUserID int
	err = tx.GetContext(ctx, &localUserID, insertLocal,
		rec.ID, rec.LocalUser.DomainID, rec.LocalUser.Name,
		rec.LocalUser.FailedAuthCount, nullString(rec.LocalUser.FailedAuthAt))
	if err != nil {
		return err
	}

	if err := insertPasswords(ctx, tx, localUserID, rec.LocalUser.Passwords); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *postgresStore) UserUpdate(ctx context.Context, id string, rec records.User) error {
	newID := rec.ID
	if newID == "" {
		newID = id
	}
	extra, err := marshalExtra(rec.Extra)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const updateUser = `
		UPDATE "user"
		SET id = $2, domain_id = $3, default_project_id = $4, enabled = $5, extra = $6, last_active_at = $7::timestamp
		WHERE id = $1`
	err = execExpectingRow(ctx, tx, updateUser,
		id, newID, rec.DomainID, nullString(rec.DefaultProjectID), rec.Enabled, extra,
		nullString(rec.LastActiveAt))
	if err != nil {
		return err
	}

	if newID != id {
		if _, err := tx.ExecContext(ctx, `UPDATE assignment SET actor_id = $2 WHERE actor_id = $1`, id, newID); err != nil {
			return err
		}
	}

	const updateLocal = `
		UPDATE local_user
		SET user_id = $2, domain_id = $3, name = $4, failed_auth_count = $5, failed_auth_at = $6::timestamp
		WHERE user_id = $1
		RETURNING id`
	var localUserID int
	err = tx.GetContext(ctx, &localUserID, updateLocal,
		id, newID, rec.LocalUser.DomainID, rec.LocalUser.Name,
		rec.LocalUser.FailedAuthCount, nullString(rec.LocalUser.FailedAuthAt))
	if err != nil {
		return err
	}

	if len(rec.LocalUser.Passwords) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM password WHERE local_user_id = $1`, localUserID); err != nil {
			return err
		}
		if err := insertPasswords(ctx, tx, localUserID, rec.LocalUser.Passwords); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) UserDelete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	queries := []string{
		`DELETE FROM password WHERE local_user_id IN (SELECT id FROM local_user WHERE user_id = $1)`,
		`DELETE FROM local_user WHERE user_id = $1`,
		`DELETE FROM assignment WHERE actor_id = $1`,
	}
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}

	if err := execExpectingRow(ctx, tx, `DELETE FROM "user" WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}
