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

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

type roleRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	DomainID string `db:"domain_id"`
	Extra    []byte `db:"extra"`
}

const selectRoles = `SELECT id, name, domain_id, extra FROM role`

func (r roleRow) toRecord() (records.Role, error) {
	extra, err := unmarshalExtra(r.Extra)
	if err != nil {
		return records.Role{}, fmt.Errorf("role %q extra: %w", r.ID, err)
	}
	return records.Role{ID: r.ID, Name: r.Name, DomainID: r.DomainID, Extra: extra}, nil
}

func roleDomain(rec records.Role) string {
	// Domain-agnostic roles carry the sentinel, never NULL.
	if rec.DomainID == "" {
		return records.NullDomainID
	}
	return rec.DomainID
}

func (s *postgresStore) RoleGetAll(ctx context.Context) ([]records.Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, selectRoles+` ORDER BY id`); err != nil {
		return nil, err
	}
	roles := make([]records.Role, 0, len(rows))
	for _, r := range rows {
		role, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *postgresStore) RoleGet(ctx context.Context, id string) (*records.Role, error) {
	var row roleRow
	err := s.db.GetContext(ctx, &row, selectRoles+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *postgresStore) RoleCreate(ctx context.Context, rec records.Role) error {
	extra, err := marshalExtra(rec.Extra)
	if err != nil {
		return err
	}

	const query = `INSERT INTO role (id, name, domain_id, extra) VALUES ($1, $2, $3, $4)`
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.Name, roleDomain(rec), extra)
	if isUniqueViolation(err) {
		return fmt.Errorf("role %q: %w", rec.ID, ErrAlreadyExists)
	}
	return err
}

func (s *postgresStore) RoleUpdate(ctx context.Context, id string, rec records.Role) error {
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

	const query = `UPDATE role SET id = $2, name = $3, domain_id = $4, extra = $5 WHERE id = $1`
	if err := execExpectingRow(ctx, tx, query, id, newID, rec.Name, roleDomain(rec), extra); err != nil {
		return err
	}

	if newID != id {
		if _, err := tx.ExecContext(ctx, `UPDATE assignment SET role_id = $2 WHERE role_id = $1`, id, newID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) RoleDelete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignment WHERE role_id = $1`, id); err != nil {
		return err
	}
	if err := execExpectingRow(ctx, tx, `DELETE FROM role WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}
