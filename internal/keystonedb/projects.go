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

type projectRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	DomainID    string         `db:"domain_id"`
	Description sql.NullString `db:"description"`
	Enabled     bool           `db:"enabled"`
	ParentID    sql.NullString `db:"parent_id"`
	IsDomain    bool           `db:"is_domain"`
	Extra       []byte         `db:"extra"`
}

const selectProjects = `
	SELECT id, name, domain_id, description, enabled, parent_id, is_domain, extra
	FROM project`

func (r projectRow) toRecord() (records.Project, error) {
	extra, err := unmarshalExtra(r.Extra)
	if err != nil {
		return records.Project{}, fmt.Errorf("project %q extra: %w", r.ID, err)
	}
	return records.Project{
		ID:          r.ID,
		Name:        r.Name,
		DomainID:    r.DomainID,
		Description: r.Description.String,
		Enabled:     r.Enabled,
		ParentID:    r.ParentID.String,
		IsDomain:    r.IsDomain,
		Extra:       extra,
	}, nil
}

func (s *postgresStore) ProjectGetAll(ctx context.Context) ([]records.Project, error) {
	var rows []projectRow
	if err := s.db.SelectContext(ctx, &rows, selectProjects+` ORDER BY id`); err != nil {
		return nil, err
	}
	projects := make([]records.Project, 0, len(rows))
	for _, r := range rows {
		project, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func (s *postgresStore) ProjectGet(ctx context.Context, id string) (*records.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, selectProjects+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	project, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *postgresStore) ProjectCreate(ctx context.Context, rec records.Project) error {
	extra, err := marshalExtra(rec.Extra)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO project (id, name, domain_id, description, enabled, parent_id, is_domain, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.DomainID, nullString(rec.Description),
		rec.Enabled, nullString(rec.ParentID), rec.IsDomain, extra)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %q: %w", rec.ID, ErrAlreadyExists)
	}
	return err
}

func (s *postgresStore) ProjectUpdate(ctx context.Context, id string, rec records.Project) error {
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

	const query = `
		UPDATE project
		SET id = $2, name = $3, domain_id = $4, description = $5, enabled = $6, parent_id = $7, is_domain = $8, extra = $9
		WHERE id = $1`
	err = execExpectingRow(ctx, tx, query,
		id, newID, rec.Name, rec.DomainID, nullString(rec.Description),
		rec.Enabled, nullString(rec.ParentID), rec.IsDomain, extra)
	if err != nil {
		return err
	}

	if newID != id {
		if _, err := tx.ExecContext(ctx, `UPDATE assignment SET target_id = $2 WHERE target_id = $1`, id, newID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) ProjectDelete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignment WHERE target_id = $1`, id); err != nil {
		return err
	}
	if err := execExpectingRow(ctx, tx, `DELETE FROM project WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}
