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

type assignmentRow struct {
	Type      string `db:"type"`
	ActorID   string `db:"actor_id"`
	TargetID  string `db:"target_id"`
	RoleID    string `db:"role_id"`
	Inherited bool   `db:"inherited"`
}

const selectAssignments = `SELECT type, actor_id, target_id, role_id, inherited FROM assignment`

func (r assignmentRow) toRecord() records.Assignment {
	return records.Assignment{
		Type:      records.AssignmentType(r.Type),
		ActorID:   r.ActorID,
		TargetID:  r.TargetID,
		RoleID:    r.RoleID,
		Inherited: r.Inherited,
	}
}

func (s *postgresStore) AssignmentGetAll(ctx context.Context) ([]records.Assignment, error) {
	var rows []assignmentRow
	if err := s.db.SelectContext(ctx, &rows, selectAssignments+` ORDER BY target_id, actor_id, role_id`); err != nil {
		return nil, err
	}
	assignments := make([]records.Assignment, 0, len(rows))
	for _, r := range rows {
		assignments = append(assignments, r.toRecord())
	}
	return assignments, nil
}

func (s *postgresStore) AssignmentGet(ctx context.Context, targetID, actorID, roleID string) (*records.Assignment, error) {
	var row assignmentRow
	err := s.db.GetContext(ctx, &row,
		selectAssignments+` WHERE target_id = $1 AND actor_id = $2 AND role_id = $3`,
		targetID, actorID, roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	assignment := row.toRecord()
	return &assignment, nil
}

func (s *postgresStore) AssignmentCreate(ctx context.Context, rec records.Assignment) error {
	const query = `
		INSERT INTO assignment (type, actor_id, target_id, role_id, inherited)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query,
		string(rec.Type), rec.ActorID, rec.TargetID, rec.RoleID, rec.Inherited)
	if isUniqueViolation(err) {
		return fmt.Errorf("assignment %s: %w", rec.ID(), ErrAlreadyExists)
	}
	return err
}
