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

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

type revocationRow struct {
	ID            int64          `db:"id"`
	DomainID      sql.NullString `db:"domain_id"`
	ProjectID     sql.NullString `db:"project_id"`
	UserID        sql.NullString `db:"user_id"`
	RoleID        sql.NullString `db:"role_id"`
	TrustID       sql.NullString `db:"trust_id"`
	ConsumerID    sql.NullString `db:"consumer_id"`
	AccessTokenID sql.NullString `db:"access_token_id"`
	IssuedBefore  string         `db:"issued_before"`
	ExpiresAt     sql.NullString `db:"expires_at"`
	RevokedAt     sql.NullString `db:"revoked_at"`
	AuditID       sql.NullString `db:"audit_id"`
	AuditChainID  sql.NullString `db:"audit_chain_id"`
}

const selectRevocations = `
	SELECT id, domain_id, project_id, user_id, role_id, trust_id, consumer_id, access_token_id,
	       issued_before::text AS issued_before, expires_at::text AS expires_at,
	       revoked_at::text AS revoked_at, audit_id, audit_chain_id
	FROM revocation_event`

func (r revocationRow) toRecord() records.RevocationEvent {
	return records.RevocationEvent{
		ID:            r.ID,
		DomainID:      r.DomainID.String,
		ProjectID:     r.ProjectID.String,
		UserID:        r.UserID.String,
		RoleID:        r.RoleID.String,
		TrustID:       r.TrustID.String,
		ConsumerID:    r.ConsumerID.String,
		AccessTokenID: r.AccessTokenID.String,
		IssuedBefore:  r.IssuedBefore,
		ExpiresAt:     r.ExpiresAt.String,
		RevokedAt:     r.RevokedAt.String,
		AuditID:       r.AuditID.String,
		AuditChainID:  r.AuditChainID.String,
	}
}

func (s *postgresStore) RevokeEventGetAll(ctx context.Context) ([]records.RevocationEvent, error) {
	var rows []revocationRow
	if err := s.db.SelectContext(ctx, &rows, selectRevocations+` ORDER BY id`); err != nil {
		return nil, err
	}
	events := make([]records.RevocationEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toRecord())
	}
	return events, nil
}

func (s *postgresStore) revokeEventGet(ctx context.Context, where string, args ...any) (*records.RevocationEvent, error) {
	var row revocationRow
	err := s.db.GetContext(ctx, &row, selectRevocations+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	event := row.toRecord()
	return &event, nil
}

func (s *postgresStore) RevokeEventGetByAudit(ctx context.Context, auditID string) (*records.RevocationEvent, error) {
	return s.revokeEventGet(ctx, ` WHERE audit_id = $1`, auditID)
}

func (s *postgresStore) RevokeEventGetByUser(ctx context.Context, userID, issuedBefore string) (*records.RevocationEvent, error) {
	return s.revokeEventGet(ctx, ` WHERE user_id = $1 AND issued_before = $2::timestamp`, userID, issuedBefore)
}

func (s *postgresStore) RevokeEventCreate(ctx context.Context, rec records.RevocationEvent) error {
	// The incoming ID is the source cloud's autoincrement; a fresh row
	// gets a fresh one.
	const query = `
		INSERT INTO revocation_event
			(domain_id, project_id, user_id, role_id, trust_id, consumer_id, access_token_id,
			 issued_before, expires_at, revoked_at, audit_id, audit_chain_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::timestamp, $9::timestamp, COALESCE($10::timestamp, now()), $11, $12)`
	_, err := s.db.ExecContext(ctx, query,
		nullString(rec.DomainID), nullString(rec.ProjectID), nullString(rec.UserID),
		nullString(rec.RoleID), nullString(rec.TrustID), nullString(rec.ConsumerID),
		nullString(rec.AccessTokenID), rec.IssuedBefore, nullString(rec.ExpiresAt),
		nullString(rec.RevokedAt), nullString(rec.AuditID), nullString(rec.AuditChainID))
	return err
}

func (s *postgresStore) RevokeEventDeleteByAudit(ctx context.Context, auditID string) error {
	return execExpectingRow(ctx, s.db, `DELETE FROM revocation_event WHERE audit_id = $1`, auditID)
}

func (s *postgresStore) RevokeEventDeleteByUser(ctx context.Context, userID, issuedBefore string) error {
	return execExpectingRow(ctx, s.db,
		`DELETE FROM revocation_event WHERE user_id = $1 AND issued_before = $2::timestamp`,
		userID, issuedBefore)
}
