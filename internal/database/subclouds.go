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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *postgresStore) CreateSubcloud(ctx context.Context, subcloud *Subcloud) error {
	const query = `
		INSERT INTO subclouds (region, state, management_state, availability_status, software_version, management_ip)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		subcloud.Region, subcloud.State, subcloud.ManagementState,
		subcloud.AvailabilityStatus, subcloud.SoftwareVersion, subcloud.ManagementIP)
	err := row.Scan(&subcloud.ID, &subcloud.CreatedAt, &subcloud.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("subcloud %q: %w", subcloud.Region, ErrAlreadyExists)
	}
	return err
}

func (s *postgresStore) GetSubcloud(ctx context.Context, region string) (*Subcloud, error) {
	const query = `SELECT * FROM subclouds WHERE region = $1`

	var subcloud Subcloud
	err := s.db.GetContext(ctx, &subcloud, query, region)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &subcloud, nil
}

func (s *postgresStore) ListSubclouds(ctx context.Context) ([]*Subcloud, error) {
	const query = `SELECT * FROM subclouds ORDER BY region`

	var subclouds []*Subcloud
	if err := s.db.SelectContext(ctx, &subclouds, query); err != nil {
		return nil, err
	}
	return subclouds, nil
}

func (s *postgresStore) UpdateSubcloudState(ctx context.Context, region string, state SubcloudState) error {
	const query = `UPDATE subclouds SET state = $2, updated_at = now() WHERE region = $1`
	return s.execExpectingRow(ctx, query, region, state)
}

func (s *postgresStore) UpdateSubcloudAvailability(ctx context.Context, region string, management ManagementState, availability AvailabilityStatus) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const update = `
		UPDATE subclouds
		SET management_state = $2, availability_status = $3, updated_at = now()
		WHERE region = $1
		RETURNING id`

	var subcloudID int64
	err = tx.GetContext(ctx, &subcloudID, update, region, management, availability)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	// Leaving managed invalidates every sync verdict for the subcloud.
	if management != ManagementManaged {
		const reset = `
			UPDATE endpoint_status
			SET sync_status = 'unknown', updated_at = now()
			WHERE subcloud_id = $1`
		if _, err := tx.ExecContext(ctx, reset, subcloudID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *postgresStore) UpdateSubcloudSoftwareVersion(ctx context.Context, region string, version string) error {
	const query = `UPDATE subclouds SET software_version = $2, updated_at = now() WHERE region = $1`
	return s.execExpectingRow(ctx, query, region, version)
}

func (s *postgresStore) DeleteSubcloud(ctx context.Context, region string) error {
	const query = `DELETE FROM subclouds WHERE region = $1`
	return s.execExpectingRow(ctx, query, region)
}

func (s *postgresStore) UpsertEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType, status SyncStatus) error {
	subcloud, err := s.GetSubcloud(ctx, region)
	if err != nil {
		return err
	}

	// Verdicts for an unmanaged subcloud are dropped; only a reset to
	// unknown goes through.
	if subcloud.ManagementState != ManagementManaged && status != SyncStatusUnknown {
		return nil
	}

	const query = `
		INSERT INTO endpoint_status (subcloud_id, endpoint_type, sync_status)
		VALUES ($1, $2, $3)
		ON CONFLICT (subcloud_id, endpoint_type)
		DO UPDATE SET sync_status = EXCLUDED.sync_status, updated_at = now()`
	_, err = s.db.ExecContext(ctx, query, subcloud.ID, endpointType, status)
	return err
}

func (s *postgresStore) GetEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType) (*EndpointStatus, error) {
	const query = `
		SELECT e.id, e.subcloud_id, s.region AS region, e.endpoint_type, e.sync_status, e.updated_at
		FROM endpoint_status AS e
		JOIN subclouds AS s ON s.id = e.subcloud_id
		WHERE s.region = $1 AND e.endpoint_type = $2`

	var status EndpointStatus
	err := s.db.GetContext(ctx, &status, query, region, endpointType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *postgresStore) ListEndpointStatuses(ctx context.Context, region string) ([]*EndpointStatus, error) {
	const query = `
		SELECT e.id, e.subcloud_id, s.region AS region, e.endpoint_type, e.sync_status, e.updated_at
		FROM endpoint_status AS e
		JOIN subclouds AS s ON s.id = e.subcloud_id
		WHERE s.region = $1
		ORDER BY e.endpoint_type`

	var statuses []*EndpointStatus
	if err := s.db.SelectContext(ctx, &statuses, query, region); err != nil {
		return nil, err
	}
	return statuses, nil
}

// execExpectingRow runs a statement that must touch at least one row,
// translating the zero-row case to ErrNotFound.
func (s *postgresStore) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
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
