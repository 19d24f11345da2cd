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
	"time"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

func (s *postgresStore) EnqueueWork(ctx context.Context, regions []string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string, operation records.Operation, resourceInfo []byte) error {
	if len(regions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A region with a queued request for the same signature gets the
	// refreshed payload instead of a second request.
	const coalesce = `
		UPDATE orch_jobs AS j
		SET resource_info = $5, updated_at = now()
		FROM orch_requests AS r
		WHERE r.job_id = j.id
		  AND r.state = 'queued'
		  AND r.region = $6
		  AND j.endpoint_type = $1
		  AND j.resource_type = $2
		  AND j.master_id = $3
		  AND j.operation = $4
		RETURNING r.id`

	var missed []string
	for _, region := range regions {
		var requestID int64
		err := tx.GetContext(ctx, &requestID, coalesce, endpointType, resourceType, masterID, operation, resourceInfo, region)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			missed = append(missed, region)
		case err != nil:
			return err
		}
	}

	if len(missed) > 0 {
		const insertJob = `
			INSERT INTO orch_jobs (endpoint_type, resource_type, master_id, operation, resource_info)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`

		var jobID int64
		if err := tx.GetContext(ctx, &jobID, insertJob, endpointType, resourceType, masterID, operation, resourceInfo); err != nil {
			return err
		}

		const insertRequest = `INSERT INTO orch_requests (job_id, region) VALUES ($1, $2)`
		for _, region := range missed {
			if _, err := tx.ExecContext(ctx, insertRequest, jobID, region); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *postgresStore) NextQueuedWork(ctx context.Context, region string, endpointType records.EndpointType) (*Work, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const pick = `
		SELECT r.id FROM orch_requests AS r
		JOIN orch_jobs AS j ON j.id = r.job_id
		WHERE r.region = $1 AND r.state = 'queued' AND j.endpoint_type = $2
		ORDER BY r.id
		LIMIT 1
		FOR UPDATE OF r SKIP LOCKED`

	var requestID int64
	err = tx.GetContext(ctx, &requestID, pick, region, endpointType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	const claim = `
		UPDATE orch_requests
		SET state = 'in-progress', attempts = attempts + 1, updated_at = now()
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, claim, requestID); err != nil {
		return nil, err
	}

	const load = `
		SELECT r.id AS request_id, r.job_id, r.region, r.attempts,
		       j.endpoint_type, j.resource_type, j.master_id, j.operation, j.resource_info
		FROM orch_requests AS r
		JOIN orch_jobs AS j ON j.id = r.job_id
		WHERE r.id = $1`

	var work Work
	if err := tx.GetContext(ctx, &work, load, requestID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &work, nil
}

func (s *postgresStore) FinishWork(ctx context.Context, requestID int64, state RequestState, failure string) error {
	if !state.Terminal() {
		return fmt.Errorf("request %d: %q is not a terminal state", requestID, state)
	}

	const query = `
		UPDATE orch_requests
		SET state = $2, failure = NULLIF($3, ''), updated_at = now()
		WHERE id = $1 AND state = 'in-progress'`
	return s.execExpectingRow(ctx, query, requestID, state, failure)
}

func (s *postgresStore) RequeueWork(ctx context.Context, requestID int64) error {
	const query = `
		UPDATE orch_requests
		SET state = 'queued', updated_at = now()
		WHERE id = $1 AND state = 'in-progress'`
	return s.execExpectingRow(ctx, query, requestID)
}

func (s *postgresStore) RequeueStaleWork(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE orch_requests
		SET state = 'queued', updated_at = now()
		WHERE state = 'in-progress' AND updated_at < $1`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *postgresStore) AbortQueuedWork(ctx context.Context, region string) (int64, error) {
	const query = `
		UPDATE orch_requests
		SET state = 'aborted', updated_at = now()
		WHERE region = $1 AND state = 'queued'`

	result, err := s.db.ExecContext(ctx, query, region)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *postgresStore) HasPendingWork(ctx context.Context, region string, endpointType records.EndpointType) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM orch_requests AS r
			JOIN orch_jobs AS j ON j.id = r.job_id
			WHERE r.region = $1
			  AND j.endpoint_type = $2
			  AND r.state IN ('queued', 'in-progress')
		)`

	var pending bool
	if err := s.db.GetContext(ctx, &pending, query, region, endpointType); err != nil {
		return false, err
	}
	return pending, nil
}

func (s *postgresStore) ResourceHasPendingWork(ctx context.Context, region string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM orch_requests AS r
			JOIN orch_jobs AS j ON j.id = r.job_id
			WHERE r.region = $1
			  AND j.endpoint_type = $2
			  AND j.resource_type = $3
			  AND j.master_id = $4
			  AND r.state IN ('queued', 'in-progress')
		)`

	var pending bool
	if err := s.db.GetContext(ctx, &pending, query, region, endpointType, resourceType, masterID); err != nil {
		return false, err
	}
	return pending, nil
}

func (s *postgresStore) PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM orch_jobs AS j
		WHERE j.updated_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM orch_requests AS r
			WHERE r.job_id = j.id AND r.state IN ('queued', 'in-progress')
		  )`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
