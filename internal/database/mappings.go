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

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

func (s *postgresStore) EnsureMapping(ctx context.Context, resourceType records.ResourceType, masterID, region, subcloudResourceID string) error {
	const query = `
		INSERT INTO resource_mappings (resource_type, master_id, region, subcloud_resource_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_type, master_id, region)
		DO UPDATE SET subcloud_resource_id = EXCLUDED.subcloud_resource_id, updated_at = now()`

	_, err := s.db.ExecContext(ctx, query, resourceType, masterID, region, subcloudResourceID)
	return err
}

func (s *postgresStore) GetMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) (*ResourceMapping, error) {
	const query = `
		SELECT * FROM resource_mappings
		WHERE resource_type = $1 AND master_id = $2 AND region = $3`

	var mapping ResourceMapping
	err := s.db.GetContext(ctx, &mapping, query, resourceType, masterID, region)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *postgresStore) ListMappings(ctx context.Context, region string, resourceType records.ResourceType) ([]*ResourceMapping, error) {
	const query = `
		SELECT * FROM resource_mappings
		WHERE region = $1 AND resource_type = $2
		ORDER BY master_id`

	var mappings []*ResourceMapping
	if err := s.db.SelectContext(ctx, &mappings, query, region, resourceType); err != nil {
		return nil, err
	}
	return mappings, nil
}

func (s *postgresStore) DeleteMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) error {
	const query = `
		DELETE FROM resource_mappings
		WHERE resource_type = $1 AND master_id = $2 AND region = $3`

	_, err := s.db.ExecContext(ctx, query, resourceType, masterID, region)
	return err
}

func (s *postgresStore) PurgeSubcloudMappings(ctx context.Context, region string) (int64, error) {
	const query = `DELETE FROM resource_mappings WHERE region = $1`

	result, err := s.db.ExecContext(ctx, query, region)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
