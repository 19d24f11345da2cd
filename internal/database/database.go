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

// Store provides a customized interface to the orchestration database
// used by the sync engine: subcloud registry, per-endpoint sync
// status, master-to-subcloud resource mappings and the durable work
// queue.
type Store interface {
	// ConnectionTest verifies the database is reachable. Intended for use in health checks.
	ConnectionTest(ctx context.Context) error

	// MigrateUp applies any pending schema migrations.
	MigrateUp(ctx context.Context) error

	// CreateSubcloud inserts a new subcloud row and fills in its ID and
	// timestamps. Returns ErrAlreadyExists when the region is taken.
	CreateSubcloud(ctx context.Context, subcloud *Subcloud) error

	// GetSubcloud queries for the subcloud registered under a region.
	GetSubcloud(ctx context.Context, region string) (*Subcloud, error)

	// ListSubclouds returns every registered subcloud ordered by region.
	ListSubclouds(ctx context.Context) ([]*Subcloud, error)

	// UpdateSubcloudState moves a subcloud to a new lifecycle state.
	UpdateSubcloudState(ctx context.Context, region string, state SubcloudState) error

	// UpdateSubcloudAvailability records the management and availability
	// status reported for a subcloud.
	UpdateSubcloudAvailability(ctx context.Context, region string, management ManagementState, availability AvailabilityStatus) error

	// UpdateSubcloudSoftwareVersion records the software version reported
	// for a subcloud.
	UpdateSubcloudSoftwareVersion(ctx context.Context, region string, version string) error

	// DeleteSubcloud removes a subcloud row and its endpoint statuses.
	DeleteSubcloud(ctx context.Context, region string) error

	// UpsertEndpointStatus writes the sync status for one
	// (subcloud, endpoint type) pair, creating the row on first use.
	UpsertEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType, status SyncStatus) error

	// GetEndpointStatus queries the sync status of one endpoint.
	GetEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType) (*EndpointStatus, error)

	// ListEndpointStatuses returns the endpoint statuses of one subcloud.
	ListEndpointStatuses(ctx context.Context, region string) ([]*EndpointStatus, error)

	// EnsureMapping records that a master resource exists on a subcloud
	// under the given local ID, replacing any previous mapping for the
	// same (resource type, master ID, region).
	EnsureMapping(ctx context.Context, resourceType records.ResourceType, masterID, region, subcloudResourceID string) error

	// GetMapping queries the mapping of one master resource on one subcloud.
	GetMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) (*ResourceMapping, error)

	// ListMappings returns the mappings of one resource type on one subcloud.
	ListMappings(ctx context.Context, region string, resourceType records.ResourceType) ([]*ResourceMapping, error)

	// DeleteMapping removes one mapping. Deleting an absent mapping is a no-op.
	DeleteMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) error

	// PurgeSubcloudMappings removes every mapping held for a region and
	// reports how many rows went away.
	PurgeSubcloudMappings(ctx context.Context, region string) (int64, error)

	// EnqueueWork queues one operation for delivery to each listed
	// region. A region that already holds a queued request for the same
	// (endpoint type, resource type, master ID, operation) signature is
	// coalesced: its job's resource info is refreshed instead of adding
	// a second request.
	EnqueueWork(ctx context.Context, regions []string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string, operation records.Operation, resourceInfo []byte) error

	// NextQueuedWork atomically claims the oldest queued request for a
	// region and endpoint type, moving it to in-progress. Returns
	// ErrNotFound when the queue is empty.
	NextQueuedWork(ctx context.Context, region string, endpointType records.EndpointType) (*Work, error)

	// FinishWork moves an in-progress request to a terminal state,
	// recording the failure text when there is one.
	FinishWork(ctx context.Context, requestID int64, state RequestState, failure string) error

	// RequeueWork returns an in-progress request to the queue so the
	// sync thread can retry it after backing off.
	RequeueWork(ctx context.Context, requestID int64) error

	// RequeueStaleWork returns to the queue any request left in-progress
	// since before the cutoff, recovering work orphaned by a crash.
	RequeueStaleWork(ctx context.Context, cutoff time.Time) (int64, error)

	// AbortQueuedWork aborts every queued request for a region.
	AbortQueuedWork(ctx context.Context, region string) (int64, error)

	// HasPendingWork reports whether any request for the region and
	// endpoint type is still queued or in-progress.
	HasPendingWork(ctx context.Context, region string, endpointType records.EndpointType) (bool, error)

	// ResourceHasPendingWork reports whether a specific master resource
	// still has undelivered work for a region.
	ResourceHasPendingWork(ctx context.Context, region string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string) (bool, error)

	// PurgeTerminalJobs deletes jobs untouched since the cutoff whose
	// requests have all reached a terminal state.
	PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// postgresStore implements Store on PostgreSQL through the pgx driver.
type postgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to the orchestration database and verifies
// the connection.
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
