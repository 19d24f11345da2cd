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
	"time"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// SubcloudState tracks a subcloud through its lifecycle in the sync
// engine.
type SubcloudState string

const (
	SubcloudLoading  SubcloudState = "loading"
	SubcloudEnabled  SubcloudState = "enabled"
	SubcloudDisabled SubcloudState = "disabled"
	SubcloudDeleting SubcloudState = "deleting"
)

// ManagementState mirrors the administrative intent reported for a
// subcloud.
type ManagementState string

const (
	ManagementManaged   ManagementState = "managed"
	ManagementUnmanaged ManagementState = "unmanaged"
)

// AvailabilityStatus mirrors the reported reachability of a subcloud.
type AvailabilityStatus string

const (
	AvailabilityOnline  AvailabilityStatus = "online"
	AvailabilityOffline AvailabilityStatus = "offline"
)

// SyncStatus is the per-endpoint verdict the audit and the queue drain
// agree on.
type SyncStatus string

const (
	SyncStatusUnknown   SyncStatus = "unknown"
	SyncStatusInSync    SyncStatus = "in-sync"
	SyncStatusOutOfSync SyncStatus = "out-of-sync"
)

// RequestState is the delivery state of one queued request.
type RequestState string

const (
	RequestQueued     RequestState = "queued"
	RequestInProgress RequestState = "in-progress"
	RequestCompleted  RequestState = "completed"
	RequestFailed     RequestState = "failed"
	RequestAborted    RequestState = "aborted"
)

// Terminal reports whether a request in this state is finished and
// will never run again.
func (s RequestState) Terminal() bool {
	switch s {
	case RequestCompleted, RequestFailed, RequestAborted:
		return true
	}
	return false
}

// Subcloud is one registered subcloud row.
type Subcloud struct {
	ID                 int64              `db:"id"`
	Region             string             `db:"region"`
	State              SubcloudState      `db:"state"`
	ManagementState    ManagementState    `db:"management_state"`
	AvailabilityStatus AvailabilityStatus `db:"availability_status"`
	SoftwareVersion    string             `db:"software_version"`
	ManagementIP       string             `db:"management_ip"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

// EndpointStatus is the sync verdict for one (subcloud, endpoint type)
// pair.
type EndpointStatus struct {
	ID           int64                `db:"id"`
	SubcloudID   int64                `db:"subcloud_id"`
	Region       string               `db:"region"`
	EndpointType records.EndpointType `db:"endpoint_type"`
	SyncStatus   SyncStatus           `db:"sync_status"`
	UpdatedAt    time.Time            `db:"updated_at"`
}

// ResourceMapping links a master record to its copy on one subcloud.
// At most one mapping exists per (resource type, master ID, region).
type ResourceMapping struct {
	ID                 int64                `db:"id"`
	ResourceType       records.ResourceType `db:"resource_type"`
	MasterID           string               `db:"master_id"`
	Region             string               `db:"region"`
	SubcloudResourceID string               `db:"subcloud_resource_id"`
	CreatedAt          time.Time            `db:"created_at"`
	UpdatedAt          time.Time            `db:"updated_at"`
}

// Work is one claimed queue entry, the join of a request row with its
// job. ResourceInfo carries the serialized record captured when the
// work was enqueued.
type Work struct {
	RequestID    int64                `db:"request_id"`
	JobID        int64                `db:"job_id"`
	Region       string               `db:"region"`
	EndpointType records.EndpointType `db:"endpoint_type"`
	ResourceType records.ResourceType `db:"resource_type"`
	MasterID     string               `db:"master_id"`
	Operation    records.Operation    `db:"operation"`
	ResourceInfo []byte               `db:"resource_info"`
	Attempts     int                  `db:"attempts"`
}
