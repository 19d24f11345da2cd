package database

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// MockStore allows for unit testing components that talk to the Store
// interface without a real PostgreSQL instance. It mirrors the queue
// semantics of the SQL implementation, including coalescing and the
// claim state machine.
type MockStore struct {
	mu sync.Mutex

	nextID    int64
	subclouds map[string]*Subcloud
	statuses  map[string]*EndpointStatus
	mappings  map[string]*ResourceMapping
	jobs      map[int64]*mockJob
	requests  map[int64]*mockRequest
}

type mockJob struct {
	id           int64
	endpointType records.EndpointType
	resourceType records.ResourceType
	masterID     string
	operation    records.Operation
	resourceInfo []byte
	updatedAt    time.Time
}

type mockRequest struct {
	id        int64
	jobID     int64
	region    string
	state     RequestState
	attempts  int
	failure   string
	updatedAt time.Time
}

// NewMockStore initializes a new MockStore to allow for simple tests
// without needing a real database. For production, use
// NewPostgresStore instead.
func NewMockStore() *MockStore {
	return &MockStore{
		subclouds: make(map[string]*Subcloud),
		statuses:  make(map[string]*EndpointStatus),
		mappings:  make(map[string]*ResourceMapping),
		jobs:      make(map[int64]*mockJob),
		requests:  make(map[int64]*mockRequest),
	}
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func statusKey(region string, endpointType records.EndpointType) string {
	return region + "/" + string(endpointType)
}

func mappingKey(resourceType records.ResourceType, masterID, region string) string {
	return string(resourceType) + "/" + masterID + "/" + region
}

func (m *MockStore) ConnectionTest(ctx context.Context) error { return nil }

func (m *MockStore) MigrateUp(ctx context.Context) error { return nil }

func (m *MockStore) CreateSubcloud(ctx context.Context, subcloud *Subcloud) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subclouds[subcloud.Region]; ok {
		return fmt.Errorf("subcloud %q: %w", subcloud.Region, ErrAlreadyExists)
	}
	subcloud.ID = m.id()
	subcloud.CreatedAt = time.Now()
	subcloud.UpdatedAt = subcloud.CreatedAt
	copied := *subcloud
	m.subclouds[subcloud.Region] = &copied
	return nil
}

func (m *MockStore) GetSubcloud(ctx context.Context, region string) (*Subcloud, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subcloud, ok := m.subclouds[region]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *subcloud
	return &copied, nil
}

func (m *MockStore) ListSubclouds(ctx context.Context) ([]*Subcloud, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subclouds := make([]*Subcloud, 0, len(m.subclouds))
	for _, subcloud := range m.subclouds {
		copied := *subcloud
		subclouds = append(subclouds, &copied)
	}
	sort.Slice(subclouds, func(i, j int) bool { return subclouds[i].Region < subclouds[j].Region })
	return subclouds, nil
}

func (m *MockStore) UpdateSubcloudState(ctx context.Context, region string, state SubcloudState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subcloud, ok := m.subclouds[region]
	if !ok {
		return ErrNotFound
	}
	subcloud.State = state
	subcloud.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) UpdateSubcloudAvailability(ctx context.Context, region string, management ManagementState, availability AvailabilityStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subcloud, ok := m.subclouds[region]
	if !ok {
		return ErrNotFound
	}
	subcloud.ManagementState = management
	subcloud.AvailabilityStatus = availability
	subcloud.UpdatedAt = time.Now()
	if management != ManagementManaged {
		for _, status := range m.statuses {
			if status.Region == region {
				status.SyncStatus = SyncStatusUnknown
				status.UpdatedAt = time.Now()
			}
		}
	}
	return nil
}

func (m *MockStore) UpdateSubcloudSoftwareVersion(ctx context.Context, region string, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subcloud, ok := m.subclouds[region]
	if !ok {
		return ErrNotFound
	}
	subcloud.SoftwareVersion = version
	subcloud.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) DeleteSubcloud(ctx context.Context, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subclouds[region]; !ok {
		return ErrNotFound
	}
	delete(m.subclouds, region)
	for key, status := range m.statuses {
		if status.Region == region {
			delete(m.statuses, key)
		}
	}
	return nil
}

func (m *MockStore) UpsertEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType, status SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subcloud, ok := m.subclouds[region]
	if !ok {
		return ErrNotFound
	}
	if subcloud.ManagementState != ManagementManaged && status != SyncStatusUnknown {
		return nil
	}
	key := statusKey(region, endpointType)
	existing, ok := m.statuses[key]
	if !ok {
		m.statuses[key] = &EndpointStatus{
			ID:           m.id(),
			SubcloudID:   subcloud.ID,
			Region:       region,
			EndpointType: endpointType,
			SyncStatus:   status,
			UpdatedAt:    time.Now(),
		}
		return nil
	}
	existing.SyncStatus = status
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) GetEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType) (*EndpointStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[statusKey(region, endpointType)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *status
	return &copied, nil
}

func (m *MockStore) ListEndpointStatuses(ctx context.Context, region string) ([]*EndpointStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var statuses []*EndpointStatus
	for _, status := range m.statuses {
		if status.Region == region {
			copied := *status
			statuses = append(statuses, &copied)
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].EndpointType < statuses[j].EndpointType })
	return statuses, nil
}

func (m *MockStore) EnsureMapping(ctx context.Context, resourceType records.ResourceType, masterID, region, subcloudResourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mappingKey(resourceType, masterID, region)
	existing, ok := m.mappings[key]
	if !ok {
		now := time.Now()
		m.mappings[key] = &ResourceMapping{
			ID:                 m.id(),
			ResourceType:       resourceType,
			MasterID:           masterID,
			Region:             region,
			SubcloudResourceID: subcloudResourceID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return nil
	}
	existing.SubcloudResourceID = subcloudResourceID
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) GetMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) (*ResourceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, ok := m.mappings[mappingKey(resourceType, masterID, region)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *mapping
	return &copied, nil
}

func (m *MockStore) ListMappings(ctx context.Context, region string, resourceType records.ResourceType) ([]*ResourceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mappings []*ResourceMapping
	for _, mapping := range m.mappings {
		if mapping.Region == region && mapping.ResourceType == resourceType {
			copied := *mapping
			mappings = append(mappings, &copied)
		}
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].MasterID < mappings[j].MasterID })
	return mappings, nil
}

func (m *MockStore) DeleteMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.mappings, mappingKey(resourceType, masterID, region))
	return nil
}

func (m *MockStore) PurgeSubcloudMappings(ctx context.Context, region string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for key, mapping := range m.mappings {
		if mapping.Region == region {
			delete(m.mappings, key)
			purged++
		}
	}
	return purged, nil
}

func (m *MockStore) EnqueueWork(ctx context.Context, regions []string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string, operation records.Operation, resourceInfo []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var missed []string
regions:
	for _, region := range regions {
		for _, request := range m.requests {
			if request.region != region || request.state != RequestQueued {
				continue
			}
			job := m.jobs[request.jobID]
			if job.endpointType == endpointType && job.resourceType == resourceType &&
				job.masterID == masterID && job.operation == operation {
				job.resourceInfo = resourceInfo
				job.updatedAt = time.Now()
				continue regions
			}
		}
		missed = append(missed, region)
	}

	if len(missed) > 0 {
		job := &mockJob{
			id:           m.id(),
			endpointType: endpointType,
			resourceType: resourceType,
			masterID:     masterID,
			operation:    operation,
			resourceInfo: resourceInfo,
			updatedAt:    time.Now(),
		}
		m.jobs[job.id] = job
		for _, region := range missed {
			request := &mockRequest{
				id:        m.id(),
				jobID:     job.id,
				region:    region,
				state:     RequestQueued,
				updatedAt: time.Now(),
			}
			m.requests[request.id] = request
		}
	}
	return nil
}

func (m *MockStore) NextQueuedWork(ctx context.Context, region string, endpointType records.EndpointType) (*Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *mockRequest
	for _, request := range m.requests {
		if request.region != region || request.state != RequestQueued {
			continue
		}
		if m.jobs[request.jobID].endpointType != endpointType {
			continue
		}
		if oldest == nil || request.id < oldest.id {
			oldest = request
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}

	oldest.state = RequestInProgress
	oldest.attempts++
	oldest.updatedAt = time.Now()

	job := m.jobs[oldest.jobID]
	return &Work{
		RequestID:    oldest.id,
		JobID:        job.id,
		Region:       oldest.region,
		EndpointType: job.endpointType,
		ResourceType: job.resourceType,
		MasterID:     job.masterID,
		Operation:    job.operation,
		ResourceInfo: job.resourceInfo,
		Attempts:     oldest.attempts,
	}, nil
}

func (m *MockStore) FinishWork(ctx context.Context, requestID int64, state RequestState, failure string) error {
	if !state.Terminal() {
		return fmt.Errorf("request %d: %q is not a terminal state", requestID, state)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok || request.state != RequestInProgress {
		return ErrNotFound
	}
	request.state = state
	request.failure = failure
	request.updatedAt = time.Now()
	return nil
}

func (m *MockStore) RequeueWork(ctx context.Context, requestID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok || request.state != RequestInProgress {
		return ErrNotFound
	}
	request.state = RequestQueued
	request.updatedAt = time.Now()
	return nil
}

func (m *MockStore) RequeueStaleWork(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var requeued int64
	for _, request := range m.requests {
		if request.state == RequestInProgress && request.updatedAt.Before(cutoff) {
			request.state = RequestQueued
			request.updatedAt = time.Now()
			requeued++
		}
	}
	return requeued, nil
}

func (m *MockStore) AbortQueuedWork(ctx context.Context, region string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var aborted int64
	for _, request := range m.requests {
		if request.region == region && request.state == RequestQueued {
			request.state = RequestAborted
			request.updatedAt = time.Now()
			aborted++
		}
	}
	return aborted, nil
}

func (m *MockStore) HasPendingWork(ctx context.Context, region string, endpointType records.EndpointType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, request := range m.requests {
		if request.region != region || request.state.Terminal() {
			continue
		}
		if m.jobs[request.jobID].endpointType == endpointType {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) ResourceHasPendingWork(ctx context.Context, region string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, request := range m.requests {
		if request.region != region || request.state.Terminal() {
			continue
		}
		job := m.jobs[request.jobID]
		if job.endpointType == endpointType && job.resourceType == resourceType && job.masterID == masterID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
jobs:
	for id, job := range m.jobs {
		if !job.updatedAt.Before(cutoff) {
			continue
		}
		for _, request := range m.requests {
			if request.jobID == id && !request.state.Terminal() {
				continue jobs
			}
		}
		for requestID, request := range m.requests {
			if request.jobID == id {
				delete(m.requests, requestID)
			}
		}
		delete(m.jobs, id)
		purged++
	}
	return purged, nil
}

// RequestStates reports the state of every request for a region, keyed
// by request ID. Used by tests to assert on queue outcomes.
func (m *MockStore) RequestStates(region string) map[int64]RequestState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[int64]RequestState)
	for _, request := range m.requests {
		if request.region == region {
			states[request.id] = request.state
		}
	}
	return states
}
