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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Azure/DCS-IdentitySync/internal/records"
	"github.com/Azure/DCS-IdentitySync/internal/tracing"
)

// storeWithInstrumentation instruments a Store instance with traces.
type storeWithInstrumentation struct {
	store      Store
	tracerName string
}

// NewStoreWithInstrumentation returns a Store instrumented for tracing.
func NewStoreWithInstrumentation(store Store, tracerName string) (Store, error) {
	if tracerName == "" {
		return nil, fmt.Errorf("tracer name cannot be empty")
	}

	return &storeWithInstrumentation{
		store:      store,
		tracerName: tracerName,
	}, nil
}

func (s *storeWithInstrumentation) newSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return trace.SpanFromContext(ctx).
		TracerProvider().
		Tracer(s.tracerName).
		Start(ctx, fmt.Sprintf("Store.%s", name))
}

func setWorkAttributes(span trace.Span, work *Work) {
	if work == nil {
		return
	}

	tracing.SetWorkAttributes(span, work.Region,
		string(work.EndpointType), string(work.ResourceType),
		work.MasterID, string(work.Operation))
	span.SetAttributes(tracing.RequestIDKey.Int64(work.RequestID))
}

func (s *storeWithInstrumentation) ConnectionTest(ctx context.Context) error {
	return s.store.ConnectionTest(ctx)
}

func (s *storeWithInstrumentation) MigrateUp(ctx context.Context) error {
	return s.store.MigrateUp(ctx)
}

func (s *storeWithInstrumentation) CreateSubcloud(ctx context.Context, subcloud *Subcloud) error {
	ctx, span := s.newSpan(ctx, "CreateSubcloud")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(subcloud.Region))

	err := s.store.CreateSubcloud(ctx, subcloud)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) GetSubcloud(ctx context.Context, region string) (*Subcloud, error) {
	ctx, span := s.newSpan(ctx, "GetSubcloud")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	subcloud, err := s.store.GetSubcloud(ctx, region)
	if err != nil {
		span.RecordError(err)
	}

	return subcloud, err
}

func (s *storeWithInstrumentation) ListSubclouds(ctx context.Context) ([]*Subcloud, error) {
	ctx, span := s.newSpan(ctx, "ListSubclouds")
	defer span.End()

	subclouds, err := s.store.ListSubclouds(ctx)
	if err != nil {
		span.RecordError(err)
	}

	return subclouds, err
}

func (s *storeWithInstrumentation) UpdateSubcloudState(ctx context.Context, region string, state SubcloudState) error {
	ctx, span := s.newSpan(ctx, "UpdateSubcloudState")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	err := s.store.UpdateSubcloudState(ctx, region, state)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) UpdateSubcloudAvailability(ctx context.Context, region string, management ManagementState, availability AvailabilityStatus) error {
	ctx, span := s.newSpan(ctx, "UpdateSubcloudAvailability")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	err := s.store.UpdateSubcloudAvailability(ctx, region, management, availability)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) UpdateSubcloudSoftwareVersion(ctx context.Context, region string, version string) error {
	ctx, span := s.newSpan(ctx, "UpdateSubcloudSoftwareVersion")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	err := s.store.UpdateSubcloudSoftwareVersion(ctx, region, version)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) DeleteSubcloud(ctx context.Context, region string) error {
	ctx, span := s.newSpan(ctx, "DeleteSubcloud")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	err := s.store.DeleteSubcloud(ctx, region)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) UpsertEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType, status SyncStatus) error {
	ctx, span := s.newSpan(ctx, "UpsertEndpointStatus")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.EndpointTypeKey.String(string(endpointType)),
		tracing.SyncStatusKey.String(string(status)),
	)

	err := s.store.UpsertEndpointStatus(ctx, region, endpointType, status)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) GetEndpointStatus(ctx context.Context, region string, endpointType records.EndpointType) (*EndpointStatus, error) {
	ctx, span := s.newSpan(ctx, "GetEndpointStatus")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.EndpointTypeKey.String(string(endpointType)),
	)

	status, err := s.store.GetEndpointStatus(ctx, region, endpointType)
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(tracing.SyncStatusKey.String(string(status.SyncStatus)))
	}

	return status, err
}

func (s *storeWithInstrumentation) ListEndpointStatuses(ctx context.Context, region string) ([]*EndpointStatus, error) {
	ctx, span := s.newSpan(ctx, "ListEndpointStatuses")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	statuses, err := s.store.ListEndpointStatuses(ctx, region)
	if err != nil {
		span.RecordError(err)
	}

	return statuses, err
}

func (s *storeWithInstrumentation) EnsureMapping(ctx context.Context, resourceType records.ResourceType, masterID, region, subcloudResourceID string) error {
	ctx, span := s.newSpan(ctx, "EnsureMapping")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.ResourceTypeKey.String(string(resourceType)),
		tracing.MasterIDKey.String(masterID),
		tracing.SubcloudIDKey.String(subcloudResourceID),
	)

	err := s.store.EnsureMapping(ctx, resourceType, masterID, region, subcloudResourceID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) GetMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) (*ResourceMapping, error) {
	ctx, span := s.newSpan(ctx, "GetMapping")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.ResourceTypeKey.String(string(resourceType)),
		tracing.MasterIDKey.String(masterID),
	)

	mapping, err := s.store.GetMapping(ctx, resourceType, masterID, region)
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(tracing.SubcloudIDKey.String(mapping.SubcloudResourceID))
	}

	return mapping, err
}

func (s *storeWithInstrumentation) ListMappings(ctx context.Context, region string, resourceType records.ResourceType) ([]*ResourceMapping, error) {
	ctx, span := s.newSpan(ctx, "ListMappings")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.ResourceTypeKey.String(string(resourceType)),
	)

	mappings, err := s.store.ListMappings(ctx, region, resourceType)
	if err != nil {
		span.RecordError(err)
	}

	return mappings, err
}

func (s *storeWithInstrumentation) DeleteMapping(ctx context.Context, resourceType records.ResourceType, masterID, region string) error {
	ctx, span := s.newSpan(ctx, "DeleteMapping")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.ResourceTypeKey.String(string(resourceType)),
		tracing.MasterIDKey.String(masterID),
	)

	err := s.store.DeleteMapping(ctx, resourceType, masterID, region)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) PurgeSubcloudMappings(ctx context.Context, region string) (int64, error) {
	ctx, span := s.newSpan(ctx, "PurgeSubcloudMappings")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	purged, err := s.store.PurgeSubcloudMappings(ctx, region)
	if err != nil {
		span.RecordError(err)
	}

	return purged, err
}

func (s *storeWithInstrumentation) EnqueueWork(ctx context.Context, regions []string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string, operation records.Operation, resourceInfo []byte) error {
	ctx, span := s.newSpan(ctx, "EnqueueWork")
	defer span.End()
	span.SetAttributes(
		tracing.EndpointTypeKey.String(string(endpointType)),
		tracing.ResourceTypeKey.String(string(resourceType)),
		tracing.MasterIDKey.String(masterID),
		tracing.OperationKey.String(string(operation)),
	)

	err := s.store.EnqueueWork(ctx, regions, endpointType, resourceType, masterID, operation, resourceInfo)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) NextQueuedWork(ctx context.Context, region string, endpointType records.EndpointType) (*Work, error) {
	ctx, span := s.newSpan(ctx, "NextQueuedWork")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.EndpointTypeKey.String(string(endpointType)),
	)

	work, err := s.store.NextQueuedWork(ctx, region, endpointType)
	if err != nil {
		span.RecordError(err)
	} else {
		setWorkAttributes(span, work)
	}

	return work, err
}

func (s *storeWithInstrumentation) FinishWork(ctx context.Context, requestID int64, state RequestState, failure string) error {
	ctx, span := s.newSpan(ctx, "FinishWork")
	defer span.End()
	span.SetAttributes(
		tracing.RequestIDKey.Int64(requestID),
		tracing.RequestStateKey.String(string(state)),
	)

	err := s.store.FinishWork(ctx, requestID, state, failure)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) RequeueWork(ctx context.Context, requestID int64) error {
	ctx, span := s.newSpan(ctx, "RequeueWork")
	defer span.End()
	span.SetAttributes(tracing.RequestIDKey.Int64(requestID))

	err := s.store.RequeueWork(ctx, requestID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (s *storeWithInstrumentation) RequeueStaleWork(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := s.newSpan(ctx, "RequeueStaleWork")
	defer span.End()

	requeued, err := s.store.RequeueStaleWork(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
	}

	return requeued, err
}

func (s *storeWithInstrumentation) AbortQueuedWork(ctx context.Context, region string) (int64, error) {
	ctx, span := s.newSpan(ctx, "AbortQueuedWork")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(region))

	aborted, err := s.store.AbortQueuedWork(ctx, region)
	if err != nil {
		span.RecordError(err)
	}

	return aborted, err
}

func (s *storeWithInstrumentation) HasPendingWork(ctx context.Context, region string, endpointType records.EndpointType) (bool, error) {
	ctx, span := s.newSpan(ctx, "HasPendingWork")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.EndpointTypeKey.String(string(endpointType)),
	)

	pending, err := s.store.HasPendingWork(ctx, region, endpointType)
	if err != nil {
		span.RecordError(err)
	}

	return pending, err
}

func (s *storeWithInstrumentation) ResourceHasPendingWork(ctx context.Context, region string, endpointType records.EndpointType, resourceType records.ResourceType, masterID string) (bool, error) {
	ctx, span := s.newSpan(ctx, "ResourceHasPendingWork")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(region),
		tracing.EndpointTypeKey.String(string(endpointType)),
		tracing.ResourceTypeKey.String(string(resourceType)),
		tracing.MasterIDKey.String(masterID),
	)

	pending, err := s.store.ResourceHasPendingWork(ctx, region, endpointType, resourceType, masterID)
	if err != nil {
		span.RecordError(err)
	}

	return pending, err
}

func (s *storeWithInstrumentation) PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := s.newSpan(ctx, "PurgeTerminalJobs")
	defer span.End()

	purged, err := s.store.PurgeTerminalJobs(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
	}

	return purged, err
}
