package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

func TestMockQueueCoalescesQueuedDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	err := store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationUpdate, []byte(`{"rev":1}`))
	assert.NoError(t, err)
	err = store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationUpdate, []byte(`{"rev":2}`))
	assert.NoError(t, err)

	work, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	if assert.NoError(t, err) {
		// Coalesced into one request carrying the refreshed payload.
		assert.Equal(t, []byte(`{"rev":2}`), work.ResourceInfo)
		assert.Equal(t, 1, work.Attempts)
	}

	_, err = store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockQueueDoesNotCoalesceAcrossSignatures(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationUpdate, nil))
	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationDelete, nil))
	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-2", records.OperationUpdate, nil))

	var seen int
	for {
		_, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
		if err != nil {
			assert.ErrorIs(t, err, ErrNotFound)
			break
		}
		seen++
	}
	assert.Equal(t, 3, seen)
}

func TestMockQueueFanOut(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	regions := []string{"subcloud1", "subcloud2", "subcloud3"}
	err := store.EnqueueWork(ctx, regions, records.EndpointPlatform, records.ResourceFernetRepo, "", records.OperationUpdate, []byte(`{"keys":[]}`))
	assert.NoError(t, err)

	for _, region := range regions {
		work, err := store.NextQueuedWork(ctx, region, records.EndpointPlatform)
		if assert.NoError(t, err, "region %s", region) {
			assert.Equal(t, region, work.Region)
			assert.Equal(t, records.ResourceFernetRepo, work.ResourceType)
		}
	}
}

func TestMockQueueClaimIsScopedByEndpointType(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationCreate, nil))

	_, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointPlatform)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)
}

func TestMockFinishWork(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationCreate, nil))
	work, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)

	assert.Error(t, store.FinishWork(ctx, work.RequestID, RequestInProgress, ""))
	assert.NoError(t, store.FinishWork(ctx, work.RequestID, RequestCompleted, ""))
	// Already terminal.
	assert.ErrorIs(t, store.FinishWork(ctx, work.RequestID, RequestFailed, "boom"), ErrNotFound)

	pending, err := store.HasPendingWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)
	assert.False(t, pending)
}

func TestMockRequeueWork(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationCreate, nil))
	first, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)

	assert.NoError(t, store.RequeueWork(ctx, first.RequestID))
	// Requeueing twice is an error; the request is no longer claimed.
	assert.ErrorIs(t, store.RequeueWork(ctx, first.RequestID), ErrNotFound)

	second, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	if assert.NoError(t, err) {
		assert.Equal(t, first.RequestID, second.RequestID)
		assert.Equal(t, 2, second.Attempts)
	}
}

func TestMockEndpointStatusGating(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	subcloud := &Subcloud{Region: "subcloud1", State: SubcloudEnabled, ManagementState: ManagementManaged, AvailabilityStatus: AvailabilityOnline}
	assert.NoError(t, store.CreateSubcloud(ctx, subcloud))
	assert.NoError(t, store.UpsertEndpointStatus(ctx, "subcloud1", records.EndpointIdentity, SyncStatusInSync))

	// Unmanaging forces every verdict back to unknown.
	assert.NoError(t, store.UpdateSubcloudAvailability(ctx, "subcloud1", ManagementUnmanaged, AvailabilityOnline))
	status, err := store.GetEndpointStatus(ctx, "subcloud1", records.EndpointIdentity)
	if assert.NoError(t, err) {
		assert.Equal(t, SyncStatusUnknown, status.SyncStatus)
	}

	// Verdicts for an unmanaged subcloud are dropped without error.
	assert.NoError(t, store.UpsertEndpointStatus(ctx, "subcloud1", records.EndpointIdentity, SyncStatusOutOfSync))
	status, err = store.GetEndpointStatus(ctx, "subcloud1", records.EndpointIdentity)
	if assert.NoError(t, err) {
		assert.Equal(t, SyncStatusUnknown, status.SyncStatus)
	}
}

func TestMockRequeueStaleWork(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationCreate, nil))
	first, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)
	assert.Equal(t, 1, first.Attempts)

	requeued, err := store.RequeueStaleWork(ctx, time.Now().Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	second, err := store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	if assert.NoError(t, err) {
		assert.Equal(t, first.RequestID, second.RequestID)
		assert.Equal(t, 2, second.Attempts)
	}
}

func TestMockAbortAndPurge(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceProjects, "p-1", records.OperationCreate, nil))
	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceProjects, "p-2", records.OperationCreate, nil))

	aborted, err := store.AbortQueuedWork(ctx, "subcloud1")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), aborted)

	pending, err := store.HasPendingWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)
	assert.False(t, pending)

	purged, err := store.PurgeTerminalJobs(ctx, time.Now().Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, int64(2), purged)
}

func TestMockResourceHasPendingWork(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	assert.NoError(t, store.EnqueueWork(ctx, []string{"subcloud1"}, records.EndpointIdentity, records.ResourceRoles, "r-1", records.OperationUpdate, nil))

	pending, err := store.ResourceHasPendingWork(ctx, "subcloud1", records.EndpointIdentity, records.ResourceRoles, "r-1")
	assert.NoError(t, err)
	assert.True(t, pending)

	pending, err = store.ResourceHasPendingWork(ctx, "subcloud1", records.EndpointIdentity, records.ResourceRoles, "r-2")
	assert.NoError(t, err)
	assert.False(t, pending)

	// Still pending while claimed.
	_, err = store.NextQueuedWork(ctx, "subcloud1", records.EndpointIdentity)
	assert.NoError(t, err)
	pending, err = store.ResourceHasPendingWork(ctx, "subcloud1", records.EndpointIdentity, records.ResourceRoles, "r-1")
	assert.NoError(t, err)
	assert.True(t, pending)
}
