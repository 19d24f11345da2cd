package engine

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/fault"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

type recordingDistributor struct {
	regions []string
}

func (d *recordingDistributor) DistributeKeys(ctx context.Context, region string) error {
	d.regions = append(d.regions, region)
	return nil
}

type managerFixture struct {
	store     *database.MockStore
	factory   *MockClientFactory
	manager   *GenericSyncManager
	keys      *recordingDistributor
	hostsPath string
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	store := database.NewMockStore()
	factory := NewMockClientFactory()
	factory.Master = dbsync.NewMockClient()
	factory.DBSyncClients[testRegion] = dbsync.NewMockClient()

	hostsPath := filepath.Join(t.TempDir(), "dnsmasq.hosts")
	manager := NewGenericSyncManager(testLogger(), store, fault.NewMockManager(), factory, hostsPath, nil)
	keys := &recordingDistributor{}
	manager.SetKeyDistributor(keys)

	t.Cleanup(manager.Shutdown)
	return &managerFixture{
		store:     store,
		factory:   factory,
		manager:   manager,
		keys:      keys,
		hostsPath: hostsPath,
	}
}

func (f *managerFixture) hostsContent(t *testing.T) string {
	t.Helper()
	content, err := os.ReadFile(f.hostsPath)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(content)
}

func TestAddSubcloudRegistersAndWritesHostsFile(t *testing.T) {
	f := newManagerFixture(t)

	require.NoError(t, f.manager.AddSubcloud(context.Background(), testRegion, "25.09", "192.168.101.2"))

	subcloud, err := f.store.GetSubcloud(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, database.SubcloudLoading, subcloud.State)
	assert.Equal(t, database.ManagementUnmanaged, subcloud.ManagementState)
	assert.Equal(t, "192.168.101.2 subcloud1\n", f.hostsContent(t))

	// A second add of the same region is rejected by the registry.
	err = f.manager.AddSubcloud(context.Background(), testRegion, "25.09", "192.168.101.2")
	assert.ErrorIs(t, err, database.ErrAlreadyExists)
}

func TestDeleteSubcloudValidation(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.AddSubcloud(context.Background(), testRegion, "25.09", "192.168.101.2"))

	require.NoError(t, f.store.UpdateSubcloudAvailability(context.Background(), testRegion,
		database.ManagementManaged, database.AvailabilityOffline))
	assert.ErrorContains(t, f.manager.DeleteSubcloud(context.Background(), testRegion), "managed")

	require.NoError(t, f.store.UpdateSubcloudAvailability(context.Background(), testRegion,
		database.ManagementUnmanaged, database.AvailabilityOnline))
	assert.ErrorContains(t, f.manager.DeleteSubcloud(context.Background(), testRegion), "online")
}

func TestDeleteSubcloudCascades(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.AddSubcloud(context.Background(), testRegion, "25.09", "192.168.101.2"))
	require.NoError(t, f.store.EnsureMapping(context.Background(),
		records.ResourceUsers, "u-1", testRegion, "u-1"))
	require.NoError(t, f.store.EnqueueWork(context.Background(), []string{testRegion},
		records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationCreate, nil))

	require.NoError(t, f.manager.DeleteSubcloud(context.Background(), testRegion))

	_, err := f.store.GetSubcloud(context.Background(), testRegion)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.store.GetMapping(context.Background(), records.ResourceUsers, "u-1", testRegion)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.store.NextQueuedWork(context.Background(), testRegion, records.EndpointIdentity)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Contains(t, f.factory.Invalidations, testRegion)
	assert.Equal(t, "", f.hostsContent(t))

	assert.ErrorIs(t, f.manager.DeleteSubcloud(context.Background(), testRegion), ErrSubcloudNotFound)
}

func TestUnknownRegionOperations(t *testing.T) {
	f := newManagerFixture(t)

	assert.ErrorIs(t, f.manager.EnableSubcloud(context.Background(), "nope"), ErrSubcloudNotFound)
	assert.ErrorIs(t, f.manager.DisableSubcloud(context.Background(), "nope"), ErrSubcloudNotFound)
	assert.ErrorIs(t, f.manager.UpdateSubcloudVersion(context.Background(), "nope", "25.09"), ErrSubcloudNotFound)
	assert.ErrorIs(t, f.manager.UpdateSubcloudState(context.Background(), "nope",
		database.ManagementManaged, database.AvailabilityOnline), ErrSubcloudNotFound)
}

func TestManagedOnlineRunsInitialSyncAndEnables(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.AddSubcloud(context.Background(), testRegion, "25.09", "192.168.101.2"))

	require.NoError(t, f.manager.UpdateSubcloudState(context.Background(), testRegion,
		database.ManagementManaged, database.AvailabilityOnline))

	subcloud, err := f.store.GetSubcloud(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, database.SubcloudEnabled, subcloud.State)
	assert.Equal(t, []string{testRegion}, f.keys.regions)

	// The clean initial sync carries through to the threads: identity
	// settles to in-sync as soon as its queue drains, without waiting
	// for the next scheduled audit.
	require.Eventually(t, func() bool {
		status, err := f.store.GetEndpointStatus(context.Background(), testRegion, records.EndpointIdentity)
		return err == nil && status.SyncStatus == database.SyncStatusInSync
	}, 5*time.Second, 10*time.Millisecond)

	// A repeat report is idempotent and does not redistribute keys.
	require.NoError(t, f.manager.UpdateSubcloudState(context.Background(), testRegion,
		database.ManagementManaged, database.AvailabilityOnline))
	assert.Equal(t, []string{testRegion}, f.keys.regions)
}

func TestGoingOfflineDisablesSync(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.AddSubcloud(context.Background(), testRegion, "25.09", "192.168.101.2"))
	require.NoError(t, f.manager.UpdateSubcloudState(context.Background(), testRegion,
		database.ManagementManaged, database.AvailabilityOnline))

	require.NoError(t, f.manager.UpdateSubcloudState(context.Background(), testRegion,
		database.ManagementManaged, database.AvailabilityOffline))

	subcloud, err := f.store.GetSubcloud(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, database.SubcloudDisabled, subcloud.State)
}

func TestInitFromDBResumesEnabledSubclouds(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.store.CreateSubcloud(context.Background(), &database.Subcloud{
		Region:             testRegion,
		State:              database.SubcloudEnabled,
		ManagementState:    database.ManagementManaged,
		AvailabilityStatus: database.AvailabilityOnline,
		ManagementIP:       "192.168.101.2",
	}))
	require.NoError(t, f.store.CreateSubcloud(context.Background(), &database.Subcloud{
		Region:       "subcloud2",
		State:        database.SubcloudDisabled,
		ManagementIP: "192.168.101.3",
	}))

	require.NoError(t, f.manager.InitFromDB(context.Background()))

	enabled, ok := f.manager.engines.Get(testRegion)
	require.True(t, ok)
	assert.Equal(t, database.SubcloudEnabled, enabled.State())

	disabled, ok := f.manager.engines.Get("subcloud2")
	require.True(t, ok)
	assert.Equal(t, database.SubcloudLoading, disabled.State())

	assert.Equal(t, "192.168.101.2 subcloud1\n192.168.101.3 subcloud2\n", f.hostsContent(t))
}

func TestUpdateSubcloudVersion(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.AddSubcloud(context.Background(), testRegion, "25.09", "192.168.101.2"))

	require.NoError(t, f.manager.UpdateSubcloudVersion(context.Background(), testRegion, "26.03"))

	subcloud, err := f.store.GetSubcloud(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, "26.03", subcloud.SoftwareVersion)
}
