package engine

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type auditFixture struct {
	store   *database.MockStore
	master  *dbsync.MockClient
	sub     *dbsync.MockClient
	auditor *Auditor
}

func newAuditFixture(t *testing.T) *auditFixture {
	t.Helper()

	store := database.NewMockStore()
	subcloud := &database.Subcloud{
		Region:             testRegion,
		State:              database.SubcloudEnabled,
		ManagementState:    database.ManagementManaged,
		AvailabilityStatus: database.AvailabilityOnline,
		ManagementIP:       "192.168.101.2",
	}
	require.NoError(t, store.CreateSubcloud(context.Background(), subcloud))

	factory := NewMockClientFactory()
	master := dbsync.NewMockClient()
	sub := dbsync.NewMockClient()
	factory.Master = master
	factory.DBSyncClients[testRegion] = sub

	return &auditFixture{
		store:   store,
		master:  master,
		sub:     sub,
		auditor: NewAuditor(testLogger(), store, factory, subcloud),
	}
}

// queuedOperations drains the mock queue and reports what the audit
// enqueued, as "resource_type operation master_id" strings.
func (f *auditFixture) queuedOperations(t *testing.T, endpointType records.EndpointType) []string {
	t.Helper()

	var ops []string
	for {
		work, err := f.store.NextQueuedWork(context.Background(), testRegion, endpointType)
		if err != nil {
			assert.ErrorIs(t, err, database.ErrNotFound)
			return ops
		}
		ops = append(ops, string(work.ResourceType)+" "+string(work.Operation)+" "+work.MasterID)
	}
}

func TestAuditEnqueuesMissingUser(t *testing.T) {
	f := newAuditFixture(t)
	f.master.SeedUser(testUser("u-1", "alice"))
	f.master.SeedUser(testUser("u-2", "dbsync"))

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	// The service user is excluded; only alice is a finding.
	assert.Equal(t, 1, findings)
	assert.Equal(t, []string{"users create u-1"}, f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditAdoptsMatchingResource(t *testing.T) {
	f := newAuditFixture(t)
	f.master.SeedUser(testUser("u-1", "alice"))
	// Same user on the subcloud under a different local ID.
	f.sub.SeedUser(testUser("s-9", "alice"))

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, findings)
	mapping, err := f.store.GetMapping(context.Background(), records.ResourceUsers, "u-1", testRegion)
	require.NoError(t, err)
	assert.Equal(t, "s-9", mapping.SubcloudResourceID)
}

func TestAuditEnqueuesUpdateForDivergedUser(t *testing.T) {
	f := newAuditFixture(t)
	f.master.SeedUser(testUser("u-1", "alice"))
	disabled := testUser("u-1", "alice")
	disabled.Enabled = false
	f.sub.SeedUser(disabled)

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, findings)
	assert.Equal(t, []string{"users update u-1"}, f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditDeletesStaleMapping(t *testing.T) {
	f := newAuditFixture(t)
	f.master.SeedUser(testUser("u-1", "alice"))
	f.sub.SeedUser(testUser("u-1", "alice"))
	// A user the engine once delivered whose master copy is gone.
	require.NoError(t, f.store.EnsureMapping(context.Background(),
		records.ResourceUsers, "u-gone", testRegion, "s-5"))

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, findings)
	assert.Equal(t, []string{"users delete u-gone"}, f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditSkipsResourceWithPendingWork(t *testing.T) {
	f := newAuditFixture(t)
	f.master.SeedUser(testUser("u-1", "alice"))
	require.NoError(t, f.store.EnqueueWork(context.Background(), []string{testRegion},
		records.EndpointIdentity, records.ResourceUsers, "u-1", records.OperationUpdate, nil))

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, findings)
	assert.Equal(t, []string{"users update u-1"}, f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditSkipsEmptyMasterList(t *testing.T) {
	f := newAuditFixture(t)
	// A subcloud-only user with no master counterpart must survive an
	// empty master list.
	f.sub.SeedUser(testUser("s-1", "localonly"))

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, findings)
	assert.Empty(t, f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditAbortsWhenSubcloudUnreachable(t *testing.T) {
	f := newAuditFixture(t)
	f.master.SeedUser(testUser("u-1", "alice"))
	f.sub.FailWith("ListUsers", dbsync.TransportError("ListUsers", context.DeadlineExceeded))

	_, err := f.auditor.Run(context.Background())
	assert.ErrorIs(t, err, dbsync.ErrUnreachable)
	assert.Empty(t, f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditComparesAssignmentsByName(t *testing.T) {
	f := newAuditFixture(t)

	f.master.SeedUser(testUser("u-1", "alice"))
	f.master.SeedProject(records.Project{ID: "p-1", Name: "ops", DomainID: "default", Enabled: true})
	f.master.SeedRole(records.Role{ID: "r-1", Name: "member", DomainID: records.NullDomainID})
	f.master.SeedAssignment(records.Assignment{
		Type: records.AssignmentUserProject, TargetID: "p-1", ActorID: "u-1", RoleID: "r-1",
	})

	// The subcloud has the same records under different IDs but lacks
	// the grant.
	f.sub.SeedUser(testUser("su-1", "alice"))
	f.sub.SeedProject(records.Project{ID: "sp-1", Name: "ops", DomainID: "default", Enabled: true})
	f.sub.SeedRole(records.Role{ID: "sr-1", Name: "member", DomainID: records.NullDomainID})

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, findings)
	assert.Equal(t, []string{"role_assignments create p-1_u-1_r-1"},
		f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditMatchingAssignmentsAreClean(t *testing.T) {
	f := newAuditFixture(t)

	f.master.SeedUser(testUser("u-1", "alice"))
	f.master.SeedProject(records.Project{ID: "p-1", Name: "ops", DomainID: "default", Enabled: true})
	f.master.SeedRole(records.Role{ID: "r-1", Name: "member", DomainID: records.NullDomainID})
	f.master.SeedAssignment(records.Assignment{
		Type: records.AssignmentUserProject, TargetID: "p-1", ActorID: "u-1", RoleID: "r-1",
	})

	f.sub.SeedUser(testUser("su-1", "alice"))
	f.sub.SeedProject(records.Project{ID: "sp-1", Name: "ops", DomainID: "default", Enabled: true})
	f.sub.SeedRole(records.Role{ID: "sr-1", Name: "member", DomainID: records.NullDomainID})
	f.sub.SeedAssignment(records.Assignment{
		Type: records.AssignmentUserProject, TargetID: "sp-1", ActorID: "su-1", RoleID: "sr-1",
	})

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, findings)
	assert.Empty(t, f.queuedOperations(t, records.EndpointIdentity))
}

func TestAuditSplitsRevocationScopes(t *testing.T) {
	f := newAuditFixture(t)

	audited := records.RevocationEvent{AuditID: "aud-1", IssuedBefore: "2026-01-02T15:04:05"}
	byUser := records.RevocationEvent{UserID: "u-1", IssuedBefore: "2026-01-02T15:04:05"}
	f.master.SeedRevokeEvent(audited)
	f.master.SeedRevokeEvent(byUser)

	findings, err := f.auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, findings)
	assert.ElementsMatch(t, []string{
		"revoke_events create aud-1",
		"revoke_events_for_user create " + records.UserRevokeID("u-1", "2026-01-02T15:04:05"),
	}, f.queuedOperations(t, records.EndpointIdentity))
}
