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

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/fault"
	"github.com/Azure/DCS-IdentitySync/internal/hostsfile"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// ErrSubcloudNotFound is returned for operations naming a region no
// engine is registered under.
var ErrSubcloudNotFound = errors.New("subcloud not found")

// maxConcurrentAudits bounds how many subclouds are audited at once.
const maxConcurrentAudits = 4

// KeyDistributor pushes the master fernet key repository to one
// subcloud. Implemented by FernetKeyManager.
type KeyDistributor interface {
	DistributeKeys(ctx context.Context, region string) error
}

// GenericSyncManager owns one SubcloudEngine per registered subcloud
// and carries the orchestration that spans subclouds: registry changes,
// management-state transitions, fan-out wakes and audit scheduling.
type GenericSyncManager struct {
	logger    *slog.Logger
	store     database.Store
	faults    fault.Manager
	factory   ClientFactory
	engines   cmap.ConcurrentMap[string, *SubcloudEngine]
	hostsPath string
	signaler  hostsfile.Signaler
	keys      KeyDistributor

	// Operator-supplied audit exclusions, merged into every engine's
	// stock set at construction.
	excludedUsers    []string
	excludedProjects []string
	excludedRoles    []string
}

// NewGenericSyncManager builds an empty manager. Call InitFromDB to
// rebuild engines for the subclouds already registered.
func NewGenericSyncManager(logger *slog.Logger, store database.Store, faults fault.Manager, factory ClientFactory, hostsPath string, signaler hostsfile.Signaler) *GenericSyncManager {
	if signaler == nil {
		signaler = hostsfile.NopSignaler{}
	}
	return &GenericSyncManager{
		logger:    logger,
		store:     store,
		faults:    faults,
		factory:   factory,
		engines:   cmap.New[*SubcloudEngine](),
		hostsPath: hostsPath,
		signaler:  signaler,
	}
}

// SetKeyDistributor wires the fernet key manager in. Set after
// construction because the key manager needs the manager for wakes.
func (m *GenericSyncManager) SetKeyDistributor(keys KeyDistributor) {
	m.keys = keys
}

// SetAuditExclusions records operator-supplied exclusion names applied
// on top of the stock set for every subcloud. Set before InitFromDB.
func (m *GenericSyncManager) SetAuditExclusions(users, projects, roles []string) {
	m.excludedUsers = users
	m.excludedProjects = projects
	m.excludedRoles = roles
}

// newEngine builds a subcloud engine carrying the manager's exclusion
// overrides.
func (m *GenericSyncManager) newEngine(subcloud *database.Subcloud) *SubcloudEngine {
	engine := NewSubcloudEngine(m.logger, m.store, m.faults, m.factory, subcloud)
	engine.ExtendAuditExclusions(m.excludedUsers, m.excludedProjects, m.excludedRoles)
	return engine
}

// InitFromDB rebuilds the engine set from the subcloud registry at
// startup. Subclouds persisted as enabled resume syncing immediately;
// everything else waits for its next management-state report.
func (m *GenericSyncManager) InitFromDB(ctx context.Context) error {
	subclouds, err := m.store.ListSubclouds(ctx)
	if err != nil {
		return err
	}

	for _, subcloud := range subclouds {
		engine := m.newEngine(subcloud)
		m.engines.Set(subcloud.Region, engine)
		if subcloud.State == database.SubcloudEnabled {
			if err := engine.Enable(ctx); err != nil {
				m.logger.Error("resuming subcloud sync", "region", subcloud.Region, "error", err.Error())
			}
		}
	}

	m.logger.Info("sync manager initialized", "subclouds", len(subclouds))
	return m.updateHostsFile(ctx)
}

// AddSubcloud registers a new subcloud. The engine starts in the
// loading state; syncing begins when the subcloud is reported managed
// and online.
func (m *GenericSyncManager) AddSubcloud(ctx context.Context, region, version, managementIP string) error {
	subcloud := &database.Subcloud{
		Region:             region,
		State:              database.SubcloudLoading,
		ManagementState:    database.ManagementUnmanaged,
		AvailabilityStatus: database.AvailabilityOffline,
		SoftwareVersion:    version,
		ManagementIP:       managementIP,
	}
	if err := m.store.CreateSubcloud(ctx, subcloud); err != nil {
		return err
	}

	m.engines.Set(region, m.newEngine(subcloud))
	m.logger.Info("subcloud added", "region", region, "management_ip", managementIP)
	return m.updateHostsFile(ctx)
}

// DeleteSubcloud removes a subcloud and everything the engine holds
// for it. A managed or online subcloud cannot be deleted.
func (m *GenericSyncManager) DeleteSubcloud(ctx context.Context, region string) error {
	subcloud, err := m.store.GetSubcloud(ctx, region)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSubcloudNotFound, region)
	}
	if err != nil {
		return err
	}
	if subcloud.ManagementState == database.ManagementManaged {
		return fmt.Errorf("subcloud %s is managed; unmanage it before deleting", region)
	}
	if subcloud.AvailabilityStatus == database.AvailabilityOnline {
		return fmt.Errorf("subcloud %s is online; it must be offline before deleting", region)
	}

	if engine, ok := m.engines.Get(region); ok {
		engine.Delete()
		m.engines.Remove(region)
	}
	m.factory.InvalidateSessions(region)

	if aborted, err := m.store.AbortQueuedWork(ctx, region); err != nil {
		return err
	} else if aborted > 0 {
		m.logger.Info("aborted queued work for deleted subcloud", "region", region, "aborted", aborted)
	}
	if _, err := m.store.PurgeSubcloudMappings(ctx, region); err != nil {
		return err
	}
	if err := m.store.DeleteSubcloud(ctx, region); err != nil {
		return err
	}

	m.logger.Info("subcloud deleted", "region", region)
	return m.updateHostsFile(ctx)
}

// EnableSubcloud starts syncing a registered subcloud.
func (m *GenericSyncManager) EnableSubcloud(ctx context.Context, region string) error {
	engine, ok := m.engines.Get(region)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubcloudNotFound, region)
	}
	return engine.Enable(ctx)
}

// DisableSubcloud stops syncing a registered subcloud. Queued work
// stays queued.
func (m *GenericSyncManager) DisableSubcloud(ctx context.Context, region string) error {
	engine, ok := m.engines.Get(region)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubcloudNotFound, region)
	}
	return engine.Disable(ctx)
}

// UpdateSubcloudVersion records a new software version for a subcloud.
func (m *GenericSyncManager) UpdateSubcloudVersion(ctx context.Context, region, version string) error {
	if !m.engines.Has(region) {
		return fmt.Errorf("%w: %s", ErrSubcloudNotFound, region)
	}
	return m.store.UpdateSubcloudSoftwareVersion(ctx, region, version)
}

// SyncRequest wakes one endpoint's sync thread on every enabled
// subcloud, typically right after work was enqueued for all of them.
func (m *GenericSyncManager) SyncRequest(endpointType records.EndpointType) {
	for _, engine := range m.engines.Items() {
		engine.Wake(endpointType)
	}
}

// RunSyncAudit audits every enabled subcloud, a bounded number at a
// time. Per-subcloud failures are logged by the engine; the first one
// is also returned so the scheduler can count failed cycles.
func (m *GenericSyncManager) RunSyncAudit(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentAudits)

	for _, engine := range m.engines.Items() {
		group.Go(func() error {
			_, err := engine.RunSyncAudit(ctx)
			return err
		})
	}
	return group.Wait()
}

// UpdateSubcloudState applies a reported management and availability
// transition. A subcloud becoming managed and online gets an initial
// sync and the fernet key repository before its threads start; any
// other combination stops its sync.
func (m *GenericSyncManager) UpdateSubcloudState(ctx context.Context, region string, management database.ManagementState, availability database.AvailabilityStatus) error {
	engine, ok := m.engines.Get(region)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubcloudNotFound, region)
	}

	if err := m.store.UpdateSubcloudAvailability(ctx, region, management, availability); err != nil {
		return err
	}

	if management != database.ManagementManaged || availability != database.AvailabilityOnline {
		return engine.Disable(ctx)
	}

	if engine.State() == database.SubcloudEnabled {
		return nil
	}

	findings, err := engine.InitialSync(ctx)
	if err != nil {
		return fmt.Errorf("initial sync of %s: %w", region, err)
	}
	m.logger.Info("initial sync complete", "region", region, "findings", findings)

	if m.keys != nil {
		if err := m.keys.DistributeKeys(ctx, region); err != nil {
			// Key distribution rides the queue once the threads
			// start; a failure here only delays it.
			m.logger.Warn("initial key distribution failed", "region", region, "error", err.Error())
		}
	}

	if err := engine.Enable(ctx); err != nil {
		return err
	}
	engine.SeedAuditVerdict(findings == 0)
	return nil
}

// Shutdown stops every engine's threads for process exit. Persisted
// subcloud states are untouched; InitFromDB resumes them next start.
func (m *GenericSyncManager) Shutdown() {
	for _, engine := range m.engines.Items() {
		engine.Shutdown()
	}
}

// updateHostsFile rewrites the management hosts file from the registry
// and signals the resolver when the content changed.
func (m *GenericSyncManager) updateHostsFile(ctx context.Context) error {
	if m.hostsPath == "" {
		return nil
	}

	subclouds, err := m.store.ListSubclouds(ctx)
	if err != nil {
		return err
	}
	entries := make([]hostsfile.Entry, 0, len(subclouds))
	for _, subcloud := range subclouds {
		entries = append(entries, hostsfile.Entry{
			Region:       subcloud.Region,
			ManagementIP: subcloud.ManagementIP,
		})
	}

	changed, err := hostsfile.Update(m.hostsPath, entries)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := m.signaler.Reload(); err != nil {
		m.logger.Warn("signaling resolver reload", "error", err.Error())
	}
	return nil
}
