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
	"fmt"
	"log/slog"
	"sync"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/fault"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// endpointTypes is the set of endpoints every subcloud gets a sync
// thread for.
var endpointTypes = []records.EndpointType{
	records.EndpointIdentity,
	records.EndpointPlatform,
}

// SubcloudEngine owns the sync machinery for one subcloud: a thread
// per endpoint type plus the auditor. All lifecycle transitions are
// serialized through its mutex and are idempotent.
type SubcloudEngine struct {
	logger   *slog.Logger
	store    database.Store
	faults   fault.Manager
	factory  ClientFactory
	subcloud *database.Subcloud
	auditor  *Auditor

	mu      sync.Mutex
	state   database.SubcloudState
	threads map[records.EndpointType]*SyncThread
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewSubcloudEngine builds the engine for one registered subcloud. It
// starts in the loading state; nothing runs until Enable.
func NewSubcloudEngine(logger *slog.Logger, store database.Store, faults fault.Manager, factory ClientFactory, subcloud *database.Subcloud) *SubcloudEngine {
	return &SubcloudEngine{
		logger:   logger.With("region", subcloud.Region),
		store:    store,
		faults:   faults,
		factory:  factory,
		subcloud: subcloud,
		auditor:  NewAuditor(logger, store, factory, subcloud),
		state:    database.SubcloudLoading,
	}
}

// ExtendAuditExclusions merges operator-supplied exclusion names into
// the auditor's stock set.
func (e *SubcloudEngine) ExtendAuditExclusions(users, projects, roles []string) {
	e.auditor.ExtendExclusions(users, projects, roles)
}

// Region returns the subcloud's region name.
func (e *SubcloudEngine) Region() string {
	return e.subcloud.Region
}

// State returns the engine's lifecycle state.
func (e *SubcloudEngine) State() database.SubcloudState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Enable starts the sync threads and persists the transition. Enabling
// an enabled subcloud is a no-op; enabling a deleting one is an error.
func (e *SubcloudEngine) Enable(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case database.SubcloudEnabled:
		return nil
	case database.SubcloudDeleting:
		return fmt.Errorf("subcloud %s is being deleted", e.subcloud.Region)
	}

	if err := e.store.UpdateSubcloudState(ctx, e.subcloud.Region, database.SubcloudEnabled); err != nil {
		return err
	}

	// Threads are single-use once stopped, so each enable builds a
	// fresh set.
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.threads = make(map[records.EndpointType]*SyncThread, len(endpointTypes))
	for _, endpointType := range endpointTypes {
		thread := NewSyncThread(e.logger, e.store, e.faults, e.factory, e.subcloud, endpointType)
		e.threads[endpointType] = thread
		e.running.Add(1)
		go func() {
			defer e.running.Done()
			thread.Run(runCtx)
		}()
	}

	e.state = database.SubcloudEnabled
	e.logger.Info("subcloud sync enabled")
	return nil
}

// Disable stops the sync threads and persists the transition.
// Disabling a subcloud that is not enabled is a no-op.
func (e *SubcloudEngine) Disable(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != database.SubcloudEnabled {
		return nil
	}
	if err := e.store.UpdateSubcloudState(ctx, e.subcloud.Region, database.SubcloudDisabled); err != nil {
		return err
	}

	e.stopThreadsLocked()
	e.state = database.SubcloudDisabled
	e.logger.Info("subcloud sync disabled")
	return nil
}

// Shutdown stops the sync threads without a state transition, for
// process exit. The persisted state is what the next startup resumes
// from.
func (e *SubcloudEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopThreadsLocked()
}

// Delete moves the engine to the terminal deleting state and stops its
// threads. The caller owns removing persisted rows.
func (e *SubcloudEngine) Delete() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == database.SubcloudDeleting {
		return
	}
	e.stopThreadsLocked()
	e.state = database.SubcloudDeleting
	e.logger.Info("subcloud sync deleting")
}

func (e *SubcloudEngine) stopThreadsLocked() {
	if e.cancel == nil {
		return
	}
	for _, thread := range e.threads {
		thread.Stop()
	}
	e.cancel()
	e.running.Wait()
	e.cancel = nil
	e.threads = nil
}

// Wake nudges one endpoint's sync thread to drain its queue now.
// Waking a subcloud that is not enabled does nothing; the queued work
// waits for the next enable.
func (e *SubcloudEngine) Wake(endpointType records.EndpointType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != database.SubcloudEnabled {
		return
	}
	if thread, ok := e.threads[endpointType]; ok {
		thread.Wake()
	}
}

// InitialSync runs one synchronous audit pass before the subcloud is
// enabled: records that already exist on the subcloud are adopted
// through the mapping path, everything else is queued for the threads
// to deliver once they start.
func (e *SubcloudEngine) InitialSync(ctx context.Context) (int, error) {
	return e.auditor.Run(ctx)
}

// SeedAuditVerdict feeds the verdict of an audit pass that ran before
// the threads started. A clean initial sync lets each thread record
// in-sync as soon as its queue drains, instead of waiting for the next
// scheduled audit. A no-op while the subcloud is not enabled.
func (e *SubcloudEngine) SeedAuditVerdict(clean bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, thread := range e.threads {
		thread.SetAuditClean(clean)
		thread.Wake()
	}
}

// RunSyncAudit performs one audit pass against this subcloud and feeds
// the verdict to the identity sync thread. A subcloud that is not
// enabled is not audited.
func (e *SubcloudEngine) RunSyncAudit(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.state != database.SubcloudEnabled {
		e.mu.Unlock()
		return 0, nil
	}
	thread := e.threads[records.EndpointIdentity]
	e.mu.Unlock()

	findings, err := e.auditor.Run(ctx)
	if err != nil {
		e.logger.Warn("audit pass aborted", "error", err.Error())
		return findings, err
	}

	// The thread records the in-sync verdict itself once the queue is
	// empty, so a clean audit still needs a wake.
	thread.SetAuditClean(findings == 0)
	thread.Wake()
	return findings, nil
}
