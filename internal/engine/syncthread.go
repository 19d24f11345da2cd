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
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/fault"
	"github.com/Azure/DCS-IdentitySync/internal/records"
	"github.com/Azure/DCS-IdentitySync/internal/tracing"
)

// ThreadState is the externally visible state of one sync thread.
type ThreadState string

const (
	ThreadIdle     ThreadState = "idle"
	ThreadWorking  ThreadState = "working"
	ThreadSleeping ThreadState = "sleeping"
	ThreadStopping ThreadState = "stopping"
)

// outcome classifies the disposition of one dispatched work item.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetry
	outcomeFatal
)

// defaultWakeInterval bounds how long a thread sleeps between queue
// checks when nothing wakes it explicitly.
const defaultWakeInterval = 5 * time.Minute

// SyncThread drains the durable work queue for one
// (subcloud, endpoint type) scope and applies each item to the
// subcloud through the typed clients.
type SyncThread struct {
	logger       *slog.Logger
	store        database.Store
	faults       fault.Manager
	factory      ClientFactory
	region       string
	managementIP string
	endpointType records.EndpointType
	wakeInterval time.Duration

	wake     chan struct{}
	stopping atomic.Bool
	state    atomic.Value

	// auditClean is set by the audit after a pass with no findings;
	// an empty queue then counts as in-sync.
	auditClean atomic.Bool

	retrySchedule backoff.BackOff
}

// NewSyncThread builds the thread for one scope. It does not start
// running until Run is called.
func NewSyncThread(logger *slog.Logger, store database.Store, faults fault.Manager, factory ClientFactory, subcloud *database.Subcloud, endpointType records.EndpointType) *SyncThread {
	t := &SyncThread{
		logger: logger.With(
			"region", subcloud.Region,
			"endpoint_type", string(endpointType)),
		store:         store,
		faults:        faults,
		factory:       factory,
		region:        subcloud.Region,
		managementIP:  subcloud.ManagementIP,
		endpointType:  endpointType,
		wakeInterval:  defaultWakeInterval,
		wake:          make(chan struct{}, 1),
		retrySchedule: dbsync.RetryableTransportSchedule(),
	}
	t.state.Store(ThreadIdle)
	return t
}

// State returns the thread's current state.
func (t *SyncThread) State() ThreadState {
	return t.state.Load().(ThreadState)
}

func (t *SyncThread) setState(state ThreadState) {
	t.state.Store(state)
}

// Wake nudges the thread to drain its queue now instead of waiting for
// the next tick. Safe to call from any goroutine; redundant wakes
// coalesce.
func (t *SyncThread) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Stop asks the thread to exit at the next handler boundary.
func (t *SyncThread) Stop() {
	t.stopping.Store(true)
	t.Wake()
}

// SetAuditClean records the verdict of the latest audit pass over this
// scope.
func (t *SyncThread) SetAuditClean(clean bool) {
	t.auditClean.Store(clean)
}

// Run is the thread's main loop: wait for a wake or the bounded timer,
// then drain the queue. Returns when the context is canceled or Stop
// was called.
func (t *SyncThread) Run(ctx context.Context) {
	ticker := time.NewTicker(t.wakeInterval)
	defer ticker.Stop()

	// Drain immediately on startup to pick up work enqueued while the
	// thread was down.
	t.drain(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-t.wake:
		case <-ticker.C:
		}
		if t.stopping.Load() {
			break loop
		}
		t.drain(ctx)
	}

	t.setState(ThreadStopping)
}

// drain processes queued requests in insertion order until the queue
// is empty, the thread is stopped, or the context ends.
func (t *SyncThread) drain(ctx context.Context) {
	t.setState(ThreadWorking)
	defer t.setState(ThreadIdle)

	ctx, span := startRootSpan(ctx, "SyncThread.drain")
	defer span.End()
	span.SetAttributes(
		tracing.RegionKey.String(t.region),
		tracing.EndpointTypeKey.String(string(t.endpointType)))

	for {
		if t.stopping.Load() || ctx.Err() != nil {
			return
		}

		work, err := t.store.NextQueuedWork(ctx, t.region, t.endpointType)
		if errors.Is(err, database.ErrNotFound) {
			t.queueEmptied(ctx)
			return
		}
		if err != nil {
			t.logger.Error("claiming queued work", "error", err.Error())
			return
		}
		pendingRequestsGauge.WithLabelValues(t.region, string(t.endpointType)).Set(1)

		disposition, handleErr := t.dispatch(ctx, work)
		switch disposition {
		case outcomeOK:
			t.retrySchedule.Reset()
			if err := t.store.FinishWork(ctx, work.RequestID, database.RequestCompleted, ""); err != nil {
				t.logger.Error("completing request", "request_id", work.RequestID, "error", err.Error())
			}
			t.countOperation(work, resultOK)

		case outcomeFatal:
			t.logger.Error("sync operation failed",
				"resource_type", string(work.ResourceType),
				"master_id", work.MasterID,
				"operation", string(work.Operation),
				"error", handleErr.Error())
			if err := t.store.FinishWork(ctx, work.RequestID, database.RequestFailed, handleErr.Error()); err != nil {
				t.logger.Error("failing request", "request_id", work.RequestID, "error", err.Error())
			}
			t.countOperation(work, resultFatal)

		case outcomeRetry:
			t.logger.Warn("sync deferred, backing off",
				"resource_type", string(work.ResourceType),
				"master_id", work.MasterID,
				"error", handleErr.Error())
			// Only an unreachable subcloud degrades the endpoint status.
			// A repeated credential rejection waits out the backoff with
			// the item still queued.
			if dbsync.IsKind(handleErr, dbsync.KindUnreachable) {
				t.markOutOfSync(ctx)
			}
			if err := t.store.RequeueWork(ctx, work.RequestID); err != nil {
				t.logger.Error("requeueing request", "request_id", work.RequestID, "error", err.Error())
			}
			t.countOperation(work, resultRetry)
			if !t.sleep(ctx) {
				return
			}
		}
	}
}

// dispatch runs the handler for one work item and classifies the
// result. An Unauthorized failure reinitializes both sessions and
// retries the same item exactly once.
func (t *SyncThread) dispatch(ctx context.Context, work *database.Work) (outcome, error) {
	start := time.Now()
	defer func() {
		syncOperationDuration.
			WithLabelValues(string(work.EndpointType), string(work.ResourceType), string(work.Operation)).
			Observe(time.Since(start).Seconds())
	}()

	ctx, span := startChildSpan(ctx, "SyncThread.dispatch")
	defer span.End()
	tracing.SetWorkAttributes(span, work.Region, string(work.EndpointType), string(work.ResourceType), work.MasterID, string(work.Operation))

	err := t.handle(ctx, work)
	if dbsync.IsKind(err, dbsync.KindUnauthorized) {
		t.logger.Info("session rejected, reauthenticating", "master_id", work.MasterID)
		t.factory.InvalidateSessions(t.region)
		t.factory.InvalidateMaster()
		err = t.handle(ctx, work)
	}

	switch {
	case err == nil:
		return outcomeOK, nil
	case dbsync.IsKind(err, dbsync.KindUnreachable), dbsync.IsKind(err, dbsync.KindUnauthorized):
		return outcomeRetry, err
	default:
		return outcomeFatal, err
	}
}

// handle routes a work item to its endpoint handler.
func (t *SyncThread) handle(ctx context.Context, work *database.Work) error {
	switch work.EndpointType {
	case records.EndpointIdentity:
		return t.handleIdentity(ctx, work)
	case records.EndpointPlatform:
		return t.handlePlatform(ctx, work)
	default:
		return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "dispatch",
			Message: "no handler for endpoint type " + string(work.EndpointType)}
	}
}

// queueEmptied runs when a drain finds no more work: the scope is
// in sync if the last audit found nothing to fix.
func (t *SyncThread) queueEmptied(ctx context.Context) {
	pendingRequestsGauge.WithLabelValues(t.region, string(t.endpointType)).Set(0)
	if !t.auditClean.Load() {
		return
	}

	if err := t.store.UpsertEndpointStatus(ctx, t.region, t.endpointType, database.SyncStatusInSync); err != nil {
		t.logger.Error("recording in-sync status", "error", err.Error())
		return
	}
	endpointSyncStatusGauge.WithLabelValues(t.region, string(t.endpointType)).Set(1)
	t.faults.ClearOutOfSync(t.region, t.endpointType)
}

func (t *SyncThread) markOutOfSync(ctx context.Context) {
	if err := t.store.UpsertEndpointStatus(ctx, t.region, t.endpointType, database.SyncStatusOutOfSync); err != nil {
		t.logger.Error("recording out-of-sync status", "error", err.Error())
	}
	endpointSyncStatusGauge.WithLabelValues(t.region, string(t.endpointType)).Set(-1)
	t.faults.SetOutOfSync(t.region, t.endpointType)
}

// sleep blocks for the next backoff interval. Returns false when the
// thread should give up the drain instead of retrying.
func (t *SyncThread) sleep(ctx context.Context) bool {
	t.setState(ThreadSleeping)
	defer t.setState(ThreadWorking)

	timer := time.NewTimer(t.retrySchedule.NextBackOff())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.wake:
		// An explicit wake cuts the backoff short; the subcloud may
		// have just come back.
		return !t.stopping.Load()
	case <-timer.C:
		return !t.stopping.Load()
	}
}

func (t *SyncThread) countOperation(work *database.Work, result string) {
	syncOperationsCount.WithLabelValues(
		t.region,
		string(work.EndpointType),
		string(work.ResourceType),
		string(work.Operation),
		result,
	).Inc()
}
