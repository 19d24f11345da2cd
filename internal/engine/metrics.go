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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncOperationsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_operations_total",
		Help: "Queued sync operations dispatched, by outcome.",
	}, []string{"region", "endpoint_type", "resource_type", "operation", "result"})

	syncOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_operation_duration_seconds",
		Help:    "Latency of one dispatched sync operation.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint_type", "resource_type", "operation"})

	auditRunsCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_runs_total",
		Help: "Completed sync audit passes across all subclouds.",
	})

	auditFindingsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_findings_total",
		Help: "Differences found by the sync audit, by kind.",
	}, []string{"region", "resource_type", "finding"})

	auditDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audit_duration_seconds",
		Help:    "Latency of one subcloud audit pass.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"region"})

	pendingRequestsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pending_requests",
		Help: "1 while undelivered requests remain for a subcloud endpoint.",
	}, []string{"region", "endpoint_type"})

	endpointSyncStatusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "endpoint_sync_status",
		Help: "Endpoint sync verdict: 1 in-sync, 0 unknown, -1 out-of-sync.",
	}, []string{"region", "endpoint_type"})

	fernetRotationsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fernet_rotations_total",
		Help: "Fernet key rotation attempts, by result.",
	}, []string{"result"})
)

const (
	resultOK    = "ok"
	resultRetry = "retry"
	resultFatal = "fatal"

	findingCreate = "create"
	findingUpdate = "update"
	findingDelete = "delete"
	findingAdopt  = "adopt"
)
