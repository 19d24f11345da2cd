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

// Package fault raises and clears the out-of-sync alarm for subcloud
// endpoints. Each transition is reported exactly once.
package fault

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// AlarmSubcloudResourceOutOfSync identifies the alarm raised when a
// subcloud endpoint falls out of sync with the system controller.
const AlarmSubcloudResourceOutOfSync = "DC_SUBCLOUD_RESOURCE_OUT_OF_SYNC"

// Manager is the alarm surface the sync engine reports through.
type Manager interface {
	// SetOutOfSync raises the out-of-sync alarm for one subcloud
	// endpoint. Raising an already raised alarm is a no-op.
	SetOutOfSync(region string, endpointType records.EndpointType)

	// ClearOutOfSync clears the out-of-sync alarm for one subcloud
	// endpoint. Clearing an absent alarm is a no-op.
	ClearOutOfSync(region string, endpointType records.EndpointType)
}

var outOfSyncGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "subcloud_resource_out_of_sync",
	Help: "1 while the out-of-sync alarm for a subcloud endpoint is raised.",
}, []string{"region", "endpoint_type"})

// manager keeps the raised set in memory. The durable record of sync
// state lives in the orchestration database; alarms are a projection
// of it and rebuild naturally after a restart.
type manager struct {
	logger *slog.Logger

	mu sync.Mutex
	// raised maps alarm entity to the alarm instance UUID assigned on
	// raise, carried through to the matching clear.
	raised map[string]string
}

// NewManager returns an in-memory alarm manager.
func NewManager(logger *slog.Logger) Manager {
	return &manager{
		logger: logger,
		raised: make(map[string]string),
	}
}

// Entity returns the alarm entity instance for one subcloud endpoint.
func Entity(region string, endpointType records.EndpointType) string {
	return fmt.Sprintf("subcloud=%s.resource=%s", region, endpointType)
}

func (m *manager) SetOutOfSync(region string, endpointType records.EndpointType) {
	entity := Entity(region, endpointType)

	m.mu.Lock()
	if _, alreadyRaised := m.raised[entity]; alreadyRaised {
		m.mu.Unlock()
		return
	}
	alarmID := uuid.NewString()
	m.raised[entity] = alarmID
	m.mu.Unlock()

	outOfSyncGauge.WithLabelValues(region, string(endpointType)).Set(1)
	m.logger.Warn("alarm raised",
		"alarm", AlarmSubcloudResourceOutOfSync,
		"alarm_id", alarmID,
		"entity", entity)
}

func (m *manager) ClearOutOfSync(region string, endpointType records.EndpointType) {
	entity := Entity(region, endpointType)

	m.mu.Lock()
	alarmID, wasRaised := m.raised[entity]
	delete(m.raised, entity)
	m.mu.Unlock()

	if !wasRaised {
		return
	}

	outOfSyncGauge.WithLabelValues(region, string(endpointType)).Set(0)
	m.logger.Info("alarm cleared",
		"alarm", AlarmSubcloudResourceOutOfSync,
		"alarm_id", alarmID,
		"entity", entity)
}
