package fault

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"sync"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// MockManager records alarm transitions for unit tests.
type MockManager struct {
	mu sync.Mutex

	raised map[string]bool

	// Transitions records each transition as "raise entity" or
	// "clear entity" in order, no-ops excluded.
	Transitions []string
}

// NewMockManager initializes an empty MockManager.
func NewMockManager() *MockManager {
	return &MockManager{raised: make(map[string]bool)}
}

// IsRaised reports whether the alarm for one endpoint is raised.
func (m *MockManager) IsRaised(region string, endpointType records.EndpointType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raised[Entity(region, endpointType)]
}

func (m *MockManager) SetOutOfSync(region string, endpointType records.EndpointType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity := Entity(region, endpointType)
	if m.raised[entity] {
		return
	}
	m.raised[entity] = true
	m.Transitions = append(m.Transitions, "raise "+entity)
}

func (m *MockManager) ClearOutOfSync(region string, endpointType records.EndpointType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity := Entity(region, endpointType)
	if !m.raised[entity] {
		return
	}
	delete(m.raised, entity)
	m.Transitions = append(m.Transitions, "clear "+entity)
}
