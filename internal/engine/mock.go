package engine

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"sync"

	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/keystone"
	"github.com/Azure/DCS-IdentitySync/internal/platform"
)

// MockClientFactory hands out fixed clients for unit tests and records
// session invalidations.
type MockClientFactory struct {
	mu sync.Mutex

	Master          dbsync.ClientSpec
	DBSyncClients   map[string]dbsync.ClientSpec
	IdentityClients map[string]keystone.ClientSpec
	PlatformClients map[string]platform.ClientSpec

	// Invalidations records each session invalidation as the region
	// name, or "master".
	Invalidations []string
}

// NewMockClientFactory initializes an empty MockClientFactory.
func NewMockClientFactory() *MockClientFactory {
	return &MockClientFactory{
		DBSyncClients:   make(map[string]dbsync.ClientSpec),
		IdentityClients: make(map[string]keystone.ClientSpec),
		PlatformClients: make(map[string]platform.ClientSpec),
	}
}

func (f *MockClientFactory) MasterDBSync() dbsync.ClientSpec {
	return f.Master
}

func (f *MockClientFactory) SubcloudDBSync(region, managementIP string) dbsync.ClientSpec {
	return f.DBSyncClients[region]
}

func (f *MockClientFactory) SubcloudIdentity(region, managementIP string) keystone.ClientSpec {
	return f.IdentityClients[region]
}

func (f *MockClientFactory) SubcloudPlatform(region, managementIP string) platform.ClientSpec {
	return f.PlatformClients[region]
}

func (f *MockClientFactory) InvalidateSessions(region string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invalidations = append(f.Invalidations, region)
}

func (f *MockClientFactory) InvalidateMaster() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invalidations = append(f.Invalidations, "master")
}
