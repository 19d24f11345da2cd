package keystone

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
)

// MockClient allows for unit testing components that resolve and
// grant through the ClientSpec interface without an identity service.
type MockClient struct {
	mu sync.Mutex

	users    map[string]Ref
	projects map[string]Ref
	roles    map[string]Ref
	grants   map[string]bool

	// Calls records each call as "Method args" in invocation order.
	Calls []string

	// Patches records PatchUser bodies by user ID.
	Patches map[string][]map[string]any
}

// NewMockClient initializes an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		users:    make(map[string]Ref),
		projects: make(map[string]Ref),
		roles:    make(map[string]Ref),
		grants:   make(map[string]bool),
		Patches:  make(map[string][]map[string]any),
	}
}

func nameKey(name, domainID string) string { return name + "@" + domainID }

func grantKey(projectID, userID, roleID string) string {
	return projectID + "/" + userID + "/" + roleID
}

// SeedUser registers a user ref resolvable by (name, domain).
func (m *MockClient) SeedUser(ref Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[nameKey(ref.Name, ref.DomainID)] = ref
}

// SeedProject registers a project ref resolvable by (name, domain).
func (m *MockClient) SeedProject(ref Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[nameKey(ref.Name, ref.DomainID)] = ref
}

// SeedRole registers a role ref resolvable by name.
func (m *MockClient) SeedRole(ref Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[ref.Name] = ref
}

// HasGrant reports whether a grant was issued and not revoked.
func (m *MockClient) HasGrant(projectID, userID, roleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[grantKey(projectID, userID, roleID)]
}

func mockLookupError(op, name string) error {
	return &dbsync.Error{
		Kind:       dbsync.KindNotFound,
		Op:         op,
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("no match for %q", name),
	}
}

func (m *MockClient) FindUserByName(ctx context.Context, name, domainID string) (*Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "FindUserByName "+name)
	ref, ok := m.users[nameKey(name, domainID)]
	if !ok {
		return nil, mockLookupError("FindUserByName", name)
	}
	return &ref, nil
}

func (m *MockClient) FindProjectByName(ctx context.Context, name, domainID string) (*Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "FindProjectByName "+name)
	ref, ok := m.projects[nameKey(name, domainID)]
	if !ok {
		return nil, mockLookupError("FindProjectByName", name)
	}
	return &ref, nil
}

func (m *MockClient) FindRoleByName(ctx context.Context, name string) (*Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "FindRoleByName "+name)
	ref, ok := m.roles[name]
	if !ok {
		return nil, mockLookupError("FindRoleByName", name)
	}
	return &ref, nil
}

func (m *MockClient) PatchUser(ctx context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "PatchUser "+id)
	m.Patches[id] = append(m.Patches[id], fields)
	return nil
}

func (m *MockClient) GrantProjectRole(ctx context.Context, projectID, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "GrantProjectRole "+grantKey(projectID, userID, roleID))
	m.grants[grantKey(projectID, userID, roleID)] = true
	return nil
}

func (m *MockClient) RevokeProjectRole(ctx context.Context, projectID, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey(projectID, userID, roleID)
	m.Calls = append(m.Calls, "RevokeProjectRole "+key)
	if !m.grants[key] {
		return &dbsync.Error{
			Kind:       dbsync.KindNotFound,
			Op:         "RevokeProjectRole",
			StatusCode: http.StatusNotFound,
			Message:    "no such grant",
		}
	}
	delete(m.grants, key)
	return nil
}
