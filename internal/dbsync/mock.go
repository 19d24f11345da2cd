package dbsync

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// MockClient allows for unit testing components that talk to the
// ClientSpec interface without a dbsync server. It keeps records in
// maps, synthesizes the same classified errors the real client maps
// from HTTP responses, and logs every mutating call so tests can
// assert on ordering.
type MockClient struct {
	mu sync.Mutex

	users       map[string]records.User
	projects    map[string]records.Project
	roles       map[string]records.Role
	assignments map[string]records.Assignment
	events      map[string]records.RevocationEvent

	// Calls records each call as "Method id" in invocation order.
	Calls []string

	// queued errors per method name, popped one per call
	errs map[string][]error
}

// NewMockClient initializes an empty MockClient. For production, use
// NewClient instead.
func NewMockClient() *MockClient {
	return &MockClient{
		users:       make(map[string]records.User),
		projects:    make(map[string]records.Project),
		roles:       make(map[string]records.Role),
		assignments: make(map[string]records.Assignment),
		events:      make(map[string]records.RevocationEvent),
		errs:        make(map[string][]error),
	}
}

func mockNotFoundError(op, id string) error {
	return &Error{
		Kind:       KindNotFound,
		Op:         op,
		StatusCode: 404,
		Message:    fmt.Sprintf("no record %q", id),
	}
}

func mockConflictError(op, id string) error {
	return &Error{
		Kind:       KindConflict,
		Op:         op,
		StatusCode: 409,
		Message:    fmt.Sprintf("record %q already exists", id),
	}
}

// FailWith queues errors to return from the next calls to the named
// method, in order, before the normal behavior resumes.
func (m *MockClient) FailWith(method string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[method] = append(m.errs[method], errs...)
}

// SeedUser inserts a user without logging a call.
func (m *MockClient) SeedUser(user records.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// SeedProject inserts a project without logging a call.
func (m *MockClient) SeedProject(project records.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[project.ID] = project
}

// SeedRole inserts a role without logging a call.
func (m *MockClient) SeedRole(role records.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.ID] = role
}

// SeedAssignment inserts an assignment without logging a call.
func (m *MockClient) SeedAssignment(assignment records.Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[assignment.ID()] = assignment
}

// SeedRevokeEvent inserts a revocation event without logging a call.
func (m *MockClient) SeedRevokeEvent(event records.RevocationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.MappingID()] = event
}

// call logs the invocation and pops a queued error if one is waiting.
func (m *MockClient) call(method, id string) error {
	entry := method
	if id != "" {
		entry += " " + id
	}
	m.Calls = append(m.Calls, entry)
	if queue := m.errs[method]; len(queue) > 0 {
		err := queue[0]
		m.errs[method] = queue[1:]
		return err
	}
	return nil
}

func (m *MockClient) ListUsers(ctx context.Context) ([]records.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListUsers", ""); err != nil {
		return nil, err
	}
	return sortedValues(m.users, func(u records.User) string { return u.ID }), nil
}

func (m *MockClient) GetUser(ctx context.Context, id string) (*records.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetUser", id); err != nil {
		return nil, err
	}
	user, ok := m.users[id]
	if !ok {
		return nil, mockNotFoundError("GetUser", id)
	}
	return &user, nil
}

func (m *MockClient) CreateUser(ctx context.Context, user records.User) (*records.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateUser", user.ID); err != nil {
		return nil, err
	}
	if _, ok := m.users[user.ID]; ok {
		return nil, mockConflictError("CreateUser", user.ID)
	}
	m.users[user.ID] = user
	return &user, nil
}

func (m *MockClient) UpdateUser(ctx context.Context, id string, user records.User) (*records.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateUser", id); err != nil {
		return nil, err
	}
	if _, ok := m.users[id]; !ok {
		return nil, mockNotFoundError("UpdateUser", id)
	}
	m.users[id] = user
	return &user, nil
}

func (m *MockClient) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteUser", id); err != nil {
		return err
	}
	delete(m.users, id)
	return nil
}

func (m *MockClient) ListProjects(ctx context.Context) ([]records.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListProjects", ""); err != nil {
		return nil, err
	}
	return sortedValues(m.projects, func(p records.Project) string { return p.ID }), nil
}

func (m *MockClient) GetProject(ctx context.Context, id string) (*records.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetProject", id); err != nil {
		return nil, err
	}
	project, ok := m.projects[id]
	if !ok {
		return nil, mockNotFoundError("GetProject", id)
	}
	return &project, nil
}

func (m *MockClient) CreateProject(ctx context.Context, project records.Project) (*records.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateProject", project.ID); err != nil {
		return nil, err
	}
	if _, ok := m.projects[project.ID]; ok {
		return nil, mockConflictError("CreateProject", project.ID)
	}
	m.projects[project.ID] = project
	return &project, nil
}

func (m *MockClient) UpdateProject(ctx context.Context, id string, project records.Project) (*records.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateProject", id); err != nil {
		return nil, err
	}
	if _, ok := m.projects[id]; !ok {
		return nil, mockNotFoundError("UpdateProject", id)
	}
	m.projects[id] = project
	return &project, nil
}

func (m *MockClient) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteProject", id); err != nil {
		return err
	}
	delete(m.projects, id)
	return nil
}

func (m *MockClient) ListRoles(ctx context.Context) ([]records.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListRoles", ""); err != nil {
		return nil, err
	}
	return sortedValues(m.roles, func(r records.Role) string { return r.ID }), nil
}

func (m *MockClient) GetRole(ctx context.Context, id string) (*records.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetRole", id); err != nil {
		return nil, err
	}
	role, ok := m.roles[id]
	if !ok {
		return nil, mockNotFoundError("GetRole", id)
	}
	return &role, nil
}

func (m *MockClient) CreateRole(ctx context.Context, role records.Role) (*records.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateRole", role.ID); err != nil {
		return nil, err
	}
	if _, ok := m.roles[role.ID]; ok {
		return nil, mockConflictError("CreateRole", role.ID)
	}
	m.roles[role.ID] = role
	return &role, nil
}

func (m *MockClient) UpdateRole(ctx context.Context, id string, role records.Role) (*records.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateRole", id); err != nil {
		return nil, err
	}
	if _, ok := m.roles[id]; !ok {
		return nil, mockNotFoundError("UpdateRole", id)
	}
	m.roles[id] = role
	return &role, nil
}

func (m *MockClient) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteRole", id); err != nil {
		return err
	}
	delete(m.roles, id)
	return nil
}

func (m *MockClient) ListAssignments(ctx context.Context) ([]records.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListAssignments", ""); err != nil {
		return nil, err
	}
	return sortedValues(m.assignments, func(a records.Assignment) string { return a.ID() }), nil
}

func (m *MockClient) GetAssignment(ctx context.Context, ref string) (*records.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetAssignment", ref); err != nil {
		return nil, err
	}
	assignment, ok := m.assignments[ref]
	if !ok {
		return nil, mockNotFoundError("GetAssignment", ref)
	}
	return &assignment, nil
}

func (m *MockClient) CreateAssignment(ctx context.Context, assignment records.Assignment) (*records.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateAssignment", assignment.ID()); err != nil {
		return nil, err
	}
	if _, ok := m.assignments[assignment.ID()]; ok {
		return nil, mockConflictError("CreateAssignment", assignment.ID())
	}
	m.assignments[assignment.ID()] = assignment
	return &assignment, nil
}

func (m *MockClient) ListRevokeEvents(ctx context.Context) ([]records.RevocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListRevokeEvents", ""); err != nil {
		return nil, err
	}
	return sortedValues(m.events, func(e records.RevocationEvent) string { return e.MappingID() }), nil
}

func (m *MockClient) GetRevokeEvent(ctx context.Context, auditID string) (*records.RevocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetRevokeEvent", auditID); err != nil {
		return nil, err
	}
	event, ok := m.events[auditID]
	if !ok {
		return nil, mockNotFoundError("GetRevokeEvent", auditID)
	}
	return &event, nil
}

func (m *MockClient) GetUserRevokeEvent(ctx context.Context, userID, issuedBefore string) (*records.RevocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := records.UserRevokeID(userID, issuedBefore)
	if err := m.call("GetUserRevokeEvent", id); err != nil {
		return nil, err
	}
	event, ok := m.events[id]
	if !ok {
		return nil, mockNotFoundError("GetUserRevokeEvent", id)
	}
	return &event, nil
}

func (m *MockClient) CreateRevokeEvent(ctx context.Context, event records.RevocationEvent) (*records.RevocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := event.MappingID()
	if err := m.call("CreateRevokeEvent", id); err != nil {
		return nil, err
	}
	if _, ok := m.events[id]; ok {
		return nil, mockConflictError("CreateRevokeEvent", id)
	}
	m.events[id] = event
	return &event, nil
}

func (m *MockClient) DeleteRevokeEvent(ctx context.Context, auditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteRevokeEvent", auditID); err != nil {
		return err
	}
	delete(m.events, auditID)
	return nil
}

func (m *MockClient) DeleteUserRevokeEvent(ctx context.Context, userID, issuedBefore string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := records.UserRevokeID(userID, issuedBefore)
	if err := m.call("DeleteUserRevokeEvent", id); err != nil {
		return err
	}
	delete(m.events, id)
	return nil
}

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	values := make([]T, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return key(values[i]) < key(values[j]) })
	return values
}
