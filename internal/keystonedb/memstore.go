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

package keystonedb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// MemStore implements Store in memory for handler and end-to-end
// client tests.
type MemStore struct {
	mu sync.Mutex

	users       map[string]records.User
	projects    map[string]records.Project
	roles       map[string]records.Role
	assignments map[string]records.Assignment
	revocations []records.RevocationEvent

	nextLocalID  int
	nextRevokeID int64
}

// NewMemStore initializes an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[string]records.User),
		projects:    make(map[string]records.Project),
		roles:       make(map[string]records.Role),
		assignments: make(map[string]records.Assignment),
	}
}

func (m *MemStore) ConnectionTest(ctx context.Context) error { return nil }

func (m *MemStore) UserGetAll(ctx context.Context) ([]records.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]records.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemStore) UserGet(ctx context.Context, id string) (*records.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *MemStore) UserCreate(ctx context.Context, rec records.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[rec.ID]; ok {
		return fmt.Errorf("user %q: %w", rec.ID, ErrAlreadyExists)
	}

	m.nextLocalID++
	rec.LocalUser.ID = m.nextLocalID
	rec.LocalUser.UserID = rec.ID
	rec.Name = rec.LocalUser.Name
	for i := range rec.LocalUser.Passwords {
		rec.LocalUser.Passwords[i].ID = i + 1
		rec.LocalUser.Passwords[i].LocalUserID = rec.LocalUser.ID
	}
	m.users[rec.ID] = rec
	return nil
}

func (m *MemStore) UserUpdate(ctx context.Context, id string, rec records.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}

	newID := rec.ID
	if newID == "" {
		newID = id
	}
	if len(rec.LocalUser.Passwords) == 0 {
		rec.LocalUser.Passwords = current.LocalUser.Passwords
	}
	rec.ID = newID
	rec.Name = rec.LocalUser.Name
	rec.LocalUser.ID = current.LocalUser.ID
	rec.LocalUser.UserID = newID

	delete(m.users, id)
	m.users[newID] = rec

	if newID != id {
		m.rewriteAssignments(func(a *records.Assignment) {
			if a.ActorID == id {
				a.ActorID = newID
			}
		})
	}
	return nil
}

func (m *MemStore) UserDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	for key, a := range m.assignments {
		if a.ActorID == id {
			delete(m.assignments, key)
		}
	}
	return nil
}

func (m *MemStore) ProjectGetAll(ctx context.Context) ([]records.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	projects := make([]records.Project, 0, len(m.projects))
	for _, p := range m.projects {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

func (m *MemStore) ProjectGet(ctx context.Context, id string) (*records.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &project, nil
}

func (m *MemStore) ProjectCreate(ctx context.Context, rec records.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[rec.ID]; ok {
		return fmt.Errorf("project %q: %w", rec.ID, ErrAlreadyExists)
	}
	m.projects[rec.ID] = rec
	return nil
}

func (m *MemStore) ProjectUpdate(ctx context.Context, id string, rec records.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}

	newID := rec.ID
	if newID == "" {
		newID = id
	}
	rec.ID = newID
	delete(m.projects, id)
	m.projects[newID] = rec

	if newID != id {
		m.rewriteAssignments(func(a *records.Assignment) {
			if a.TargetID == id {
				a.TargetID = newID
			}
		})
	}
	return nil
}

func (m *MemStore) ProjectDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	for key, a := range m.assignments {
		if a.TargetID == id {
			delete(m.assignments, key)
		}
	}
	return nil
}

func (m *MemStore) RoleGetAll(ctx context.Context) ([]records.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make([]records.Role, 0, len(m.roles))
	for _, r := range m.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (m *MemStore) RoleGet(ctx context.Context, id string) (*records.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &role, nil
}

func (m *MemStore) RoleCreate(ctx context.Context, rec records.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[rec.ID]; ok {
		return fmt.Errorf("role %q: %w", rec.ID, ErrAlreadyExists)
	}
	if rec.DomainID == "" {
		rec.DomainID = records.NullDomainID
	}
	m.roles[rec.ID] = rec
	return nil
}

func (m *MemStore) RoleUpdate(ctx context.Context, id string, rec records.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}

	newID := rec.ID
	if newID == "" {
		newID = id
	}
	rec.ID = newID
	if rec.DomainID == "" {
		rec.DomainID = records.NullDomainID
	}
	delete(m.roles, id)
	m.roles[newID] = rec

	if newID != id {
		m.rewriteAssignments(func(a *records.Assignment) {
			if a.RoleID == id {
				a.RoleID = newID
			}
		})
	}
	return nil
}

func (m *MemStore) RoleDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	for key, a := range m.assignments {
		if a.RoleID == id {
			delete(m.assignments, key)
		}
	}
	return nil
}

// rewriteAssignments applies an in-place edit to every assignment,
// rekeying the map afterwards. Callers hold the lock.
func (m *MemStore) rewriteAssignments(edit func(*records.Assignment)) {
	rewritten := make(map[string]records.Assignment, len(m.assignments))
	for _, a := range m.assignments {
		edit(&a)
		rewritten[a.ID()] = a
	}
	m.assignments = rewritten
}

func (m *MemStore) AssignmentGetAll(ctx context.Context) ([]records.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	assignments := make([]records.Assignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		assignments = append(assignments, a)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].ID() < assignments[j].ID() })
	return assignments, nil
}

func (m *MemStore) AssignmentGet(ctx context.Context, targetID, actorID, roleID string) (*records.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := records.Assignment{TargetID: targetID, ActorID: actorID, RoleID: roleID}.ID()
	assignment, ok := m.assignments[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &assignment, nil
}

func (m *MemStore) AssignmentCreate(ctx context.Context, rec records.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[rec.ID()]; ok {
		return fmt.Errorf("assignment %s: %w", rec.ID(), ErrAlreadyExists)
	}
	m.assignments[rec.ID()] = rec
	return nil
}

func (m *MemStore) RevokeEventGetAll(ctx context.Context) ([]records.RevocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]records.RevocationEvent, len(m.revocations))
	copy(events, m.revocations)
	return events, nil
}

func (m *MemStore) RevokeEventGetByAudit(ctx context.Context, auditID string) (*records.RevocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.revocations {
		if e.AuditID == auditID {
			event := e
			return &event, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) RevokeEventGetByUser(ctx context.Context, userID, issuedBefore string) (*records.RevocationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.revocations {
		if e.UserID == userID && e.IssuedBefore == issuedBefore {
			event := e
			return &event, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) RevokeEventCreate(ctx context.Context, rec records.RevocationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRevokeID++
	rec.ID = m.nextRevokeID
	m.revocations = append(m.revocations, rec)
	return nil
}

func (m *MemStore) RevokeEventDeleteByAudit(ctx context.Context, auditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.revocations {
		if e.AuditID == auditID {
			m.revocations = append(m.revocations[:i], m.revocations[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemStore) RevokeEventDeleteByUser(ctx context.Context, userID, issuedBefore string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.revocations {
		if e.UserID == userID && e.IssuedBefore == issuedBefore {
			m.revocations = append(m.revocations[:i], m.revocations[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
