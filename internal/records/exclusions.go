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

package records

// Exclusions names the service-owned records the audit must leave
// alone. Each cloud provisions these itself; syncing them would
// clobber per-cloud credentials.
type Exclusions struct {
	users    map[string]bool
	projects map[string]bool
	roles    map[string]bool
}

// DefaultExclusions returns the stock exclusion set for one subcloud.
// The cinder service user carries the subcloud region in its name.
func DefaultExclusions(region string) Exclusions {
	return NewExclusions(
		[]string{"dbsync", "dcorch", "dcmanager", "heat_admin", "smapi", "fm", "cinder" + region},
		nil,
		[]string{"heat_stack_owner", "heat_stack_user", "ResellerAdmin"},
	)
}

// NewExclusions builds an exclusion set from explicit name lists.
func NewExclusions(users, projects, roles []string) Exclusions {
	return Exclusions{
		users:    nameSet(users),
		projects: nameSet(projects),
		roles:    nameSet(roles),
	}
}

// Extend returns a copy of the exclusion set with additional names
// merged in. Used for operator-supplied exclusions from the config
// file.
func (e Exclusions) Extend(users, projects, roles []string) Exclusions {
	merged := Exclusions{
		users:    make(map[string]bool, len(e.users)+len(users)),
		projects: make(map[string]bool, len(e.projects)+len(projects)),
		roles:    make(map[string]bool, len(e.roles)+len(roles)),
	}
	for name := range e.users {
		merged.users[name] = true
	}
	for name := range e.projects {
		merged.projects[name] = true
	}
	for name := range e.roles {
		merged.roles[name] = true
	}
	for _, name := range users {
		merged.users[name] = true
	}
	for _, name := range projects {
		merged.projects[name] = true
	}
	for _, name := range roles {
		merged.roles[name] = true
	}
	return merged
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// SkipUser reports whether a user of this name is excluded from sync.
func (e Exclusions) SkipUser(name string) bool { return e.users[name] }

// SkipProject reports whether a project of this name is excluded.
func (e Exclusions) SkipProject(name string) bool { return e.projects[name] }

// SkipRole reports whether a role of this name is excluded.
func (e Exclusions) SkipRole(name string) bool { return e.roles[name] }

// SkipAssignment reports whether an assignment is out of sync scope:
// anything not user-on-project, and any grant touching an excluded
// user, project or role.
func (e Exclusions) SkipAssignment(a ResolvedAssignment) bool {
	if a.Assignment.Type != AssignmentUserProject {
		return true
	}
	return e.SkipUser(a.Actor.Name) || e.SkipProject(a.Target.Name) || e.SkipRole(a.Role.Name)
}
