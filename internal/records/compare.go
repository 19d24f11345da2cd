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

import "reflect"

// The audit compares records in two stages. SameIdentity decides
// whether a master record and a subcloud record describe the same
// thing; Equivalent then decides whether the subcloud copy needs an
// update. Equivalent never looks at record IDs or row plumbing, so a
// record adopted under a different subcloud ID still compares clean.

// SameIdentity reports whether u and o name the same user, either by
// matching (name, domain) or by matching ID.
func (u User) SameIdentity(o User) bool {
	if u.LocalUser.Name == o.LocalUser.Name && u.DomainID == o.DomainID {
		return true
	}
	return u.ID != "" && u.ID == o.ID
}

// Equivalent reports whether o carries the same user state as u,
// including the password history as an unordered set of hashes.
func (u User) Equivalent(o User) bool {
	return u.DomainID == o.DomainID &&
		u.DefaultProjectID == o.DefaultProjectID &&
		u.Enabled == o.Enabled &&
		u.CreatedAt == o.CreatedAt &&
		u.LastActiveAt == o.LastActiveAt &&
		equalExtra(u.Extra, o.Extra) &&
		u.LocalUser.DomainID == o.LocalUser.DomainID &&
		u.LocalUser.Name == o.LocalUser.Name &&
		u.LocalUser.FailedAuthCount == o.LocalUser.FailedAuthCount &&
		u.LocalUser.FailedAuthAt == o.LocalUser.FailedAuthAt &&
		samePasswordHashes(u.LocalUser.Passwords, o.LocalUser.Passwords)
}

// SameIdentity reports whether p and o name the same project, either
// by matching (name, domain) or by matching ID.
func (p Project) SameIdentity(o Project) bool {
	if p.Name == o.Name && p.DomainID == o.DomainID {
		return true
	}
	return p.ID != "" && p.ID == o.ID
}

// Equivalent reports whether o carries the same project state as p.
func (p Project) Equivalent(o Project) bool {
	return p.Name == o.Name &&
		p.DomainID == o.DomainID &&
		p.Description == o.Description &&
		p.Enabled == o.Enabled &&
		p.ParentID == o.ParentID &&
		p.IsDomain == o.IsDomain &&
		equalExtra(p.Extra, o.Extra)
}

// SameIdentity reports whether r and o name the same role, either by
// matching (name, domain) or by matching ID.
func (r Role) SameIdentity(o Role) bool {
	if r.Name == o.Name && r.DomainID == o.DomainID {
		return true
	}
	return r.ID != "" && r.ID == o.ID
}

// Equivalent reports whether o carries the same role state as r.
func (r Role) Equivalent(o Role) bool {
	return r.Name == o.Name &&
		r.DomainID == o.DomainID &&
		equalExtra(r.Extra, o.Extra)
}

// SameIdentity reports whether a and o grant the same role to the same
// actor on the same target, compared by resolved name references.
func (a ResolvedAssignment) SameIdentity(o ResolvedAssignment) bool {
	return a.Actor == o.Actor && a.Target == o.Target && a.Role == o.Role
}

// Equivalent is identical to SameIdentity for assignments; a grant has
// no mutable state beyond its triple.
func (a ResolvedAssignment) Equivalent(o ResolvedAssignment) bool {
	return a.SameIdentity(o)
}

// SameIdentity reports whether e and o describe the same revocation,
// comparing every column except the local row ID.
func (e RevocationEvent) SameIdentity(o RevocationEvent) bool {
	e.ID, o.ID = 0, 0
	return e == o
}

// Equivalent is identical to SameIdentity for revocation events; they
// are immutable once written.
func (e RevocationEvent) Equivalent(o RevocationEvent) bool {
	return e.SameIdentity(o)
}

// Equivalent reports whether o holds the same keys as k at the same
// rotation indexes.
func (k KeyRepo) Equivalent(o KeyRepo) bool {
	if len(k.Keys) != len(o.Keys) {
		return false
	}
	keys := make(map[int]string, len(k.Keys))
	for _, key := range k.Keys {
		keys[key.ID] = key.Key
	}
	for _, key := range o.Keys {
		if keys[key.ID] != key.Key {
			return false
		}
	}
	return true
}

func equalExtra(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// samePasswordHashes compares password histories as multisets of
// hashes. Row metadata differs between clouds and is ignored.
func samePasswordHashes(a, b []Password) bool {
	if len(a) != len(b) {
		return false
	}
	remaining := make(map[string]int, len(b))
	for _, p := range b {
		remaining[p.PasswordHash]++
	}
	for _, p := range a {
		if remaining[p.PasswordHash] == 0 {
			return false
		}
		remaining[p.PasswordHash]--
	}
	return true
}
