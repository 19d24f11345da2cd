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

// Package records defines the identity and platform records replicated
// from the system controller to subclouds, along with the comparison
// rules the audit uses to decide whether two clouds agree.
package records

// EndpointType names a class of subcloud endpoint served by its own
// sync thread.
type EndpointType string

const (
	EndpointIdentity EndpointType = "identity"
	EndpointPlatform EndpointType = "platform"
)

// ResourceType names a replicated record class within an endpoint.
type ResourceType string

const (
	ResourceUsers            ResourceType = "users"
	ResourceProjects         ResourceType = "projects"
	ResourceRoles            ResourceType = "roles"
	ResourceAssignments      ResourceType = "role_assignments"
	ResourceRevokeEvents     ResourceType = "revoke_events"
	ResourceUserRevokeEvents ResourceType = "revoke_events_for_user"
	ResourceFernetRepo       ResourceType = "fernet_repo"
)

// Operation is the verb carried by a queued sync request.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationPatch  Operation = "patch"
	OperationDelete Operation = "delete"
)

// NullDomainID is the sentinel keystone stores in place of a NULL
// domain reference on domain-agnostic roles.
const NullDomainID = "<<null>>"

// Password is one hashed credential row belonging to a local user.
// Row identifiers are local to each cloud and never compared.
type Password struct {
	ID           int    `json:"id,omitempty"`
	LocalUserID  int    `json:"local_user_id,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	SelfService  bool   `json:"self_service"`
	CreatedAt    string `json:"created_at,omitempty"`
	CreatedAtInt int64  `json:"created_at_int,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	ExpiresAtInt int64  `json:"expires_at_int,omitempty"`
}

// LocalUser carries the name and authentication bookkeeping for a user,
// including the password history. ID and UserID are local plumbing.
type LocalUser struct {
	ID              int        `json:"id,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	DomainID        string     `json:"domain_id"`
	Name            string     `json:"name"`
	FailedAuthCount int        `json:"failed_auth_count"`
	FailedAuthAt    string     `json:"failed_auth_at,omitempty"`
	Passwords       []Password `json:"passwords,omitempty"`
}

// User is a keystone user consolidated with its local user and password
// rows, the unit of replication for the users resource. Name mirrors
// LocalUser.Name for convenience and is not compared.
type User struct {
	ID               string         `json:"id"`
	Name             string         `json:"name,omitempty"`
	DomainID         string         `json:"domain_id"`
	DefaultProjectID string         `json:"default_project_id,omitempty"`
	Enabled          bool           `json:"enabled"`
	Extra            map[string]any `json:"extra,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
	LastActiveAt     string         `json:"last_active_at,omitempty"`
	LocalUser        LocalUser      `json:"local_user"`
}

// Project is a keystone project or domain record.
type Project struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DomainID    string         `json:"domain_id"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	ParentID    string         `json:"parent_id,omitempty"`
	IsDomain    bool           `json:"is_domain"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Role is a keystone role record. DomainID holds NullDomainID for
// roles that are not domain scoped.
type Role struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	DomainID string         `json:"domain_id,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// AssignmentType is the keystone role assignment scope enum.
type AssignmentType string

const (
	AssignmentUserProject  AssignmentType = "UserProject"
	AssignmentGroupProject AssignmentType = "GroupProject"
	AssignmentUserDomain   AssignmentType = "UserDomain"
	AssignmentGroupDomain  AssignmentType = "GroupDomain"
)

// Assignment grants a role to an actor on a target. The IDs are local
// to the cloud that produced the record; cross-cloud comparison goes
// through ResolvedAssignment.
type Assignment struct {
	Type      AssignmentType `json:"type"`
	ActorID   string         `json:"actor_id"`
	TargetID  string         `json:"target_id"`
	RoleID    string         `json:"role_id"`
	Inherited bool           `json:"inherited"`
}

// NameRef identifies a referenced record by name within a domain, the
// form that survives ID divergence between clouds.
type NameRef struct {
	Name     string
	DomainID string
}

// ResolvedAssignment is an Assignment whose actor, target and role IDs
// have been resolved to name references against the records of the
// cloud it came from. Assignments whose references cannot be resolved
// are dropped before comparison.
type ResolvedAssignment struct {
	Assignment Assignment
	Actor      NameRef
	Target     NameRef
	Role       NameRef
}

// RevocationEvent is one token revocation record. ID is the local
// autoincrement and never compared; IssuedBefore and the subject
// selectors define the event.
type RevocationEvent struct {
	ID            int64  `json:"id,omitempty"`
	DomainID      string `json:"domain_id,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	RoleID        string `json:"role_id,omitempty"`
	TrustID       string `json:"trust_id,omitempty"`
	ConsumerID    string `json:"consumer_id,omitempty"`
	AccessTokenID string `json:"access_token_id,omitempty"`
	IssuedBefore  string `json:"issued_before"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	RevokedAt     string `json:"revoked_at,omitempty"`
	AuditID       string `json:"audit_id,omitempty"`
	AuditChainID  string `json:"audit_chain_id,omitempty"`
}

// FernetKey is one key of a fernet repository, identified by its
// rotation index.
type FernetKey struct {
	ID  int    `json:"id"`
	Key string `json:"key"`
}

// KeyRepo is the full fernet key repository distributed from the
// system controller to every subcloud.
type KeyRepo struct {
	Keys []FernetKey `json:"keys"`
}
