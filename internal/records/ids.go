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

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Assignments and revocation events have no natural single-column key,
// so the queue and the mapping store address them by synthetic IDs
// built here.

// ID returns the synthetic queue and mapping key for an assignment,
// composed from its target, actor and role IDs.
func (a Assignment) ID() string {
	return a.TargetID + "_" + a.ActorID + "_" + a.RoleID
}

// ParseAssignmentID splits a synthetic assignment ID back into its
// target, actor and role components.
func ParseAssignmentID(id string) (target, actor, role string, err error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed role assignment id %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}

// UserRevokeID returns the synthetic key for a revocation event that
// selects by user, encoding the pair so it survives URL path segments.
func UserRevokeID(userID, issuedBefore string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID + "_" + issuedBefore))
}

// ParseUserRevokeID decodes a synthetic user revocation key back into
// the user ID and issued-before timestamp.
func ParseUserRevokeID(id string) (userID, issuedBefore string, err error) {
	raw, decodeErr := base64.RawURLEncoding.DecodeString(id)
	if decodeErr != nil {
		return "", "", fmt.Errorf("malformed user revocation id %q: %w", id, decodeErr)
	}
	userID, issuedBefore, found := strings.Cut(string(raw), "_")
	if !found || userID == "" || issuedBefore == "" {
		return "", "", fmt.Errorf("malformed user revocation id %q", id)
	}
	return userID, issuedBefore, nil
}

// MappingID returns the key under which this event is tracked: the
// audit ID when the event carries one, otherwise the synthetic
// user/issued-before key.
func (e RevocationEvent) MappingID() string {
	if e.AuditID != "" {
		return e.AuditID
	}
	return UserRevokeID(e.UserID, e.IssuedBefore)
}
