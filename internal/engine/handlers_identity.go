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

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/records"
)

// adminUserName is the account whose credential changes invalidate the
// session the engine itself authenticates with.
const adminUserName = "admin"

func (t *SyncThread) handleIdentity(ctx context.Context, work *database.Work) error {
	switch work.ResourceType {
	case records.ResourceUsers:
		return t.syncUser(ctx, work)
	case records.ResourceProjects:
		return t.syncProject(ctx, work)
	case records.ResourceRoles:
		return t.syncRole(ctx, work)
	case records.ResourceAssignments:
		return t.syncAssignment(ctx, work)
	case records.ResourceRevokeEvents:
		return t.syncRevokeEvent(ctx, work)
	case records.ResourceUserRevokeEvents:
		return t.syncUserRevokeEvent(ctx, work)
	default:
		return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "handleIdentity",
			Message: "no handler for resource type " + string(work.ResourceType)}
	}
}

// decodeInfo unmarshals the record captured when the work was
// enqueued. Failure is a fatal disposition: the payload will not
// improve on retry.
func decodeInfo[T any](work *database.Work) (T, error) {
	var v T
	if err := json.Unmarshal(work.ResourceInfo, &v); err != nil {
		return v, &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "decodeInfo",
			Message: fmt.Sprintf("resource info for %s %q: %s", work.ResourceType, work.MasterID, err)}
	}
	return v, nil
}

// mappedID resolves the subcloud-local ID of a master resource,
// defaulting to the master ID when no mapping exists yet.
func (t *SyncThread) mappedID(ctx context.Context, resourceType records.ResourceType, masterID string) string {
	mapping, err := t.store.GetMapping(ctx, resourceType, masterID, t.region)
	if err != nil {
		return masterID
	}
	return mapping.SubcloudResourceID
}

// updateTargetID resolves where an update lands on the subcloud: the
// persisted mapping when one exists, otherwise the id carried in the
// enqueue-time payload.
func (t *SyncThread) updateTargetID(ctx context.Context, work *database.Work) string {
	mapping, err := t.store.GetMapping(ctx, work.ResourceType, work.MasterID, t.region)
	if err == nil {
		return mapping.SubcloudResourceID
	}
	var hint struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(work.ResourceInfo, &hint); err == nil && hint.ID != "" {
		return hint.ID
	}
	return work.MasterID
}

func (t *SyncThread) mapResource(ctx context.Context, work *database.Work, subcloudID string) error {
	return t.store.EnsureMapping(ctx, work.ResourceType, work.MasterID, t.region, subcloudID)
}

func (t *SyncThread) unmapResource(ctx context.Context, work *database.Work) error {
	return t.store.DeleteMapping(ctx, work.ResourceType, work.MasterID, t.region)
}

func (t *SyncThread) syncUser(ctx context.Context, work *database.Work) error {
	client := t.factory.SubcloudDBSync(t.region, t.managementIP)

	switch work.Operation {
	case records.OperationCreate:
		// The enqueue-time snapshot may be stale by the time the item is
		// claimed; push what the master holds now.
		user, err := t.factory.MasterDBSync().GetUser(ctx, work.MasterID)
		if err != nil {
			return err
		}
		created, err := client.CreateUser(ctx, *user)
		if dbsync.IsKind(err, dbsync.KindConflict) {
			// Already present under its original ID: adopt it.
			return t.mapResource(ctx, work, work.MasterID)
		}
		if err != nil {
			return err
		}
		return t.mapResource(ctx, work, created.ID)

	case records.OperationUpdate:
		user, err := t.factory.MasterDBSync().GetUser(ctx, work.MasterID)
		if err != nil {
			return err
		}
		subID := t.updateTargetID(ctx, work)
		if _, err := client.UpdateUser(ctx, subID, *user); err != nil {
			return err
		}
		if err := t.mapResource(ctx, work, subID); err != nil {
			return err
		}
		// Rewriting the admin account invalidates the very session this
		// thread authenticates with.
		if user.LocalUser.Name == adminUserName {
			t.factory.InvalidateSessions(t.region)
		}
		return nil

	case records.OperationPatch:
		fields, err := decodeInfo[map[string]any](work)
		if err != nil {
			return err
		}
		identity := t.factory.SubcloudIdentity(t.region, t.managementIP)
		subID := t.mappedID(ctx, work.ResourceType, work.MasterID)
		return identity.PatchUser(ctx, subID, fields)

	case records.OperationDelete:
		subID := t.mappedID(ctx, work.ResourceType, work.MasterID)
		if err := client.DeleteUser(ctx, subID); err != nil {
			return err
		}
		return t.unmapResource(ctx, work)
	}

	return unknownOperation(work)
}

func (t *SyncThread) syncProject(ctx context.Context, work *database.Work) error {
	client := t.factory.SubcloudDBSync(t.region, t.managementIP)

	switch work.Operation {
	case records.OperationCreate:
		project, err := t.factory.MasterDBSync().GetProject(ctx, work.MasterID)
		if err != nil {
			return err
		}
		created, err := client.CreateProject(ctx, *project)
		if dbsync.IsKind(err, dbsync.KindConflict) {
			return t.mapResource(ctx, work, work.MasterID)
		}
		if err != nil {
			return err
		}
		return t.mapResource(ctx, work, created.ID)

	case records.OperationUpdate, records.OperationPatch:
		project, err := t.factory.MasterDBSync().GetProject(ctx, work.MasterID)
		if err != nil {
			return err
		}
		subID := t.updateTargetID(ctx, work)
		if _, err := client.UpdateProject(ctx, subID, *project); err != nil {
			return err
		}
		return t.mapResource(ctx, work, subID)

	case records.OperationDelete:
		subID := t.mappedID(ctx, work.ResourceType, work.MasterID)
		if err := client.DeleteProject(ctx, subID); err != nil {
			return err
		}
		return t.unmapResource(ctx, work)
	}

	return unknownOperation(work)
}

func (t *SyncThread) syncRole(ctx context.Context, work *database.Work) error {
	client := t.factory.SubcloudDBSync(t.region, t.managementIP)

	switch work.Operation {
	case records.OperationCreate:
		role, err := t.factory.MasterDBSync().GetRole(ctx, work.MasterID)
		if err != nil {
			return err
		}
		created, err := client.CreateRole(ctx, *role)
		if dbsync.IsKind(err, dbsync.KindConflict) {
			return t.mapResource(ctx, work, work.MasterID)
		}
		if err != nil {
			return err
		}
		return t.mapResource(ctx, work, created.ID)

	case records.OperationUpdate, records.OperationPatch:
		role, err := t.factory.MasterDBSync().GetRole(ctx, work.MasterID)
		if err != nil {
			return err
		}
		subID := t.updateTargetID(ctx, work)
		if _, err := client.UpdateRole(ctx, subID, *role); err != nil {
			return err
		}
		return t.mapResource(ctx, work, subID)

	case records.OperationDelete:
		subID := t.mappedID(ctx, work.ResourceType, work.MasterID)
		if err := client.DeleteRole(ctx, subID); err != nil {
			return err
		}
		return t.unmapResource(ctx, work)
	}

	return unknownOperation(work)
}

// syncAssignment applies a role assignment by resolving its resolved
// name references against the subcloud, so it lands on the subcloud's
// own records whatever their IDs are.
func (t *SyncThread) syncAssignment(ctx context.Context, work *database.Work) error {
	switch work.Operation {
	case records.OperationCreate:
		resolved, err := decodeInfo[records.ResolvedAssignment](work)
		if err != nil {
			return err
		}

		identity := t.factory.SubcloudIdentity(t.region, t.managementIP)
		actor, err := identity.FindUserByName(ctx, resolved.Actor.Name, resolved.Actor.DomainID)
		if err != nil {
			return err
		}
		target, err := identity.FindProjectByName(ctx, resolved.Target.Name, resolved.Target.DomainID)
		if err != nil {
			return err
		}
		role, err := identity.FindRoleByName(ctx, resolved.Role.Name)
		if err != nil {
			return err
		}

		if err := identity.GrantProjectRole(ctx, target.ID, actor.ID, role.ID); err != nil {
			return err
		}

		// Read the grant back through the replication protocol before
		// recording it as synced.
		subRef := records.Assignment{TargetID: target.ID, ActorID: actor.ID, RoleID: role.ID}.ID()
		client := t.factory.SubcloudDBSync(t.region, t.managementIP)
		if _, err := client.GetAssignment(ctx, subRef); err != nil {
			return err
		}
		return t.mapResource(ctx, work, subRef)

	case records.OperationUpdate, records.OperationPatch:
		// A grant has no mutable state; an update request is satisfied
		// by its existence.
		return nil

	case records.OperationDelete:
		mapping, err := t.store.GetMapping(ctx, work.ResourceType, work.MasterID, t.region)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		target, actor, role, err := records.ParseAssignmentID(mapping.SubcloudResourceID)
		if err != nil {
			return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "syncAssignment", Message: err.Error()}
		}

		identity := t.factory.SubcloudIdentity(t.region, t.managementIP)
		revokeErr := identity.RevokeProjectRole(ctx, target, actor, role)
		if revokeErr != nil && !dbsync.IsKind(revokeErr, dbsync.KindNotFound) {
			return revokeErr
		}
		return t.unmapResource(ctx, work)
	}

	return unknownOperation(work)
}

func (t *SyncThread) syncRevokeEvent(ctx context.Context, work *database.Work) error {
	client := t.factory.SubcloudDBSync(t.region, t.managementIP)

	switch work.Operation {
	case records.OperationCreate:
		event, err := t.factory.MasterDBSync().GetRevokeEvent(ctx, work.MasterID)
		if err != nil {
			return err
		}
		if _, err := client.CreateRevokeEvent(ctx, *event); err != nil && !dbsync.IsKind(err, dbsync.KindConflict) {
			return err
		}
		return t.mapResource(ctx, work, work.MasterID)

	case records.OperationDelete:
		if err := client.DeleteRevokeEvent(ctx, work.MasterID); err != nil {
			return err
		}
		return t.unmapResource(ctx, work)
	}

	return unknownOperation(work)
}

func (t *SyncThread) syncUserRevokeEvent(ctx context.Context, work *database.Work) error {
	client := t.factory.SubcloudDBSync(t.region, t.managementIP)

	userID, issuedBefore, err := records.ParseUserRevokeID(work.MasterID)
	if err != nil {
		return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "syncUserRevokeEvent", Message: err.Error()}
	}

	switch work.Operation {
	case records.OperationCreate:
		event, eventErr := t.factory.MasterDBSync().GetUserRevokeEvent(ctx, userID, issuedBefore)
		if eventErr != nil {
			return eventErr
		}
		if _, err := client.CreateRevokeEvent(ctx, *event); err != nil && !dbsync.IsKind(err, dbsync.KindConflict) {
			return err
		}
		return t.mapResource(ctx, work, work.MasterID)

	case records.OperationDelete:
		if err := client.DeleteUserRevokeEvent(ctx, userID, issuedBefore); err != nil {
			return err
		}
		return t.unmapResource(ctx, work)
	}

	return unknownOperation(work)
}

func unknownOperation(work *database.Work) error {
	return &dbsync.Error{Kind: dbsync.KindBadRequest, Op: "dispatch",
		Message: fmt.Sprintf("no handler for %s on %s", work.Operation, work.ResourceType)}
}
