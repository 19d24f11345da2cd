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
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/Azure/DCS-IdentitySync/internal/database"
	"github.com/Azure/DCS-IdentitySync/internal/dbsync"
	"github.com/Azure/DCS-IdentitySync/internal/records"
	"github.com/Azure/DCS-IdentitySync/internal/tracing"
)

// Auditor compares the master's identity records against one
// subcloud's and enqueues the operations that would reconcile them.
// The audit never writes to the subcloud itself; every finding rides
// the same durable queue that live sync requests use.
type Auditor struct {
	logger       *slog.Logger
	store        database.Store
	factory      ClientFactory
	region       string
	managementIP string
	exclusions   records.Exclusions
}

// NewAuditor builds the auditor for one subcloud.
func NewAuditor(logger *slog.Logger, store database.Store, factory ClientFactory, subcloud *database.Subcloud) *Auditor {
	return &Auditor{
		logger:       logger.With("region", subcloud.Region),
		store:        store,
		factory:      factory,
		region:       subcloud.Region,
		managementIP: subcloud.ManagementIP,
		exclusions:   records.DefaultExclusions(subcloud.Region),
	}
}

// ExtendExclusions merges operator-supplied exclusion names into the
// stock set. Called before the first audit pass.
func (a *Auditor) ExtendExclusions(users, projects, roles []string) {
	a.exclusions = a.exclusions.Extend(users, projects, roles)
}

// Run performs one full audit pass over every identity resource type,
// in dependency order so that referenced records are queued before the
// records that need them. Returns the number of findings enqueued.
// An unreachable subcloud aborts the pass; a partial audit would
// produce misleading deletions.
func (a *Auditor) Run(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		auditDuration.WithLabelValues(a.region).Observe(time.Since(start).Seconds())
	}()

	ctx, span := startRootSpan(ctx, "Auditor.Run")
	defer span.End()
	span.SetAttributes(tracing.RegionKey.String(a.region))

	master := a.factory.MasterDBSync()
	sub := a.factory.SubcloudDBSync(a.region, a.managementIP)

	masterUsers, err := master.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	subUsers, err := sub.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	findings, err := auditResources(ctx, a, resourceAudit[records.User]{
		resourceType: records.ResourceUsers,
		master:       masterUsers,
		sub:          subUsers,
		id:           func(u records.User) string { return u.ID },
		excluded:     func(u records.User) bool { return a.exclusions.SkipUser(u.LocalUser.Name) },
		same:         records.User.SameIdentity,
		equivalent:   records.User.Equivalent,
	})
	if err != nil {
		return findings, err
	}

	masterProjects, err := master.ListProjects(ctx)
	if err != nil {
		return findings, err
	}
	subProjects, err := sub.ListProjects(ctx)
	if err != nil {
		return findings, err
	}

	n, err := auditResources(ctx, a, resourceAudit[records.Project]{
		resourceType: records.ResourceProjects,
		master:       masterProjects,
		sub:          subProjects,
		id:           func(p records.Project) string { return p.ID },
		excluded:     func(p records.Project) bool { return a.exclusions.SkipProject(p.Name) },
		same:         records.Project.SameIdentity,
		equivalent:   records.Project.Equivalent,
	})
	findings += n
	if err != nil {
		return findings, err
	}

	masterRoles, err := master.ListRoles(ctx)
	if err != nil {
		return findings, err
	}
	subRoles, err := sub.ListRoles(ctx)
	if err != nil {
		return findings, err
	}

	n, err = auditResources(ctx, a, resourceAudit[records.Role]{
		resourceType: records.ResourceRoles,
		master:       masterRoles,
		sub:          subRoles,
		id:           func(r records.Role) string { return r.ID },
		excluded:     func(r records.Role) bool { return a.exclusions.SkipRole(r.Name) },
		same:         records.Role.SameIdentity,
		equivalent:   records.Role.Equivalent,
	})
	findings += n
	if err != nil {
		return findings, err
	}

	n, err = a.auditAssignments(ctx, master, sub,
		masterUsers, masterProjects, masterRoles,
		subUsers, subProjects, subRoles)
	findings += n
	if err != nil {
		return findings, err
	}

	n, err = a.auditRevocations(ctx, master, sub)
	findings += n
	if err != nil {
		return findings, err
	}

	auditRunsCount.Inc()
	return findings, nil
}

// resourceAudit parameterizes one resource type's comparison pass.
type resourceAudit[T any] struct {
	resourceType records.ResourceType
	master, sub  []T
	id           func(T) string
	excluded     func(T) bool
	same         func(T, T) bool
	equivalent   func(T, T) bool
}

// auditResources runs the two-stage comparison for one resource type.
// Stage one matches identities to find records to create or adopt;
// stage two compares matched pairs to find records to update. Mappings
// whose master record is gone become deletions.
func auditResources[T any](ctx context.Context, a *Auditor, spec resourceAudit[T]) (int, error) {
	// An empty master list is indistinguishable from a master that has
	// not finished loading; never act on it.
	if len(spec.master) == 0 {
		a.logger.Info("audit skipping resource type with empty master list",
			"resource_type", string(spec.resourceType))
		return 0, nil
	}

	findings := 0
	for _, m := range spec.master {
		if spec.excluded(m) {
			continue
		}
		masterID := spec.id(m)

		// A resource with undelivered work is mid-flight; auditing it
		// now would double up the queue.
		pending, err := a.store.ResourceHasPendingWork(ctx, a.region, records.EndpointIdentity, spec.resourceType, masterID)
		if err != nil {
			return findings, err
		}
		if pending {
			continue
		}

		match, found := lo.Find(spec.sub, func(s T) bool { return spec.same(m, s) })
		if !found {
			if err := a.enqueue(ctx, spec.resourceType, masterID, records.OperationCreate, m, findingCreate); err != nil {
				return findings, err
			}
			findings++
			continue
		}

		if err := a.adopt(ctx, spec.resourceType, masterID, spec.id(match)); err != nil {
			return findings, err
		}

		if !spec.equivalent(m, match) {
			if err := a.enqueue(ctx, spec.resourceType, masterID, records.OperationUpdate, m, findingUpdate); err != nil {
				return findings, err
			}
			findings++
		}
	}

	n, err := a.auditStaleMappings(ctx, spec.resourceType,
		lo.SliceToMap(spec.master, func(m T) (string, struct{}) { return spec.id(m), struct{}{} }))
	return findings + n, err
}

// auditAssignments compares role assignments by resolved name
// references, the only form that survives ID divergence between
// clouds. Assignments whose references cannot be resolved on their own
// cloud are dropped from the comparison.
func (a *Auditor) auditAssignments(ctx context.Context, master, sub dbsync.ClientSpec,
	masterUsers []records.User, masterProjects []records.Project, masterRoles []records.Role,
	subUsers []records.User, subProjects []records.Project, subRoles []records.Role) (int, error) {

	masterAssignments, err := master.ListAssignments(ctx)
	if err != nil {
		return 0, err
	}
	subAssignments, err := sub.ListAssignments(ctx)
	if err != nil {
		return 0, err
	}

	masterResolved := resolveAssignments(masterAssignments, masterUsers, masterProjects, masterRoles)
	subResolved := resolveAssignments(subAssignments, subUsers, subProjects, subRoles)

	return auditResources(ctx, a, resourceAudit[records.ResolvedAssignment]{
		resourceType: records.ResourceAssignments,
		master:       masterResolved,
		sub:          subResolved,
		id:           func(r records.ResolvedAssignment) string { return r.Assignment.ID() },
		excluded:     a.exclusions.SkipAssignment,
		same:         records.ResolvedAssignment.SameIdentity,
		equivalent:   records.ResolvedAssignment.Equivalent,
	})
}

// resolveAssignments translates assignment ID triples into name
// references against the record lists of the cloud they came from.
func resolveAssignments(assignments []records.Assignment, users []records.User, projects []records.Project, roles []records.Role) []records.ResolvedAssignment {
	userByID := lo.KeyBy(users, func(u records.User) string { return u.ID })
	projectByID := lo.KeyBy(projects, func(p records.Project) string { return p.ID })
	roleByID := lo.KeyBy(roles, func(r records.Role) string { return r.ID })

	resolved := make([]records.ResolvedAssignment, 0, len(assignments))
	for _, assignment := range assignments {
		user, okU := userByID[assignment.ActorID]
		project, okP := projectByID[assignment.TargetID]
		role, okR := roleByID[assignment.RoleID]
		if !okU || !okP || !okR {
			continue
		}
		resolved = append(resolved, records.ResolvedAssignment{
			Assignment: assignment,
			Actor:      records.NameRef{Name: user.LocalUser.Name, DomainID: user.DomainID},
			Target:     records.NameRef{Name: project.Name, DomainID: project.DomainID},
			Role:       records.NameRef{Name: role.Name, DomainID: role.DomainID},
		})
	}
	return resolved
}

// auditRevocations compares token revocation events, split into
// audit-ID-scoped and user-scoped forms because the two travel under
// different synthetic keys.
func (a *Auditor) auditRevocations(ctx context.Context, master, sub dbsync.ClientSpec) (int, error) {
	masterEvents, err := master.ListRevokeEvents(ctx)
	if err != nil {
		return 0, err
	}
	subEvents, err := sub.ListRevokeEvents(ctx)
	if err != nil {
		return 0, err
	}

	byAudit := func(e records.RevocationEvent) bool { return e.AuditID != "" }
	userScoped := func(e records.RevocationEvent) bool { return e.AuditID == "" && e.UserID != "" }

	findings, err := auditResources(ctx, a, resourceAudit[records.RevocationEvent]{
		resourceType: records.ResourceRevokeEvents,
		master:       lo.Filter(masterEvents, func(e records.RevocationEvent, _ int) bool { return byAudit(e) }),
		sub:          lo.Filter(subEvents, func(e records.RevocationEvent, _ int) bool { return byAudit(e) }),
		id:           func(e records.RevocationEvent) string { return e.AuditID },
		excluded:     func(records.RevocationEvent) bool { return false },
		same:         records.RevocationEvent.SameIdentity,
		equivalent:   records.RevocationEvent.Equivalent,
	})
	if err != nil {
		return findings, err
	}

	n, err := auditResources(ctx, a, resourceAudit[records.RevocationEvent]{
		resourceType: records.ResourceUserRevokeEvents,
		master:       lo.Filter(masterEvents, func(e records.RevocationEvent, _ int) bool { return userScoped(e) }),
		sub:          lo.Filter(subEvents, func(e records.RevocationEvent, _ int) bool { return userScoped(e) }),
		id:           func(e records.RevocationEvent) string { return records.UserRevokeID(e.UserID, e.IssuedBefore) },
		excluded:     func(records.RevocationEvent) bool { return false },
		same:         records.RevocationEvent.SameIdentity,
		equivalent:   records.RevocationEvent.Equivalent,
	})
	return findings + n, err
}

// auditStaleMappings enqueues deletions for records the engine once
// delivered to this subcloud whose master copy no longer exists.
func (a *Auditor) auditStaleMappings(ctx context.Context, resourceType records.ResourceType, masterIDs map[string]struct{}) (int, error) {
	mappings, err := a.store.ListMappings(ctx, a.region, resourceType)
	if err != nil {
		return 0, err
	}

	findings := 0
	for _, mapping := range mappings {
		if _, ok := masterIDs[mapping.MasterID]; ok {
			continue
		}
		pending, err := a.store.ResourceHasPendingWork(ctx, a.region, records.EndpointIdentity, resourceType, mapping.MasterID)
		if err != nil {
			return findings, err
		}
		if pending {
			continue
		}
		if err := a.enqueue(ctx, resourceType, mapping.MasterID, records.OperationDelete, nil, findingDelete); err != nil {
			return findings, err
		}
		findings++
	}
	return findings, nil
}

// adopt records that a master resource already exists on the subcloud
// under its own local ID. Only a first-time adoption counts as a
// finding.
func (a *Auditor) adopt(ctx context.Context, resourceType records.ResourceType, masterID, subcloudID string) error {
	mapping, err := a.store.GetMapping(ctx, resourceType, masterID, a.region)
	if err == nil {
		if mapping.SubcloudResourceID == subcloudID {
			return nil
		}
		return a.store.EnsureMapping(ctx, resourceType, masterID, a.region, subcloudID)
	}
	if !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if err := a.store.EnsureMapping(ctx, resourceType, masterID, a.region, subcloudID); err != nil {
		return err
	}
	auditFindingsCount.WithLabelValues(a.region, string(resourceType), findingAdopt).Inc()
	a.logger.Info("audit adopted existing resource",
		"resource_type", string(resourceType),
		"master_id", masterID,
		"subcloud_id", subcloudID)
	return nil
}

func (a *Auditor) enqueue(ctx context.Context, resourceType records.ResourceType, masterID string, operation records.Operation, payload any, finding string) error {
	var info []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		info = encoded
	}
	if err := a.store.EnqueueWork(ctx, []string{a.region}, records.EndpointIdentity, resourceType, masterID, operation, info); err != nil {
		return err
	}
	auditFindingsCount.WithLabelValues(a.region, string(resourceType), finding).Inc()
	a.logger.Info("audit finding",
		"resource_type", string(resourceType),
		"master_id", masterID,
		"operation", string(operation),
		"finding", finding)
	return nil
}
