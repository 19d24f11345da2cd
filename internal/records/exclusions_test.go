package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultExclusions(t *testing.T) {
	e := DefaultExclusions("subcloud1")

	for _, name := range []string{"dbsync", "dcorch", "dcmanager", "heat_admin", "smapi", "fm", "cindersubcloud1"} {
		assert.True(t, e.SkipUser(name), "user %q", name)
	}
	assert.False(t, e.SkipUser("alice"))
	assert.False(t, e.SkipUser("cinderothercloud"))

	assert.True(t, e.SkipRole("heat_stack_owner"))
	assert.True(t, e.SkipRole("ResellerAdmin"))
	assert.False(t, e.SkipRole("operator"))

	assert.False(t, e.SkipProject("tenant1"))
}

func TestExtendExclusions(t *testing.T) {
	e := DefaultExclusions("subcloud1").Extend(
		[]string{"svc-backup"}, []string{"infra"}, []string{"auditor"})

	assert.True(t, e.SkipUser("svc-backup"))
	assert.True(t, e.SkipProject("infra"))
	assert.True(t, e.SkipRole("auditor"))

	// Stock names survive the merge.
	assert.True(t, e.SkipUser("dbsync"))
	assert.True(t, e.SkipRole("heat_stack_owner"))

	// The original set is not mutated.
	stock := DefaultExclusions("subcloud1")
	assert.False(t, stock.SkipUser("svc-backup"))
}

func TestSkipAssignment(t *testing.T) {
	e := DefaultExclusions("subcloud1")

	grant := ResolvedAssignment{
		Assignment: Assignment{Type: AssignmentUserProject, ActorID: "u-1", TargetID: "p-1", RoleID: "r-1"},
		Actor:      NameRef{Name: "alice", DomainID: "default"},
		Target:     NameRef{Name: "tenant1", DomainID: "default"},
		Role:       NameRef{Name: "operator", DomainID: NullDomainID},
	}
	assert.False(t, e.SkipAssignment(grant))

	domainScoped := grant
	domainScoped.Assignment.Type = AssignmentUserDomain
	assert.True(t, e.SkipAssignment(domainScoped))

	serviceActor := grant
	serviceActor.Actor.Name = "dbsync"
	assert.True(t, e.SkipAssignment(serviceActor))

	excludedRole := grant
	excludedRole.Role.Name = "heat_stack_owner"
	assert.True(t, e.SkipAssignment(excludedRole))
}
