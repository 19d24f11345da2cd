package records

import (
	"testing"

	"github.com/tj/assert"
)

func TestAssignmentID(t *testing.T) {
	a := Assignment{Type: AssignmentUserProject, ActorID: "u-1", TargetID: "p-1", RoleID: "r-1"}
	assert.Equal(t, "p-1_u-1_r-1", a.ID())

	target, actor, role, err := ParseAssignmentID(a.ID())
	assert.NoError(t, err)
	assert.Equal(t, "p-1", target)
	assert.Equal(t, "u-1", actor)
	assert.Equal(t, "r-1", role)
}

func TestParseAssignmentIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "p-1", "p-1_u-1", "p-1_u-1_r-1_x", "__", "p-1__r-1"} {
		_, _, _, err := ParseAssignmentID(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestUserRevokeID(t *testing.T) {
	id := UserRevokeID("u-1", "2024-03-04T05:06:07")

	userID, issuedBefore, err := ParseUserRevokeID(id)
	assert.NoError(t, err)
	assert.Equal(t, "u-1", userID)
	assert.Equal(t, "2024-03-04T05:06:07", issuedBefore)
}

func TestParseUserRevokeIDRejectsMalformed(t *testing.T) {
	_, _, err := ParseUserRevokeID("not-base64!!")
	assert.Error(t, err)

	// Valid encoding, no separator inside.
	_, _, err = ParseUserRevokeID(UserRevokeID("u-1", "")[:4])
	assert.Error(t, err)
}

func TestRevocationEventMappingID(t *testing.T) {
	audited := RevocationEvent{UserID: "u-1", IssuedBefore: "2024-03-04T05:06:07", AuditID: "audit-1"}
	assert.Equal(t, "audit-1", audited.MappingID())

	byUser := RevocationEvent{UserID: "u-1", IssuedBefore: "2024-03-04T05:06:07"}
	assert.Equal(t, UserRevokeID("u-1", "2024-03-04T05:06:07"), byUser.MappingID())
}
