package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, s := range []string{"admin", "clinician", "org_staff"} {
		role, err := ParseRole(s)
		require.NoError(t, err)
		assert.Equal(t, Role(s), role)
	}

	_, err := ParseRole("superuser")
	assert.Error(t, err)
	_, err = ParseRole("")
	assert.Error(t, err)
}

func TestRolePermissions(t *testing.T) {
	assert.True(t, Actor{Role: RoleAdmin}.CanTransition())
	assert.True(t, Actor{Role: RoleAdmin}.CanReverse())

	assert.True(t, Actor{Role: RoleClinician}.CanTransition())
	assert.False(t, Actor{Role: RoleClinician}.CanReverse())

	assert.False(t, Actor{Role: RoleOrgStaff}.CanTransition())
	assert.False(t, Actor{Role: RoleOrgStaff}.CanReverse())

	assert.False(t, Actor{}.CanTransition(), "zero actor has no permissions")
}

func TestActorContextRoundTrip(t *testing.T) {
	actor := Actor{ID: "u-1", Role: RoleClinician, OrgID: "org-1"}
	ctx := WithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, got)

	_, ok = ActorFromContext(context.Background())
	assert.False(t, ok)
}
