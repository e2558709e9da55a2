// Package testsuite holds the conformance checks every storage.Store
// adapter runs from its own tests.
package testsuite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/storage"
)

// Fixture is a freshly initialized store plus a way to seed groups, which
// the store only reads.
type Fixture struct {
	Store    storage.Store
	PutGroup func(t *testing.T, groupID int64, organizationID int64)
}

type Factory func(t *testing.T) Fixture

func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("AppRole", func(t *testing.T) { testAppRole(t, factory(t)) })
	t.Run("OrganizationLifecycle", func(t *testing.T) { testOrganizationLifecycle(t, factory(t)) })
	t.Run("GroupLifecycle", func(t *testing.T) { testGroupLifecycle(t, factory(t)) })
	t.Run("GroupOwnership", func(t *testing.T) { testGroupOwnership(t, factory(t)) })
	t.Run("Listings", func(t *testing.T) { testListings(t, factory(t)) })
}

func testAppRole(t *testing.T, fx Fixture) {
	ctx := context.Background()

	role, err := fx.Store.AppRole(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, membership.AppRoleNone, role)

	require.NoError(t, fx.Store.SetAppRole(ctx, "u1", membership.AppRoleAdmin))
	role, err = fx.Store.AppRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, membership.AppRoleAdmin, role)

	require.NoError(t, fx.Store.SetAppRole(ctx, "u1", membership.AppRoleNone))
	role, err = fx.Store.AppRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, membership.AppRoleNone, role)
}

func testOrganizationLifecycle(t *testing.T, fx Fixture) {
	ctx := context.Background()
	fx.PutGroup(t, 70, 10)
	require.NoError(t, fx.Store.SetAppRole(ctx, "u1", membership.AppRoleUser))

	state, err := fx.Store.OrganizationMembership(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, membership.Absent{}, state)

	_, err = fx.Store.RemoveOrganizationMember(ctx, "u1", 10)
	require.ErrorIs(t, err, storage.ErrNotFound)

	transition, err := fx.Store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{
		UserID: "u1", OrganizationID: 10, Role: membership.OrganizationRoleMember,
	})
	require.NoError(t, err)
	assert.Equal(t, membership.OperationInsert, transition.Operation)

	_, err = fx.Store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{
		UserID: "u1", OrganizationID: 10, Role: membership.OrganizationRoleAdmin,
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	transition, err = fx.Store.RemoveOrganizationMember(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, membership.OperationSoftDelete, transition.Operation)

	state, err = fx.Store.OrganizationMembership(ctx, "u1", 10)
	require.NoError(t, err)
	deleted, ok := state.(membership.Deleted)
	require.True(t, ok, "expected deleted state, got %#v", state)
	assert.Equal(t, string(membership.OrganizationRoleMember), deleted.Role)
	assert.False(t, deleted.DeletedAt.IsZero())

	_, err = fx.Store.UpdateOrganizationMemberRole(ctx, storage.OrganizationMembershipRecord{
		UserID: "u1", OrganizationID: 10, Role: membership.OrganizationRoleAdmin,
	})
	require.ErrorIs(t, err, storage.ErrNotFound)

	transition, err = fx.Store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{
		UserID: "u1", OrganizationID: 10, Role: membership.OrganizationRoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, membership.OperationRestore, transition.Operation)

	state, err = fx.Store.OrganizationMembership(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, membership.Active{Role: string(membership.OrganizationRoleAdmin)}, state)

	transition, err = fx.Store.UpdateOrganizationMemberRole(ctx, storage.OrganizationMembershipRecord{
		UserID: "u1", OrganizationID: 10, Role: membership.OrganizationRoleMember,
	})
	require.NoError(t, err)
	assert.Equal(t, membership.OperationUpdateRole, transition.Operation)

	records, err := fx.Store.ListOrganizationMemberships(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1, "restored membership must reuse the original row")
	assert.Equal(t, membership.OrganizationRoleMember, records[0].Role)
}

func testGroupLifecycle(t *testing.T, fx Fixture) {
	ctx := context.Background()
	fx.PutGroup(t, 70, 10)
	require.NoError(t, fx.Store.SetAppRole(ctx, "u2", membership.AppRoleUser))

	_, err := fx.Store.AddGroupMember(ctx, storage.GroupMembershipRecord{
		UserID: "u2", GroupID: 70, Role: membership.GroupRoleEvaluator,
	})
	require.NoError(t, err)

	state, err := fx.Store.GroupMembership(ctx, "u2", 70)
	require.NoError(t, err)
	assert.Equal(t, membership.Active{Role: string(membership.GroupRoleEvaluator)}, state)

	_, err = fx.Store.AddGroupMember(ctx, storage.GroupMembershipRecord{
		UserID: "u2", GroupID: 70, Role: membership.GroupRoleMember,
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = fx.Store.RemoveGroupMember(ctx, "u2", 70)
	require.NoError(t, err)

	records, err := fx.Store.ListGroupMemberships(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = fx.Store.RemoveGroupMember(ctx, "u2", 70)
	require.ErrorIs(t, err, storage.ErrNotFound)

	transition, err := fx.Store.AddGroupMember(ctx, storage.GroupMembershipRecord{
		UserID: "u2", GroupID: 70, Role: membership.GroupRoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, membership.OperationRestore, transition.Operation)

	records, err = fx.Store.ListGroupMemberships(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, membership.GroupRoleAdmin, records[0].Role)
}

func testGroupOwnership(t *testing.T, fx Fixture) {
	ctx := context.Background()
	fx.PutGroup(t, 71, 11)

	organizationID, err := fx.Store.GroupOrganization(ctx, 71)
	require.NoError(t, err)
	assert.Equal(t, int64(11), organizationID)

	_, err = fx.Store.GroupOrganization(ctx, 9999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testListings(t *testing.T, fx Fixture) {
	ctx := context.Background()
	fx.PutGroup(t, 72, 12)
	fx.PutGroup(t, 73, 12)
	fx.PutGroup(t, 74, 13)
	require.NoError(t, fx.Store.SetAppRole(ctx, "u3", membership.AppRoleUser))

	for _, organizationID := range []int64{13, 12} {
		_, err := fx.Store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{
			UserID: "u3", OrganizationID: organizationID, Role: membership.OrganizationRoleMember,
		})
		require.NoError(t, err)
	}
	_, err := fx.Store.RemoveOrganizationMember(ctx, "u3", 13)
	require.NoError(t, err)

	orgs, err := fx.Store.ListOrganizationMemberships(ctx, "u3")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, int64(12), orgs[0].OrganizationID)

	groups, err := fx.Store.ListOrganizationGroups(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, []int64{72, 73}, groups)

	groups, err = fx.Store.ListOrganizationGroups(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
