package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/storage"
	"github.com/porthorian/orgauthz/pkg/storage/memory"
)

func TestDescribeInheritedGroups(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	store.PutGroup(9, 5)
	store.PutGroup(4, 5)
	store.PutGroup(12, 6)

	_, err := store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{UserID: "c", OrganizationID: 5, Role: membership.OrganizationRoleAdmin})
	require.NoError(t, err)

	descriptor, err := NewDescriber(store, testr.New(t)).Describe(ctx, "c")
	require.NoError(t, err)

	body, err := json.Marshal(descriptor)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"appRole": null,
		"organizations": [{"organizationId": 5, "role": "admin"}],
		"groups": [
			{"groupId": 4, "organizationId": 5, "role": null},
			{"groupId": 9, "organizationId": 5, "role": null}
		]
	}`, string(body))
}

func TestDescribeExplicitMembershipWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	store.PutGroup(7, 1)
	store.PutGroup(8, 1)
	store.PutGroup(20, 2)

	require.NoError(t, store.SetAppRole(ctx, "u", membership.AppRoleUser))
	_, err := store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{UserID: "u", OrganizationID: 1, Role: membership.OrganizationRoleAdmin})
	require.NoError(t, err)
	_, err = store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{UserID: "u", OrganizationID: 3, Role: membership.OrganizationRoleMember})
	require.NoError(t, err)
	_, err = store.AddGroupMember(ctx, storage.GroupMembershipRecord{UserID: "u", GroupID: 7, Role: membership.GroupRoleEvaluator})
	require.NoError(t, err)
	_, err = store.AddGroupMember(ctx, storage.GroupMembershipRecord{UserID: "u", GroupID: 20, Role: membership.GroupRoleMember})
	require.NoError(t, err)
	_, err = store.AddGroupMember(ctx, storage.GroupMembershipRecord{UserID: "u", GroupID: 99, Role: membership.GroupRoleMember})
	require.NoError(t, err)

	descriptor, err := NewDescriber(store, testr.New(t)).Describe(ctx, "u")
	require.NoError(t, err)

	require.NotNil(t, descriptor.AppRole)
	assert.Equal(t, "user", *descriptor.AppRole)
	assert.Equal(t, []OrganizationPermission{
		{OrganizationID: 1, Role: "admin"},
		{OrganizationID: 3, Role: "member"},
	}, descriptor.Organizations)

	require.Len(t, descriptor.Groups, 4)
	ids := make([]int64, 0, len(descriptor.Groups))
	for _, group := range descriptor.Groups {
		ids = append(ids, group.GroupID)
	}
	assert.Equal(t, []int64{7, 8, 20, 99}, ids)

	explicit := descriptor.Groups[0]
	require.NotNil(t, explicit.Role)
	assert.Equal(t, "evaluator", *explicit.Role)
	require.NotNil(t, explicit.OrganizationID)
	assert.Equal(t, int64(1), *explicit.OrganizationID)

	inherited := descriptor.Groups[1]
	assert.Nil(t, inherited.Role)
	require.NotNil(t, inherited.OrganizationID)
	assert.Equal(t, int64(1), *inherited.OrganizationID)

	other := descriptor.Groups[2]
	require.NotNil(t, other.OrganizationID)
	assert.Equal(t, int64(2), *other.OrganizationID)

	orphan := descriptor.Groups[3]
	assert.Nil(t, orphan.OrganizationID)
	require.NotNil(t, orphan.Role)
}

func TestDescribeSkipsSoftDeleted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	store.PutGroup(7, 1)

	_, err := store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{UserID: "u", OrganizationID: 1, Role: membership.OrganizationRoleAdmin})
	require.NoError(t, err)
	_, err = store.RemoveOrganizationMember(ctx, "u", 1)
	require.NoError(t, err)

	descriptor, err := NewDescriber(store, testr.New(t)).Describe(ctx, "u")
	require.NoError(t, err)
	assert.Nil(t, descriptor.AppRole)
	assert.Empty(t, descriptor.Organizations)
	assert.Empty(t, descriptor.Groups)
}

type countingReader struct {
	storage.MembershipReader
	lookups map[int64]int
}

func (c *countingReader) GroupOrganization(ctx context.Context, groupID int64) (int64, error) {
	c.lookups[groupID]++
	return c.MembershipReader.GroupOrganization(ctx, groupID)
}

func (c *countingReader) ListGroupMemberships(ctx context.Context, userID string) ([]storage.GroupMembershipRecord, error) {
	records, err := c.MembershipReader.ListGroupMemberships(ctx, userID)
	return append(records, records...), err
}

func TestDescribeResolvesEachGroupOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	store.PutGroup(7, 1)
	_, err := store.AddGroupMember(ctx, storage.GroupMembershipRecord{UserID: "u", GroupID: 7, Role: membership.GroupRoleMember})
	require.NoError(t, err)

	reader := &countingReader{MembershipReader: store, lookups: map[int64]int{}}
	descriptor, err := NewDescriber(reader, testr.New(t)).Describe(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, descriptor.Groups, 1)
	assert.Equal(t, 1, reader.lookups[7])
}

type brokenReader struct {
	storage.MembershipReader
}

var errBroken = errors.New("timeout")

func (brokenReader) ListOrganizationMemberships(context.Context, string) ([]storage.OrganizationMembershipRecord, error) {
	return nil, errBroken
}

func TestDescribeErrors(t *testing.T) {
	store := memory.NewAdapter()

	_, err := NewDescriber(store, testr.New(t)).Describe(context.Background(), "")
	assert.True(t, oerrors.IsCode(err, oerrors.CodeUnauthenticated))

	_, err = NewDescriber(brokenReader{MembershipReader: store}, testr.New(t)).Describe(context.Background(), "u")
	assert.True(t, oerrors.IsCode(err, oerrors.CodeStorageUnavailable))
	assert.ErrorIs(t, err, errBroken)
}
