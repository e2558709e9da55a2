// Package memory is an in-process membership store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/storage"
)

type pairKey struct {
	userID      string
	containerID int64
}

type row struct {
	role      string
	dateAdded time.Time
	deletedAt *time.Time
}

type Adapter struct {
	mu sync.RWMutex

	appRoles            map[string]membership.AppRole
	groupOwners         map[int64]int64
	organizationMembers map[pairKey]row
	groupMembers        map[pairKey]row

	now func() time.Time
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		appRoles:            map[string]membership.AppRole{},
		groupOwners:         map[int64]int64{},
		organizationMembers: map[pairKey]row{},
		groupMembers:        map[pairKey]row{},
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// PutGroup registers a group and its owning organization. Groups and
// organizations are created by collaborators outside this module.
func (a *Adapter) PutGroup(groupID int64, organizationID int64) {
	a.mu.Lock()
	a.groupOwners[groupID] = organizationID
	a.mu.Unlock()
}

func (a *Adapter) AppRole(ctx context.Context, userID string) (membership.AppRole, error) {
	if err := ctx.Err(); err != nil {
		return membership.AppRoleNone, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appRoles[userID], nil
}

func (a *Adapter) OrganizationMembership(ctx context.Context, userID string, organizationID int64) (membership.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return stateOf(a.organizationMembers, pairKey{userID: userID, containerID: organizationID}), nil
}

func (a *Adapter) GroupMembership(ctx context.Context, userID string, groupID int64) (membership.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return stateOf(a.groupMembers, pairKey{userID: userID, containerID: groupID}), nil
}

func (a *Adapter) GroupOrganization(ctx context.Context, groupID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	organizationID, ok := a.groupOwners[groupID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return organizationID, nil
}

func (a *Adapter) ListOrganizationMemberships(ctx context.Context, userID string) ([]storage.OrganizationMembershipRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	records := make([]storage.OrganizationMembershipRecord, 0)
	for key, r := range a.organizationMembers {
		if key.userID != userID || r.deletedAt != nil {
			continue
		}
		records = append(records, storage.OrganizationMembershipRecord{
			UserID:         userID,
			OrganizationID: key.containerID,
			Role:           membership.OrganizationRole(r.role),
		})
	}
	a.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].OrganizationID < records[j].OrganizationID
	})
	return records, nil
}

func (a *Adapter) ListGroupMemberships(ctx context.Context, userID string) ([]storage.GroupMembershipRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	records := make([]storage.GroupMembershipRecord, 0)
	for key, r := range a.groupMembers {
		if key.userID != userID || r.deletedAt != nil {
			continue
		}
		records = append(records, storage.GroupMembershipRecord{
			UserID:  userID,
			GroupID: key.containerID,
			Role:    membership.GroupRole(r.role),
		})
	}
	a.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].GroupID < records[j].GroupID
	})
	return records, nil
}

func (a *Adapter) ListOrganizationGroups(ctx context.Context, organizationID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	groupIDs := make([]int64, 0)
	for groupID, owner := range a.groupOwners {
		if owner == organizationID {
			groupIDs = append(groupIDs, groupID)
		}
	}
	a.mu.RUnlock()

	sort.Slice(groupIDs, func(i, j int) bool { return groupIDs[i] < groupIDs[j] })
	return groupIDs, nil
}

func (a *Adapter) AddOrganizationMember(ctx context.Context, record storage.OrganizationMembershipRecord) (membership.Transition, error) {
	key := pairKey{userID: record.UserID, containerID: record.OrganizationID}
	return a.apply(ctx, a.organizationMembers, key, func(current membership.State) (membership.Transition, error) {
		return membership.Add(current, string(record.Role))
	})
}

func (a *Adapter) RemoveOrganizationMember(ctx context.Context, userID string, organizationID int64) (membership.Transition, error) {
	key := pairKey{userID: userID, containerID: organizationID}
	return a.apply(ctx, a.organizationMembers, key, func(current membership.State) (membership.Transition, error) {
		return membership.Remove(current, a.now())
	})
}

func (a *Adapter) UpdateOrganizationMemberRole(ctx context.Context, record storage.OrganizationMembershipRecord) (membership.Transition, error) {
	key := pairKey{userID: record.UserID, containerID: record.OrganizationID}
	return a.apply(ctx, a.organizationMembers, key, func(current membership.State) (membership.Transition, error) {
		return membership.ChangeRole(current, string(record.Role))
	})
}

func (a *Adapter) AddGroupMember(ctx context.Context, record storage.GroupMembershipRecord) (membership.Transition, error) {
	key := pairKey{userID: record.UserID, containerID: record.GroupID}
	return a.apply(ctx, a.groupMembers, key, func(current membership.State) (membership.Transition, error) {
		return membership.Add(current, string(record.Role))
	})
}

func (a *Adapter) RemoveGroupMember(ctx context.Context, userID string, groupID int64) (membership.Transition, error) {
	key := pairKey{userID: userID, containerID: groupID}
	return a.apply(ctx, a.groupMembers, key, func(current membership.State) (membership.Transition, error) {
		return membership.Remove(current, a.now())
	})
}

func (a *Adapter) UpdateGroupMemberRole(ctx context.Context, record storage.GroupMembershipRecord) (membership.Transition, error) {
	key := pairKey{userID: record.UserID, containerID: record.GroupID}
	return a.apply(ctx, a.groupMembers, key, func(current membership.State) (membership.Transition, error) {
		return membership.ChangeRole(current, string(record.Role))
	})
}

func (a *Adapter) SetAppRole(ctx context.Context, userID string, role membership.AppRole) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	a.appRoles[userID] = role
	a.mu.Unlock()
	return nil
}

func (a *Adapter) apply(ctx context.Context, rows map[pairKey]row, key pairKey, decide func(membership.State) (membership.Transition, error)) (membership.Transition, error) {
	if err := ctx.Err(); err != nil {
		return membership.Transition{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	transition, err := decide(stateOf(rows, key))
	if err != nil {
		return membership.Transition{}, storage.TransitionError(err)
	}

	current := rows[key]
	switch next := transition.Next.(type) {
	case membership.Active:
		if transition.Operation == membership.OperationInsert {
			current.dateAdded = a.now()
		}
		current.role = next.Role
		current.deletedAt = nil
	case membership.Deleted:
		deletedAt := next.DeletedAt
		current.deletedAt = &deletedAt
	}
	rows[key] = current

	return transition, nil
}

func stateOf(rows map[pairKey]row, key pairKey) membership.State {
	r, ok := rows[key]
	if !ok {
		return membership.Absent{}
	}
	return membership.FromRow(r.role, r.deletedAt)
}
