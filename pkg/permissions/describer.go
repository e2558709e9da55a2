// Package permissions summarizes what a user can see so a presentation layer
// can hide controls. A Descriptor is never an authorization decision; gates
// re-derive every decision at request time.
package permissions

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/go-logr/logr"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/storage"
)

type Descriptor struct {
	AppRole       *string                  `json:"appRole"`
	Organizations []OrganizationPermission `json:"organizations"`
	Groups        []GroupPermission        `json:"groups"`
}

type OrganizationPermission struct {
	OrganizationID int64  `json:"organizationId"`
	Role           string `json:"role"`
}

// GroupPermission has a nil Role when access is inherited from an
// organization admin membership. OrganizationID is nil when the owner is
// unknown.
type GroupPermission struct {
	GroupID        int64   `json:"groupId"`
	OrganizationID *int64  `json:"organizationId"`
	Role           *string `json:"role"`
}

type Describer struct {
	reader storage.MembershipReader
	logger logr.Logger
}

func NewDescriber(reader storage.MembershipReader, logger logr.Logger) *Describer {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Describer{reader: reader, logger: logger}
}

func (d *Describer) Describe(ctx context.Context, userID string) (Descriptor, error) {
	if userID == "" {
		return Descriptor{}, oerrors.Unauthenticated()
	}
	if d == nil || d.reader == nil {
		return Descriptor{}, oerrors.ErrMissingStore
	}

	descriptor := Descriptor{
		Organizations: []OrganizationPermission{},
		Groups:        []GroupPermission{},
	}

	appRole, err := d.reader.AppRole(ctx, userID)
	if err != nil {
		return Descriptor{}, oerrors.StorageUnavailable(err)
	}
	if appRole != membership.AppRoleNone {
		role := string(appRole)
		descriptor.AppRole = &role
	}

	organizations, err := d.reader.ListOrganizationMemberships(ctx, userID)
	if err != nil {
		return Descriptor{}, oerrors.StorageUnavailable(err)
	}
	groups, err := d.reader.ListGroupMemberships(ctx, userID)
	if err != nil {
		return Descriptor{}, oerrors.StorageUnavailable(err)
	}

	byGroup := make(map[int64]*GroupPermission, len(groups))
	for _, group := range groups {
		role := string(group.Role)
		byGroup[group.GroupID] = &GroupPermission{GroupID: group.GroupID, Role: &role}
	}

	for _, organization := range organizations {
		descriptor.Organizations = append(descriptor.Organizations, OrganizationPermission{
			OrganizationID: organization.OrganizationID,
			Role:           string(organization.Role),
		})
		if organization.Role != membership.OrganizationRoleAdmin {
			continue
		}

		owned, err := d.reader.ListOrganizationGroups(ctx, organization.OrganizationID)
		if err != nil {
			return Descriptor{}, oerrors.StorageUnavailable(err)
		}
		for _, groupID := range owned {
			organizationID := organization.OrganizationID
			if existing, ok := byGroup[groupID]; ok {
				existing.OrganizationID = &organizationID
				continue
			}
			byGroup[groupID] = &GroupPermission{GroupID: groupID, OrganizationID: &organizationID}
		}
	}

	for groupID, group := range byGroup {
		if group.OrganizationID == nil {
			organizationID, err := d.reader.GroupOrganization(ctx, groupID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				d.logger.V(1).Info("group has no owning organization", "group_id", groupID)
			case err != nil:
				return Descriptor{}, oerrors.StorageUnavailable(err)
			default:
				group.OrganizationID = &organizationID
			}
		}
		descriptor.Groups = append(descriptor.Groups, *group)
	}

	slices.SortFunc(descriptor.Organizations, func(a, b OrganizationPermission) int {
		return cmp.Compare(a.OrganizationID, b.OrganizationID)
	})
	slices.SortFunc(descriptor.Groups, func(a, b GroupPermission) int {
		return cmp.Compare(a.GroupID, b.GroupID)
	})

	d.logger.V(1).Info("described permissions", "user_id", userID, "organizations", len(descriptor.Organizations), "groups", len(descriptor.Groups))
	return descriptor, nil
}
