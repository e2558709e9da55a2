package storage

import (
	"context"
	"errors"
	"time"

	"github.com/porthorian/orgauthz/pkg/membership"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: conflict")
)

type UserRecord struct {
	ID        string
	AppRole   membership.AppRole
	DateAdded time.Time
}

type OrganizationMembershipRecord struct {
	UserID         string
	OrganizationID int64
	Role           membership.OrganizationRole
}

type GroupMembershipRecord struct {
	UserID  string
	GroupID int64
	Role    membership.GroupRole
}

// MembershipReader is the read side used on every authorization check.
// Soft-deleted rows are reported as membership.Deleted and never listed.
type MembershipReader interface {
	// AppRole returns AppRoleNone for unknown users.
	AppRole(ctx context.Context, userID string) (membership.AppRole, error)
	OrganizationMembership(ctx context.Context, userID string, organizationID int64) (membership.State, error)
	GroupMembership(ctx context.Context, userID string, groupID int64) (membership.State, error)
	// GroupOrganization returns ErrNotFound for unknown groups.
	GroupOrganization(ctx context.Context, groupID int64) (int64, error)
	ListOrganizationMemberships(ctx context.Context, userID string) ([]OrganizationMembershipRecord, error)
	ListGroupMemberships(ctx context.Context, userID string) ([]GroupMembershipRecord, error)
	ListOrganizationGroups(ctx context.Context, organizationID int64) ([]int64, error)
}

// MembershipWriter applies membership lifecycle transitions. Adding an
// active membership returns ErrConflict; removing or updating one that is not
// active returns ErrNotFound.
type MembershipWriter interface {
	AddOrganizationMember(ctx context.Context, record OrganizationMembershipRecord) (membership.Transition, error)
	RemoveOrganizationMember(ctx context.Context, userID string, organizationID int64) (membership.Transition, error)
	UpdateOrganizationMemberRole(ctx context.Context, record OrganizationMembershipRecord) (membership.Transition, error)
	AddGroupMember(ctx context.Context, record GroupMembershipRecord) (membership.Transition, error)
	RemoveGroupMember(ctx context.Context, userID string, groupID int64) (membership.Transition, error)
	UpdateGroupMemberRole(ctx context.Context, record GroupMembershipRecord) (membership.Transition, error)
	// SetAppRole creates the user when missing.
	SetAppRole(ctx context.Context, userID string, role membership.AppRole) error
}

type Store interface {
	MembershipReader
	MembershipWriter
}

// TransitionError maps membership lifecycle errors onto storage sentinels.
func TransitionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, membership.ErrAlreadyActive):
		return errors.Join(ErrConflict, err)
	case errors.Is(err, membership.ErrNotActive):
		return errors.Join(ErrNotFound, err)
	default:
		return err
	}
}
