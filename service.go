package orgauthz

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/storage"
)

// MembershipService validates and applies membership lifecycle writes.
// Callers gate these operations themselves; the service does not authorize.
type MembershipService struct {
	store  storage.MembershipWriter
	logger logr.Logger
}

func NewMembershipService(store storage.MembershipWriter, logger logr.Logger) *MembershipService {
	return &MembershipService{store: store, logger: resolveLogger(logger)}
}

// AddOrganizationMember inserts a membership or restores a soft-deleted one
// with the given role. Adding an active member is a conflict.
func (s *MembershipService) AddOrganizationMember(ctx context.Context, input OrganizationMemberInput) (MembershipResult, error) {
	input = input.Normalize()
	role, err := validateOrganizationInput(input, true)
	if err != nil {
		return MembershipResult{}, err
	}

	transition, err := s.writer().AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{
		UserID:         input.UserID,
		OrganizationID: input.OrganizationID,
		Role:           role,
	})
	return s.result("add organization member", transition, err, "user_id", input.UserID, "organization_id", input.OrganizationID)
}

// RemoveOrganizationMember soft-deletes an active membership.
func (s *MembershipService) RemoveOrganizationMember(ctx context.Context, input OrganizationMemberInput) (MembershipResult, error) {
	input = input.Normalize()
	if _, err := validateOrganizationInput(input, false); err != nil {
		return MembershipResult{}, err
	}

	transition, err := s.writer().RemoveOrganizationMember(ctx, input.UserID, input.OrganizationID)
	return s.result("remove organization member", transition, err, "user_id", input.UserID, "organization_id", input.OrganizationID)
}

func (s *MembershipService) UpdateOrganizationMemberRole(ctx context.Context, input OrganizationMemberInput) (MembershipResult, error) {
	input = input.Normalize()
	role, err := validateOrganizationInput(input, true)
	if err != nil {
		return MembershipResult{}, err
	}

	transition, err := s.writer().UpdateOrganizationMemberRole(ctx, storage.OrganizationMembershipRecord{
		UserID:         input.UserID,
		OrganizationID: input.OrganizationID,
		Role:           role,
	})
	return s.result("update organization member role", transition, err, "user_id", input.UserID, "organization_id", input.OrganizationID)
}

func (s *MembershipService) AddGroupMember(ctx context.Context, input GroupMemberInput) (MembershipResult, error) {
	input = input.Normalize()
	role, err := validateGroupInput(input, true)
	if err != nil {
		return MembershipResult{}, err
	}

	transition, err := s.writer().AddGroupMember(ctx, storage.GroupMembershipRecord{
		UserID:  input.UserID,
		GroupID: input.GroupID,
		Role:    role,
	})
	return s.result("add group member", transition, err, "user_id", input.UserID, "group_id", input.GroupID)
}

func (s *MembershipService) RemoveGroupMember(ctx context.Context, input GroupMemberInput) (MembershipResult, error) {
	input = input.Normalize()
	if _, err := validateGroupInput(input, false); err != nil {
		return MembershipResult{}, err
	}

	transition, err := s.writer().RemoveGroupMember(ctx, input.UserID, input.GroupID)
	return s.result("remove group member", transition, err, "user_id", input.UserID, "group_id", input.GroupID)
}

func (s *MembershipService) UpdateGroupMemberRole(ctx context.Context, input GroupMemberInput) (MembershipResult, error) {
	input = input.Normalize()
	role, err := validateGroupInput(input, true)
	if err != nil {
		return MembershipResult{}, err
	}

	transition, err := s.writer().UpdateGroupMemberRole(ctx, storage.GroupMembershipRecord{
		UserID:  input.UserID,
		GroupID: input.GroupID,
		Role:    role,
	})
	return s.result("update group member role", transition, err, "user_id", input.UserID, "group_id", input.GroupID)
}

// SetAppRole assigns the application role, creating the user if needed.
// Role "none" clears it.
func (s *MembershipService) SetAppRole(ctx context.Context, input AppRoleInput) error {
	input = input.Normalize()
	if input.UserID == "" {
		return oerrors.InvalidInput("user id is required")
	}
	role, ok := membership.ParseAppRole(input.Role)
	if !ok {
		return oerrors.InvalidInput("unknown application role")
	}

	if err := s.writer().SetAppRole(ctx, input.UserID, role); err != nil {
		return mapStoreError(err)
	}
	s.logger.Info("set application role", "user_id", input.UserID, "role", string(role))
	return nil
}

func (s *MembershipService) writer() storage.MembershipWriter {
	if s.store == nil {
		return missingWriter{}
	}
	return s.store
}

func (s *MembershipService) result(action string, transition membership.Transition, err error, keysAndValues ...any) (MembershipResult, error) {
	if err != nil {
		s.logger.V(1).Info("membership write rejected", append([]any{"action", action, "error", err.Error()}, keysAndValues...)...)
		return MembershipResult{}, mapStoreError(err)
	}

	s.logger.Info(action, append([]any{"operation", transition.Operation.String()}, keysAndValues...)...)
	return MembershipResult{Operation: transition.Operation, State: transition.Next}, nil
}

func validateOrganizationInput(input OrganizationMemberInput, needRole bool) (membership.OrganizationRole, error) {
	if input.UserID == "" {
		return "", oerrors.InvalidInput("user id is required")
	}
	if input.OrganizationID <= 0 {
		return "", oerrors.InvalidInput("organization id must be positive")
	}
	if !needRole {
		return "", nil
	}
	role, ok := membership.ParseOrganizationRole(input.Role)
	if !ok {
		return "", oerrors.InvalidInput("unknown organization role")
	}
	return role, nil
}

func validateGroupInput(input GroupMemberInput, needRole bool) (membership.GroupRole, error) {
	if input.UserID == "" {
		return "", oerrors.InvalidInput("user id is required")
	}
	if input.GroupID <= 0 {
		return "", oerrors.InvalidInput("group id must be positive")
	}
	if !needRole {
		return "", nil
	}
	role, ok := membership.ParseGroupRole(input.Role)
	if !ok {
		return "", oerrors.InvalidInput("unknown group role")
	}
	return role, nil
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, oerrors.ErrMissingStore):
		return err
	case errors.Is(err, storage.ErrConflict):
		return oerrors.Wrap(oerrors.CodeConflict, "membership already active", err)
	case errors.Is(err, storage.ErrNotFound):
		return oerrors.Wrap(oerrors.CodeNotFound, "membership not found", err)
	default:
		return oerrors.StorageUnavailable(err)
	}
}

type missingWriter struct{}

func (missingWriter) AddOrganizationMember(context.Context, storage.OrganizationMembershipRecord) (membership.Transition, error) {
	return membership.Transition{}, oerrors.ErrMissingStore
}

func (missingWriter) RemoveOrganizationMember(context.Context, string, int64) (membership.Transition, error) {
	return membership.Transition{}, oerrors.ErrMissingStore
}

func (missingWriter) UpdateOrganizationMemberRole(context.Context, storage.OrganizationMembershipRecord) (membership.Transition, error) {
	return membership.Transition{}, oerrors.ErrMissingStore
}

func (missingWriter) AddGroupMember(context.Context, storage.GroupMembershipRecord) (membership.Transition, error) {
	return membership.Transition{}, oerrors.ErrMissingStore
}

func (missingWriter) RemoveGroupMember(context.Context, string, int64) (membership.Transition, error) {
	return membership.Transition{}, oerrors.ErrMissingStore
}

func (missingWriter) UpdateGroupMemberRole(context.Context, storage.GroupMembershipRecord) (membership.Transition, error) {
	return membership.Transition{}, oerrors.ErrMissingStore
}

func (missingWriter) SetAppRole(context.Context, string, membership.AppRole) error {
	return oerrors.ErrMissingStore
}
