// Package roles derives the role tokens a user holds for one request.
// Tokens are recomputed from the membership store on every call so role
// changes apply to the next request.
package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/resource"
	"github.com/porthorian/orgauthz/pkg/storage"
)

// StoreError marks a failed store read. Callers must deny on it.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("roles: %s: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

const (
	OperationAppRole                = "app_role"
	OperationOrganizationMembership = "organization_membership"
	OperationGroupMembership        = "group_membership"
	OperationGroupOrganization      = "group_organization"
)

type Resolver struct {
	reader storage.MembershipReader
	logger logr.Logger
}

func NewResolver(reader storage.MembershipReader, logger logr.Logger) *Resolver {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Resolver{reader: reader, logger: logger}
}

// SubjectsFor returns the identity token, the application role token, and
// the organization and group tokens implied by scope. A group scope also
// yields the tokens of the organization owning the group.
func (r *Resolver) SubjectsFor(ctx context.Context, userID string, scope resource.Scope) (Subjects, error) {
	subjects := NewSubjects(UserSubject(userID))

	appRole, err := r.AppRole(ctx, userID)
	if err != nil {
		return Subjects{}, err
	}
	if appRole != membership.AppRoleNone {
		subjects.Add(AppSubject(string(appRole)))
	}

	if organizationID, ok := scope.Organization(); ok {
		if err := r.addOrganization(ctx, &subjects, userID, organizationID); err != nil {
			return Subjects{}, err
		}
	}

	if groupID, ok := scope.Group(); ok {
		role, err := r.ActiveGroupRole(ctx, userID, groupID)
		if err != nil {
			return Subjects{}, err
		}
		if role != "" {
			subjects.Add(GroupSubject(groupID, role), GenericGroupSubject(role))
		}

		organizationID, err := r.reader.GroupOrganization(ctx, groupID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			r.logger.V(1).Info("group has no owning organization", "group_id", groupID)
		case err != nil:
			return Subjects{}, &StoreError{Operation: OperationGroupOrganization, Err: err}
		default:
			if err := r.addOrganization(ctx, &subjects, userID, organizationID); err != nil {
				return Subjects{}, err
			}
		}
	}

	return subjects, nil
}

func (r *Resolver) addOrganization(ctx context.Context, subjects *Subjects, userID string, organizationID int64) error {
	role, err := r.ActiveOrganizationRole(ctx, userID, organizationID)
	if err != nil {
		return err
	}
	if role != "" {
		subjects.Add(OrganizationSubject(organizationID, role), GenericOrganizationSubject(role))
	}
	return nil
}

func (r *Resolver) AppRole(ctx context.Context, userID string) (membership.AppRole, error) {
	role, err := r.reader.AppRole(ctx, userID)
	if err != nil {
		return membership.AppRoleNone, &StoreError{Operation: OperationAppRole, Err: err}
	}
	return role, nil
}

func (r *Resolver) IsAppAdmin(ctx context.Context, userID string) (bool, error) {
	role, err := r.AppRole(ctx, userID)
	if err != nil {
		return false, err
	}
	return role == membership.AppRoleAdmin, nil
}

// ActiveOrganizationRole returns "" when the membership is absent or
// soft-deleted.
func (r *Resolver) ActiveOrganizationRole(ctx context.Context, userID string, organizationID int64) (string, error) {
	state, err := r.reader.OrganizationMembership(ctx, userID, organizationID)
	if err != nil {
		return "", &StoreError{Operation: OperationOrganizationMembership, Err: err}
	}
	role, _ := membership.ActiveRole(state)
	return role, nil
}

func (r *Resolver) ActiveGroupRole(ctx context.Context, userID string, groupID int64) (string, error) {
	state, err := r.reader.GroupMembership(ctx, userID, groupID)
	if err != nil {
		return "", &StoreError{Operation: OperationGroupMembership, Err: err}
	}
	role, _ := membership.ActiveRole(state)
	return role, nil
}
