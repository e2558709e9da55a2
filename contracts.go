package orgauthz

import (
	"strings"

	"github.com/porthorian/orgauthz/pkg/membership"
)

// OrganizationMemberInput names one organization membership. Role is ignored
// by removals.
type OrganizationMemberInput struct {
	UserID         string
	OrganizationID int64
	Role           string
}

type GroupMemberInput struct {
	UserID  string
	GroupID int64
	Role    string
}

type AppRoleInput struct {
	UserID string
	Role   string
}

func (i OrganizationMemberInput) Normalize() OrganizationMemberInput {
	return OrganizationMemberInput{
		UserID:         strings.TrimSpace(i.UserID),
		OrganizationID: i.OrganizationID,
		Role:           strings.ToLower(strings.TrimSpace(i.Role)),
	}
}

func (i GroupMemberInput) Normalize() GroupMemberInput {
	return GroupMemberInput{
		UserID:  strings.TrimSpace(i.UserID),
		GroupID: i.GroupID,
		Role:    strings.ToLower(strings.TrimSpace(i.Role)),
	}
}

func (i AppRoleInput) Normalize() AppRoleInput {
	return AppRoleInput{
		UserID: strings.TrimSpace(i.UserID),
		Role:   strings.ToLower(strings.TrimSpace(i.Role)),
	}
}

// MembershipResult reports the lifecycle step a write performed.
type MembershipResult struct {
	Operation membership.Operation
	State     membership.State
}
