package membership

import "strings"

type AppRole string

const (
	AppRoleNone  AppRole = ""
	AppRoleAdmin AppRole = "admin"
	AppRoleUser  AppRole = "user"
)

type OrganizationRole string

const (
	OrganizationRoleMember OrganizationRole = "member"
	OrganizationRoleAdmin  OrganizationRole = "admin"
)

type GroupRole string

const (
	GroupRoleMember    GroupRole = "member"
	GroupRoleAdmin     GroupRole = "admin"
	GroupRoleEvaluator GroupRole = "evaluator"
)

func ParseAppRole(value string) (AppRole, bool) {
	switch role := AppRole(strings.ToLower(strings.TrimSpace(value))); role {
	case "none":
		return AppRoleNone, true
	case AppRoleNone, AppRoleAdmin, AppRoleUser:
		return role, true
	default:
		return AppRoleNone, false
	}
}

func ParseOrganizationRole(value string) (OrganizationRole, bool) {
	switch role := OrganizationRole(strings.ToLower(strings.TrimSpace(value))); role {
	case OrganizationRoleMember, OrganizationRoleAdmin:
		return role, true
	default:
		return "", false
	}
}

func ParseGroupRole(value string) (GroupRole, bool) {
	switch role := GroupRole(strings.ToLower(strings.TrimSpace(value))); role {
	case GroupRoleMember, GroupRoleAdmin, GroupRoleEvaluator:
		return role, true
	default:
		return "", false
	}
}
