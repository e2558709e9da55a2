// Package resource encodes and decodes the hierarchical resource strings
// checked by the policy engine, such as "org:12:members" or "group:7:chat".
package resource

import (
	"strconv"
	"strings"
)

const (
	Separator = ":"
	Wildcard  = "*"
)

type Kind string

const (
	KindOrganization Kind = "org"
	KindGroup        Kind = "group"
)

// Scope is the containment information carried by a resource string.
// At most one of OrganizationID and GroupID is set.
type Scope struct {
	OrganizationID *int64
	GroupID        *int64
}

func (s Scope) Organization() (int64, bool) {
	if s.OrganizationID == nil {
		return 0, false
	}
	return *s.OrganizationID, true
}

func (s Scope) Group() (int64, bool) {
	if s.GroupID == nil {
		return 0, false
	}
	return *s.GroupID, true
}

func (s Scope) IsZero() bool {
	return s.OrganizationID == nil && s.GroupID == nil
}

func Encode(kind Kind, id int64, subpath ...string) string {
	parts := make([]string, 0, len(subpath)+2)
	parts = append(parts, string(kind), strconv.FormatInt(id, 10))
	for _, segment := range subpath {
		if segment == "" {
			continue
		}
		parts = append(parts, segment)
	}
	return strings.Join(parts, Separator)
}

func Organization(id int64, subpath ...string) string {
	return Encode(KindOrganization, id, subpath...)
}

func Group(id int64, subpath ...string) string {
	return Encode(KindGroup, id, subpath...)
}

// Global returns the "<noun>:*" form used for resources outside any
// organization or group.
func Global(noun string) string {
	return noun + Separator + Wildcard
}

// Decode extracts the organization or group id from the leading segment of
// a resource. Anything it cannot recognize yields an empty Scope.
func Decode(value string) Scope {
	kind, rest, ok := strings.Cut(value, Separator)
	if !ok {
		return Scope{}
	}

	idPart, _, _ := strings.Cut(rest, Separator)
	id, ok := parseID(idPart)
	if !ok {
		return Scope{}
	}

	switch Kind(kind) {
	case KindOrganization:
		return Scope{OrganizationID: &id}
	case KindGroup:
		return Scope{GroupID: &id}
	default:
		return Scope{}
	}
}

func parseID(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
