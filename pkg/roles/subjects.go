package roles

import (
	"strconv"
	"strings"
)

func UserSubject(userID string) string {
	return "user:" + userID
}

func AppSubject(role string) string {
	return "app:" + role
}

func OrganizationSubject(organizationID int64, role string) string {
	return "org:" + strconv.FormatInt(organizationID, 10) + ":" + role
}

func GenericOrganizationSubject(role string) string {
	return "org:" + role
}

func GroupSubject(groupID int64, role string) string {
	return "group:" + strconv.FormatInt(groupID, 10) + ":" + role
}

func GenericGroupSubject(role string) string {
	return "group:" + role
}

// Subjects is an insertion-ordered set of role tokens.
type Subjects struct {
	tokens []string
	index  map[string]struct{}
}

func NewSubjects(tokens ...string) Subjects {
	s := Subjects{index: make(map[string]struct{}, len(tokens))}
	s.Add(tokens...)
	return s
}

func (s *Subjects) Add(tokens ...string) {
	if s.index == nil {
		s.index = map[string]struct{}{}
	}
	for _, token := range tokens {
		if _, ok := s.index[token]; ok {
			continue
		}
		s.index[token] = struct{}{}
		s.tokens = append(s.tokens, token)
	}
}

func (s Subjects) Contains(token string) bool {
	_, ok := s.index[token]
	return ok
}

func (s Subjects) Len() int {
	return len(s.tokens)
}

// Slice returns a copy of the tokens in insertion order.
func (s Subjects) Slice() []string {
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

func (s Subjects) String() string {
	return "[" + strings.Join(s.tokens, " ") + "]"
}
