package resource

import "strings"

type PatternKind int

const (
	PatternAmbiguous PatternKind = iota
	PatternAny
	PatternScoped
	PatternGlobal
)

func (k PatternKind) String() string {
	switch k {
	case PatternAny:
		return "any"
	case PatternScoped:
		return "scoped"
	case PatternGlobal:
		return "global"
	default:
		return "ambiguous"
	}
}

// Classify reports how a policy resource pattern relates to scope decoding.
// Scoped patterns start with org or group followed by a numeric id or a
// wildcard; global patterns take the "<noun>:*" form. Everything else would
// never receive organization or group subjects and is ambiguous.
func Classify(pattern string) PatternKind {
	if pattern == Wildcard {
		return PatternAny
	}

	segments := strings.Split(pattern, Separator)
	if len(segments) < 2 {
		return PatternAmbiguous
	}
	for _, segment := range segments {
		if segment == "" {
			return PatternAmbiguous
		}
	}

	head, second := segments[0], segments[1]
	switch Kind(head) {
	case KindOrganization, KindGroup:
		if second == Wildcard {
			return PatternScoped
		}
		if _, ok := parseID(second); ok {
			return PatternScoped
		}
		return PatternAmbiguous
	}

	if head == Wildcard {
		return PatternAmbiguous
	}
	if second == Wildcard {
		return PatternGlobal
	}
	return PatternAmbiguous
}

// Match reports whether value is covered by pattern. A "*" segment in the
// middle of a pattern matches exactly one segment; a trailing "*" matches the
// resource named by the preceding segments and any of its sub-paths.
func Match(value, pattern string) bool {
	if pattern == Wildcard {
		return true
	}
	if !strings.Contains(pattern, Wildcard) {
		return value == pattern
	}

	want := strings.Split(pattern, Separator)
	got := strings.Split(value, Separator)
	last := len(want) - 1

	for i, segment := range want {
		if segment == Wildcard && i == last {
			return len(got) >= i
		}
		if i >= len(got) {
			return false
		}
		if segment == Wildcard {
			continue
		}
		if segment != got[i] {
			return false
		}
	}
	return len(got) == len(want)
}
