// Package policy compiles (subject, resource, action) rules into an
// enforcer and loads it lazily for concurrent callers.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/porthorian/orgauthz/pkg/resource"
)

const DefaultSuperuser = "app:admin"

type Rule struct {
	Subject  string
	Resource string
	Action   string
}

func (r Rule) String() string {
	return r.Subject + ", " + r.Resource + ", " + r.Action
}

// Policy is a flat rule set. Superuser is granted every action on every
// resource; no other subject may hold a match-everything rule.
type Policy struct {
	Superuser string
	Rules     []Rule
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Issue struct {
	Severity Severity
	Index    int
	Rule     Rule
	Message  string
}

func (i Issue) String() string {
	if i.Index < 0 {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: rule %d (%s): %s", i.Severity, i.Index, i.Rule, i.Message)
}

type Issues []Issue

func (issues Issues) HasErrors() bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (issues Issues) Err() error {
	var errs []error
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			errs = append(errs, errors.New(issue.String()))
		}
	}
	return errors.Join(errs...)
}

var subjectKinds = map[string]bool{
	"user":  true,
	"app":   true,
	"org":   true,
	"group": true,
}

// Lint reports rules that cannot behave as written. Resource patterns the
// scope decoder cannot place in an organization or group are errors: they
// would only ever be evaluated against identity and application subjects.
func Lint(p Policy) Issues {
	var issues Issues

	if strings.TrimSpace(p.Superuser) == "" {
		issues = append(issues, Issue{Severity: SeverityWarning, Index: -1, Message: "no superuser subject configured"})
	}

	seen := make(map[Rule]int, len(p.Rules))
	for i, rule := range p.Rules {
		report := func(severity Severity, format string, args ...any) {
			issues = append(issues, Issue{Severity: severity, Index: i, Rule: rule, Message: fmt.Sprintf(format, args...)})
		}

		if rule.Subject == "" || rule.Resource == "" || rule.Action == "" {
			report(SeverityError, "subject, resource and action are required")
			continue
		}

		if first, ok := seen[rule]; ok {
			report(SeverityWarning, "duplicate of rule %d", first)
			continue
		}
		seen[rule] = i

		if rule.Action == resource.Wildcard {
			report(SeverityError, "action wildcard is reserved for the superuser")
		}

		switch resource.Classify(rule.Resource) {
		case resource.PatternAny:
			report(SeverityError, "match-everything resource is reserved for the superuser")
		case resource.PatternAmbiguous:
			report(SeverityError, "resource %q has no decodable scope; use org:<id|*>[:...], group:<id|*>[:...] or <noun>:*", rule.Resource)
		}

		kind, _, _ := strings.Cut(rule.Subject, resource.Separator)
		if !subjectKinds[kind] {
			report(SeverityWarning, "subject %q is never produced by the role resolver", rule.Subject)
		}
		if rule.Subject == p.Superuser {
			report(SeverityWarning, "superuser already holds every permission")
		}
	}

	return issues
}
