package policy

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/go-logr/logr"

	"github.com/porthorian/orgauthz/pkg/resource"
)

// The superuser rule is the only one written with "*" for both resource and
// action; Compile rejects that shape for every other subject.
const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && ((p.obj == "*" && p.act == "*") || (resourceMatch(r.obj, p.obj) && r.act == p.act))
`

const resourceMatchFunction = "resourceMatch"

type Engine struct {
	enforcer  *casbin.Enforcer
	superuser string
	rules     []Rule
	logger    logr.Logger
}

type Option func(*Engine)

func WithLogger(logger logr.Logger) Option {
	return func(e *Engine) {
		if logger.GetSink() != nil {
			e.logger = logger
		}
	}
}

// Compile validates p and builds an immutable engine from it.
func Compile(p Policy, opts ...Option) (*Engine, error) {
	if issues := Lint(p); issues.HasErrors() {
		return nil, fmt.Errorf("policy: invalid rules: %w", issues.Err())
	}

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("policy: load model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("policy: create enforcer: %w", err)
	}
	enforcer.AddFunction(resourceMatchFunction, resourceMatch)

	rules := dedupe(p.Rules)
	lines := make([][]string, 0, len(rules)+1)
	if p.Superuser != "" {
		lines = append(lines, []string{p.Superuser, resource.Wildcard, resource.Wildcard})
	}
	for _, rule := range rules {
		lines = append(lines, []string{rule.Subject, rule.Resource, rule.Action})
	}
	if len(lines) > 0 {
		if _, err := enforcer.AddPolicies(lines); err != nil {
			return nil, fmt.Errorf("policy: add rules: %w", err)
		}
	}

	engine := &Engine{
		enforcer:  enforcer,
		superuser: p.Superuser,
		rules:     rules,
		logger:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Enforce reports whether subject may perform action on res. Evaluation
// errors deny.
func (e *Engine) Enforce(subject string, res string, action string) bool {
	if e == nil || e.enforcer == nil {
		return false
	}

	allowed, err := e.enforcer.Enforce(subject, res, action)
	if err != nil {
		e.logger.Error(err, "policy evaluation failed", "subject", subject, "resource", res, "action", action)
		return false
	}
	return allowed
}

func (e *Engine) Superuser() string {
	return e.superuser
}

// Rules returns the compiled rules, excluding the superuser rule.
func (e *Engine) Rules() []Rule {
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	return rules
}

func resourceMatch(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return false, fmt.Errorf("%s: expected 2 arguments, got %d", resourceMatchFunction, len(args))
	}
	value, ok := args[0].(string)
	if !ok {
		return false, fmt.Errorf("%s: resource must be a string, got %T", resourceMatchFunction, args[0])
	}
	pattern, ok := args[1].(string)
	if !ok {
		return false, fmt.Errorf("%s: pattern must be a string, got %T", resourceMatchFunction, args[1])
	}
	return resource.Match(value, pattern), nil
}

func dedupe(rules []Rule) []Rule {
	seen := make(map[Rule]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if _, ok := seen[rule]; ok {
			continue
		}
		seen[rule] = struct{}{}
		out = append(out, rule)
	}
	return out
}
