package policy

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// Source produces the policy compiled by a Loader.
type Source interface {
	Load(ctx context.Context) (Policy, error)
}

type SourceFunc func(ctx context.Context) (Policy, error)

func (f SourceFunc) Load(ctx context.Context) (Policy, error) {
	return f(ctx)
}

func Static(p Policy) Source {
	return SourceFunc(func(context.Context) (Policy, error) {
		return p, nil
	})
}

// File reads a YAML policy from path on every load.
func File(path string) Source {
	return SourceFunc(func(ctx context.Context) (Policy, error) {
		if err := ctx.Err(); err != nil {
			return Policy{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
		}
		p, err := Parse(data)
		if err != nil {
			return Policy{}, fmt.Errorf("policy: parse %s: %w", path, err)
		}
		return p, nil
	})
}

// Default is the built-in workspace policy.
func Default() Source {
	return SourceFunc(func(context.Context) (Policy, error) {
		return Parse(defaultPolicyYAML)
	})
}

func DefaultYAML() []byte {
	return bytes.Clone(defaultPolicyYAML)
}

type document struct {
	Superuser string         `yaml:"superuser"`
	Rules     []ruleDocument `yaml:"rules"`
}

type ruleDocument struct {
	Subject  string   `yaml:"subject"`
	Resource string   `yaml:"resource"`
	Action   string   `yaml:"action"`
	Actions  []string `yaml:"actions"`
}

// Parse decodes the YAML policy format. Each entry names one subject and
// resource with either a single action or a list of actions.
func Parse(data []byte) (Policy, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, err
	}

	p := Policy{Superuser: strings.TrimSpace(doc.Superuser)}
	for i, entry := range doc.Rules {
		actions := entry.Actions
		if entry.Action != "" {
			actions = append([]string{entry.Action}, actions...)
		}
		if len(actions) == 0 {
			return Policy{}, fmt.Errorf("rule %d: action or actions is required", i)
		}
		for _, action := range actions {
			p.Rules = append(p.Rules, Rule{
				Subject:  strings.TrimSpace(entry.Subject),
				Resource: strings.TrimSpace(entry.Resource),
				Action:   strings.TrimSpace(action),
			})
		}
	}
	return p, nil
}

// Marshal renders p in the format read by Parse, one action per entry.
func Marshal(p Policy) ([]byte, error) {
	doc := document{Superuser: p.Superuser}
	for _, rule := range p.Rules {
		doc.Rules = append(doc.Rules, ruleDocument{
			Subject:  rule.Subject,
			Resource: rule.Resource,
			Action:   rule.Action,
		})
	}
	return yaml.Marshal(doc)
}
