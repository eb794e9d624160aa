package webhook

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/citymesh/portaledge/internal/expr"
)

// Rule is one operator-defined purge rule: when the condition evaluates true
// against a verified payload, the listed tags and paths are purged in addition
// to the built-in dispatch branches. Rules are additive only; they never
// suppress built-in invalidations.
type Rule struct {
	Name  string   `koanf:"name" json:"name"`
	When  string   `koanf:"when" json:"when"`
	Tags  []string `koanf:"tags" json:"tags,omitempty"`
	Paths []string `koanf:"paths" json:"paths,omitempty"`
}

// CompiledRule pairs a rule with its checked condition program.
type CompiledRule struct {
	Name    string
	program cel.Program
	tags    []string
	paths   []string
}

// CompileRules validates every rule condition at load time so a malformed
// expression surfaces at startup or reload, never mid-dispatch.
func CompileRules(env *expr.Environment, rules []Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))
	for i, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		if strings.TrimSpace(rule.When) == "" {
			return nil, fmt.Errorf("webhook: purge rule %q: empty condition", name)
		}
		if len(rule.Tags) == 0 && len(rule.Paths) == 0 {
			return nil, fmt.Errorf("webhook: purge rule %q: no tags or paths to purge", name)
		}
		program, err := env.Compile(rule.When)
		if err != nil {
			return nil, fmt.Errorf("webhook: purge rule %q: %w", name, err)
		}
		compiled = append(compiled, CompiledRule{
			Name:    name,
			program: program,
			tags:    append([]string(nil), rule.Tags...),
			paths:   append([]string(nil), rule.Paths...),
		})
	}
	return compiled, nil
}

// matches evaluates the rule condition against a payload.
func (r CompiledRule) matches(p Payload) (bool, error) {
	activation := map[string]any{
		"event":  p.Event,
		"site":   p.Site,
		"entity": p.Entity,
		"refs": map[string]any{
			"pageId":  p.PageID,
			"slug":    p.Slug,
			"channel": p.Channel,
			"region":  p.Region,
		},
	}
	return expr.EvalBool(r.program, activation)
}
