package authz

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/krestgw/internal/auth/basic"
	"github.com/vyrodovalexey/krestgw/internal/config"
)

// Rule is a compiled CEL authorization rule. Every rule must hold for
// a request to be allowed, so rules act as additional constraints on
// top of the role policy.
type Rule struct {
	Name       string
	Expression string
	program    cel.Program
}

// RuleSet holds compiled CEL rules.
type RuleSet struct {
	rules []Rule
}

// newRuleEnv creates the CEL environment. Rules see the credential key
// and role plus the request method and path.
func newRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
	)
}

// CompileRules compiles the configured policies into a rule set.
func CompileRules(policies []config.PolicyConfig) (*RuleSet, error) {
	if len(policies) == 0 {
		return nil, nil
	}

	env, err := newRuleEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}

	rs := &RuleSet{rules: make([]Rule, 0, len(policies))}

	for _, p := range policies {
		ast, issues := env.Compile(p.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy %q: failed to compile expression: %w",
				p.Name, issues.Err())
		}

		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("policy %q: expression must evaluate to bool, got %s",
				p.Name, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy %q: failed to create program: %w", p.Name, err)
		}

		rs.rules = append(rs.rules, Rule{
			Name:       p.Name,
			Expression: p.Expression,
			program:    program,
		})
	}

	return rs, nil
}

// Evaluate runs all rules against the request. The first rule that
// evaluates to false or errors denies the request.
func (rs *RuleSet) Evaluate(
	ctx context.Context,
	cred *basic.Credential,
	method, path string,
) *Decision {
	input := map[string]interface{}{
		"key":    cred.Key,
		"role":   cred.Role.String(),
		"method": method,
		"path":   path,
	}

	for _, rule := range rs.rules {
		result, _, err := rule.program.ContextEval(ctx, input)
		if err != nil {
			return &Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("rule evaluation error: %v", err),
				Policy:  rule.Name,
			}
		}

		allowed, ok := result.Value().(bool)
		if !ok || !allowed {
			return &Decision{
				Allowed: false,
				Reason:  "denied by rule " + rule.Name,
				Policy:  rule.Name,
			}
		}
	}

	return &Decision{Allowed: true, Reason: "all rules permitted", Policy: "rules"}
}

// Len returns the number of rules in the set.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}
