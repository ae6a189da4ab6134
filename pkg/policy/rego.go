package policy

import (
	"context"
	"fmt"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/sequorlabs/sequor/pkg/domain"
)

const defaultRegoEntrypoint = "sequor/admission/allow"

// RegoRule evaluates an embedded Rego module as an extra admission rule.
// The module's entrypoint must produce a boolean; anything else denies.
// Input document: {"operation": name, "tier": tier, "inputs": {...}}.
type RegoRule struct {
	entrypoint string
	prepared   rego.PreparedEvalQuery
}

// NewRegoRule compiles the module and prepares the entrypoint query.
// An empty entrypoint selects "sequor/admission/allow".
func NewRegoRule(ctx context.Context, moduleName, source, entrypoint string) (*RegoRule, error) {
	entry := strings.TrimSpace(entrypoint)
	if entry == "" {
		entry = defaultRegoEntrypoint
	}

	module, err := ast.ParseModuleWithOpts(moduleName, source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module %q: %w", moduleName, err)
	}

	query := "data." + strings.ReplaceAll(entry, "/", ".")
	r := rego.New(
		rego.Query(query),
		rego.ParsedModule(module),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego module %q: %w", moduleName, err)
	}

	return &RegoRule{entrypoint: entry, prepared: prepared}, nil
}

// Allow evaluates the rule for one invocation.
func (r *RegoRule) Allow(operationName string, inputs map[string]any, tier domain.Tier) (bool, error) {
	payload := map[string]any{
		"operation": operationName,
		"tier":      string(tier),
		"inputs":    inputs,
	}

	results, err := r.prepared.Eval(context.Background(), rego.EvalInput(payload))
	if err != nil {
		return false, fmt.Errorf("rego eval: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// Undefined result: the rule did not match, treat as deny.
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("rego eval: entrypoint %s must be boolean, got %T",
			r.entrypoint, results[0].Expressions[0].Value)
	}
	return allowed, nil
}
