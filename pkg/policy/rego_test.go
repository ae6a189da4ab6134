package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequorlabs/sequor/pkg/domain"
)

const tierGateModule = `package sequor.admission

default allow := false

allow if {
	input.tier == "A"
}

allow if {
	input.tier == "B"
	input.operation != "apply_discount"
}
`

func TestRegoRule_Allow(t *testing.T) {
	ctx := context.Background()
	rule, err := NewRegoRule(ctx, "tier_gate.rego", tierGateModule, "")
	require.NoError(t, err)

	allowed, err := rule.Allow("to_uppercase", nil, domain.TierA)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rule.Allow("mask_email", nil, domain.TierB)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rule.Allow("apply_discount", nil, domain.TierB)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRegoRule_InvalidModule(t *testing.T) {
	_, err := NewRegoRule(context.Background(), "bad.rego", "package {{{", "")
	assert.Error(t, err)
}

func TestRegoRule_UndefinedDenies(t *testing.T) {
	// No default rule: an operation the module never matches is undefined,
	// which must read as deny.
	module := `package sequor.admission

allow if {
	input.operation == "word_count"
}
`
	rule, err := NewRegoRule(context.Background(), "sparse.rego", module, "")
	require.NoError(t, err)

	allowed, err := rule.Allow("word_count", nil, domain.TierA)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rule.Allow("anything_else", nil, domain.TierA)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEngine_WithRego(t *testing.T) {
	rule, err := NewRegoRule(context.Background(), "tier_gate.rego", tierGateModule, "")
	require.NoError(t, err)

	engine := NewEngine(Config{Mode: ModeDenyList}).WithRego(rule)

	allowed, reason := engine.Check("to_uppercase", nil, domain.TierA)
	assert.True(t, allowed)
	assert.Equal(t, ReasonAllowed, reason)

	allowed, reason = engine.Check("apply_discount", nil, domain.TierB)
	assert.False(t, allowed)
	assert.Equal(t, RuleRegoDeny, reason)
}
