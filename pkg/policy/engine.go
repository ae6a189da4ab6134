package policy

import (
	"sync"

	"github.com/sequorlabs/sequor/pkg/domain"
)

// Mode selects how the operation list is interpreted.
type Mode string

const (
	// ModeAllowList denies every operation not in the allow set.
	ModeAllowList Mode = "allow-list"
	// ModeDenyList allows every operation not in the deny set.
	ModeDenyList Mode = "deny-list"
)

// Rule ids returned as the deny reason. These are machine-readable and
// part of the audit contract: callers and ledgers match on them.
const (
	RuleAllowListMiss = "allow-list-miss"
	RuleDenyListHit   = "deny-list-hit"
	RuleTierMismatch  = "tier-mismatch"
	RuleRateLimit     = "rate-limit"
	RuleRegoDeny      = "rego-deny"
)

// ReasonAllowed is returned when every rule passes.
const ReasonAllowed = "ALLOWED"

// Violation is a permanent record of one denied admission check.
type Violation struct {
	OperationName string         `json:"operationName"`
	Reason        string         `json:"reason"`
	RuleID        string         `json:"ruleId"`
	Inputs        map[string]any `json:"inputs,omitempty"`
}

// Config declares an admission policy.
type Config struct {
	Mode              Mode          `json:"mode" yaml:"mode" validate:"required,oneof=allow-list deny-list"`
	AllowedOperations []string      `json:"allowed_operations,omitempty" yaml:"allowed_operations,omitempty"`
	DeniedOperations  []string      `json:"denied_operations,omitempty" yaml:"denied_operations,omitempty"`
	AllowedTiers      []domain.Tier `json:"allowed_tiers,omitempty" yaml:"allowed_tiers,omitempty"`
	// MaxCallsPerOperation caps invocations per operation for the engine's
	// lifetime. Zero means unlimited.
	MaxCallsPerOperation int `json:"max_calls_per_operation,omitempty" yaml:"max_calls_per_operation,omitempty" validate:"gte=0"`
}

// Engine makes the allow or deny decision for each invocation. Check is a
// pure admission function: it never executes anything, so policy stays
// auditable independent of execution outcome. Safe for concurrent use
// across runs.
type Engine struct {
	mu         sync.Mutex
	mode       Mode
	allowed    map[string]struct{}
	denied     map[string]struct{}
	tiers      map[domain.Tier]struct{}
	maxCalls   int
	callCounts map[string]int
	violations []Violation
	rego       *RegoRule
}

// NewEngine builds an engine from a policy config. An empty tier list
// defaults to tiers A and B, matching the catalog's vetted set.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		mode:       cfg.Mode,
		allowed:    make(map[string]struct{}, len(cfg.AllowedOperations)),
		denied:     make(map[string]struct{}, len(cfg.DeniedOperations)),
		tiers:      make(map[domain.Tier]struct{}),
		maxCalls:   cfg.MaxCallsPerOperation,
		callCounts: make(map[string]int),
	}
	if e.mode == "" {
		e.mode = ModeAllowList
	}
	for _, name := range cfg.AllowedOperations {
		e.allowed[name] = struct{}{}
	}
	for _, name := range cfg.DeniedOperations {
		e.denied[name] = struct{}{}
	}
	tiers := cfg.AllowedTiers
	if len(tiers) == 0 {
		tiers = []domain.Tier{domain.TierA, domain.TierB}
	}
	for _, tier := range tiers {
		e.tiers[tier] = struct{}{}
	}
	return e
}

// WithRego attaches a Rego rule evaluated after the built-in rules pass.
func (e *Engine) WithRego(rule *RegoRule) *Engine {
	e.rego = rule
	return e
}

// Check decides whether the operation may be invoked. The first failing
// rule wins; its rule id is returned as the reason and the denial is
// recorded in the violation log. On pass the call counter increments and
// the reason is ReasonAllowed.
func (e *Engine) Check(operationName string, inputs map[string]any, tier domain.Tier) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.mode {
	case ModeAllowList:
		if _, ok := e.allowed[operationName]; !ok {
			e.recordViolation(operationName, RuleAllowListMiss, inputs)
			return false, RuleAllowListMiss
		}
	case ModeDenyList:
		if _, ok := e.denied[operationName]; ok {
			e.recordViolation(operationName, RuleDenyListHit, inputs)
			return false, RuleDenyListHit
		}
	}

	if _, ok := e.tiers[tier]; !ok {
		e.recordViolation(operationName, RuleTierMismatch, inputs)
		return false, RuleTierMismatch
	}

	if e.maxCalls > 0 && e.callCounts[operationName] >= e.maxCalls {
		e.recordViolation(operationName, RuleRateLimit, inputs)
		return false, RuleRateLimit
	}

	if e.rego != nil {
		allowed, err := e.rego.Allow(operationName, inputs, tier)
		if err != nil || !allowed {
			e.recordViolation(operationName, RuleRegoDeny, inputs)
			return false, RuleRegoDeny
		}
	}

	e.callCounts[operationName]++
	return true, ReasonAllowed
}

func (e *Engine) recordViolation(operationName, ruleID string, inputs map[string]any) {
	e.violations = append(e.violations, Violation{
		OperationName: operationName,
		Reason:        ruleID,
		RuleID:        ruleID,
		Inputs:        inputs,
	})
}

// Violations returns a copy of the permanent violation log.
func (e *Engine) Violations() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Violation, len(e.violations))
	copy(out, e.violations)
	return out
}

// CallCount returns how many admitted calls the operation has consumed.
func (e *Engine) CallCount(operationName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCounts[operationName]
}

// Stats summarizes enforcement state for diagnostics endpoints.
type Stats struct {
	Mode         Mode           `json:"mode"`
	AllowedCount int            `json:"allowedCount"`
	DeniedCount  int            `json:"deniedCount"`
	AllowedTiers []domain.Tier  `json:"allowedTiers"`
	TotalChecks  int            `json:"totalChecks"`
	Violations   int            `json:"violations"`
	CallCounts   map[string]int `json:"callCounts"`
}

// Stats returns current enforcement statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[string]int, len(e.callCounts))
	total := 0
	for name, n := range e.callCounts {
		counts[name] = n
		total += n
	}
	tiers := make([]domain.Tier, 0, len(e.tiers))
	for tier := range e.tiers {
		tiers = append(tiers, tier)
	}
	return Stats{
		Mode:         e.mode,
		AllowedCount: len(e.allowed),
		DeniedCount:  len(e.denied),
		AllowedTiers: tiers,
		TotalChecks:  total,
		Violations:   len(e.violations),
		CallCounts:   counts,
	}
}

// FinancialPolicy is a prebuilt allow-list for payment-adjacent workloads:
// tier A only, tight operation set, budgeted calls.
func FinancialPolicy() *Engine {
	return NewEngine(Config{
		Mode: ModeAllowList,
		AllowedOperations: []string{
			"is_valid_email",
			"is_valid_phone",
			"is_valid_credit_card",
			"mask_credit_card",
			"mask_email",
			"calculate_tax_amount",
			"calculate_interest",
			"verify_account",
			"process_payment",
			"sanitize_html",
			"parse_json",
			"to_json",
			"format_currency",
			"validate_amount",
		},
		AllowedTiers:         []domain.Tier{domain.TierA},
		MaxCallsPerOperation: 100,
	})
}

// ReadOnlyPolicy is a prebuilt allow-list admitting only validation and
// inspection operations.
func ReadOnlyPolicy() *Engine {
	return NewEngine(Config{
		Mode: ModeAllowList,
		AllowedOperations: []string{
			"is_valid_email",
			"is_valid_phone",
			"is_valid_url",
			"is_valid_credit_card",
			"is_palindrome",
			"is_numeric",
			"is_alpha",
			"word_count",
			"string_length",
			"count_vowels",
			"parse_json",
		},
		AllowedTiers: []domain.Tier{domain.TierA, domain.TierB},
	})
}
