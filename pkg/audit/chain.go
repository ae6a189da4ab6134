package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the previous-hash sentinel for a chain's first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action kinds recorded in the ledger.
const (
	ActionExecute   = "EXECUTE"
	ActionViolation = "VIOLATION"
)

// Policy statuses recorded with entries.
const (
	PolicyStatusAllowed = "ALLOWED"
	PolicyStatusBlocked = "BLOCKED"
)

// Entry is one immutable ledger record. The JSON field names are a wire
// contract: hashes are computed over a canonical field-sorted document
// using exactly these names, so they must never change.
type Entry struct {
	Sequence        int            `json:"sequence"`
	Timestamp       string         `json:"timestamp"`
	Action          string         `json:"action"`
	BlockName       string         `json:"blockName"`
	Inputs          map[string]any `json:"inputs"`
	Outputs         map[string]any `json:"outputs"`
	Success         bool           `json:"success"`
	ExecutionTimeMs float64        `json:"executionTimeMs"`
	AgentID         string         `json:"agentId"`
	PolicyStatus    string         `json:"policyStatus"`
	PreviousHash    string         `json:"previousHash"`
	EntryHash       string         `json:"entryHash"`
}

// ComputeHash returns the SHA-256 of the entry's canonical document: every
// field except EntryHash itself, serialized with sorted keys. Marshaling a
// map gives sorted-key JSON, which keeps the digest reproducible across
// implementations.
func (e Entry) ComputeHash() string {
	doc := map[string]any{
		"sequence":        e.Sequence,
		"timestamp":       e.Timestamp,
		"action":          e.Action,
		"blockName":       e.BlockName,
		"inputs":          e.Inputs,
		"outputs":         e.Outputs,
		"success":         e.Success,
		"executionTimeMs": e.ExecutionTimeMs,
		"agentId":         e.AgentID,
		"policyStatus":    e.PolicyStatus,
		"previousHash":    e.PreviousHash,
	}
	// Sanitized fields marshal cleanly; an error here would mean a bug in
	// sanitize, not bad caller data.
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("audit: canonical marshal failed: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Chain is the append-only ledger for one agent. Appends are serialized by
// a mutex: reading the last hash, hashing, and appending must be atomic or
// two concurrent writers fork the chain.
type Chain struct {
	mu         sync.Mutex
	agentID    string
	entries    []Entry
	violations int
	started    time.Time
	store      Store

	// now is swappable for reproducible ledgers in tests.
	now func() time.Time
}

// ChainOption customizes chain construction.
type ChainOption func(*Chain)

// WithStore attaches write-through persistence for appended entries.
func WithStore(store Store) ChainOption {
	return func(c *Chain) { c.store = store }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

// NewChain creates an empty ledger for the given agent.
func NewChain(agentID string, opts ...ChainOption) *Chain {
	if agentID == "" {
		agentID = "default-agent"
	}
	c := &Chain{
		agentID: agentID,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now().UTC()
	return c
}

// AgentID returns the agent this ledger belongs to.
func (c *Chain) AgentID() string {
	return c.agentID
}

// LastHash returns the newest entry's hash, or the genesis sentinel for an
// empty chain.
func (c *Chain) LastHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHashLocked()
}

func (c *Chain) lastHashLocked() string {
	if len(c.entries) == 0 {
		return GenesisHash
	}
	return c.entries[len(c.entries)-1].EntryHash
}

// LogExecution appends an execution record and returns the sealed entry.
func (c *Chain) LogExecution(blockName string, inputs, outputs map[string]any, success bool, executionTimeMs float64, policyStatus string) (Entry, error) {
	if policyStatus == "" {
		policyStatus = PolicyStatusAllowed
	}
	return c.append(ActionExecute, blockName, inputs, outputs, success, executionTimeMs, policyStatus)
}

// LogViolation appends a policy-denial record. The denial reason is stored
// in the outputs so it is covered by the entry hash.
func (c *Chain) LogViolation(blockName string, inputs map[string]any, reason string) (Entry, error) {
	outputs := map[string]any{"violation_reason": reason}
	entry, err := c.append(ActionViolation, blockName, inputs, outputs, false, 0, PolicyStatusBlocked)
	if err == nil {
		c.mu.Lock()
		c.violations++
		c.mu.Unlock()
	}
	return entry, err
}

func (c *Chain) append(action, blockName string, inputs, outputs map[string]any, success bool, executionTimeMs float64, policyStatus string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		Sequence:        len(c.entries) + 1,
		Timestamp:       c.now().UTC().Format(time.RFC3339Nano),
		Action:          action,
		BlockName:       blockName,
		Inputs:          sanitizeMap(inputs),
		Outputs:         sanitizeMap(outputs),
		Success:         success,
		ExecutionTimeMs: executionTimeMs,
		AgentID:         c.agentID,
		PolicyStatus:    policyStatus,
		PreviousHash:    c.lastHashLocked(),
	}
	entry.EntryHash = entry.ComputeHash()

	if c.store != nil {
		if err := c.store.Append(entry); err != nil {
			return Entry{}, fmt.Errorf("persist audit entry %d: %w", entry.Sequence, err)
		}
	}
	c.entries = append(c.entries, entry)
	return entry, nil
}

// VerifyChain recomputes every entry hash and checks linkage in order. It
// reports false at the first mismatch and never attempts repair.
func (c *Chain) VerifyChain() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return VerifyEntries(c.entries)
}

// VerifyEntries checks an entry sequence loaded from any storage: each
// entry's stored hash must match recomputation, and its previous-hash must
// equal the prior entry's stored hash (genesis sentinel first).
func VerifyEntries(entries []Entry) bool {
	expectedPrev := GenesisHash
	for _, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return false
		}
		if entry.EntryHash != entry.ComputeHash() {
			return false
		}
		expectedPrev = entry.EntryHash
	}
	return true
}

// Entries returns a copy of the ledger in append order.
func (c *Chain) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of appended entries.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Summary is the ledger overview exposed to callers.
type Summary struct {
	AgentID              string `json:"agentId"`
	SessionStart         string `json:"sessionStart"`
	TotalEntries         int    `json:"totalEntries"`
	SuccessfulExecutions int    `json:"successfulExecutions"`
	FailedExecutions     int    `json:"failedExecutions"`
	Violations           int    `json:"violations"`
	ChainValid           bool   `json:"chainValid"`
	FirstHash            string `json:"firstHash,omitempty"`
	LastHash             string `json:"lastHash,omitempty"`
}

// GetSummary computes the ledger overview, including a full verification.
func (c *Chain) GetSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		AgentID:      c.agentID,
		SessionStart: c.started.Format(time.RFC3339Nano),
		TotalEntries: len(c.entries),
		Violations:   c.violations,
		ChainValid:   VerifyEntries(c.entries),
	}
	for _, e := range c.entries {
		if e.Action != ActionExecute {
			continue
		}
		if e.Success {
			s.SuccessfulExecutions++
		} else {
			s.FailedExecutions++
		}
	}
	if len(c.entries) > 0 {
		s.FirstHash = c.entries[0].EntryHash
		s.LastHash = c.entries[len(c.entries)-1].EntryHash
	}
	return s
}

// Export serializes the whole ledger with its summary.
func (c *Chain) Export() ([]byte, error) {
	doc := struct {
		Metadata Summary `json:"metadata"`
		Entries  []Entry `json:"entries"`
	}{
		Metadata: c.GetSummary(),
		Entries:  c.Entries(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// sanitizeMap makes a map safe for canonical JSON hashing: scalars and
// nested maps/slices pass through, everything else is stringified.
func sanitizeMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return t
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = sanitizeValue(inner)
		}
		return out
	default:
		s := fmt.Sprintf("%v", t)
		return strings.ToValidUTF8(s, "�")
	}
}
