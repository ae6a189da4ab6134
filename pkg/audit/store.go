package audit

import "sync"

// Store persists ledger entries outside process memory. Append is called
// under the chain's lock, so implementations see entries strictly in
// sequence order.
type Store interface {
	Append(entry Entry) error
	Load(agentID string) ([]Entry, error)
	Close() error
}

// MemoryStore keeps entries in memory, grouped by agent. Used in tests and
// for ephemeral deployments that still want Load semantics.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

// Append implements Store.
func (s *MemoryStore) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.AgentID] = append(s.entries[entry.AgentID], entry)
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(agentID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.entries[agentID]
	out := make([]Entry, len(stored))
	copy(out, stored)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
