package audit

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists ledger entries in a SQLite database so the chain
// survives process restarts and can be verified offline.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the ledger database at path. WAL mode allows
// verification reads while a run is appending; a single writer connection
// avoids SQLITE_BUSY on the append path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect audit database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store. The primary key on (agent_id, sequence) rejects
// any attempt to rewrite an existing position in the chain.
func (s *SQLiteStore) Append(entry Entry) error {
	inputsJSON, err := json.Marshal(entry.Inputs)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	outputsJSON, err := json.Marshal(entry.Outputs)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO audit_entries
		(agent_id, sequence, timestamp, action, block_name, inputs, outputs,
		 success, execution_time_ms, policy_status, previous_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.AgentID,
		entry.Sequence,
		entry.Timestamp,
		entry.Action,
		entry.BlockName,
		string(inputsJSON),
		string(outputsJSON),
		entry.Success,
		entry.ExecutionTimeMs,
		entry.PolicyStatus,
		entry.PreviousHash,
		entry.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Load implements Store, returning an agent's entries in sequence order.
func (s *SQLiteStore) Load(agentID string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT sequence, timestamp, action, block_name, inputs, outputs,
		       success, execution_time_ms, policy_status, previous_hash, entry_hash
		FROM audit_entries
		WHERE agent_id = ?
		ORDER BY sequence
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry       Entry
			inputsJSON  string
			outputsJSON string
		)
		entry.AgentID = agentID
		if err := rows.Scan(
			&entry.Sequence,
			&entry.Timestamp,
			&entry.Action,
			&entry.BlockName,
			&inputsJSON,
			&outputsJSON,
			&entry.Success,
			&entry.ExecutionTimeMs,
			&entry.PolicyStatus,
			&entry.PreviousHash,
			&entry.EntryHash,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(inputsJSON), &entry.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs for entry %d: %w", entry.Sequence, err)
		}
		if err := json.Unmarshal([]byte(outputsJSON), &entry.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs for entry %d: %w", entry.Sequence, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	return entries, nil
}

// Agents returns the distinct agent ids present in the store.
func (s *SQLiteStore) Agents() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT agent_id FROM audit_entries ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list audit agents: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
