package scheduler

import (
	"context"
	"database/sql"
	"fmt"
)

// State is the persisted schedule bookkeeping, RFC3339 strings or empty.
type State struct {
	LastRun string
	NextRun string
}

// StateStore keeps last_run/next_run in a key-value table so the schedule
// survives server restarts.
type StateStore struct {
	db *sql.DB
}

// NewStateStore binds the store and ensures the schedule_state table.
func NewStateStore(db *sql.DB) (*StateStore, error) {
	if _, err := db.Exec(
		"CREATE TABLE IF NOT EXISTS schedule_state (key TEXT PRIMARY KEY, value TEXT)"); err != nil {
		return nil, fmt.Errorf("create schedule_state: %w", err)
	}
	return &StateStore{db: db}, nil
}

// Read returns the persisted state. Missing keys come back empty.
func (s *StateStore) Read(ctx context.Context) (State, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM schedule_state WHERE key IN ('last_run', 'next_run')")
	if err != nil {
		return State{}, err
	}
	defer rows.Close()
	var state State
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return State{}, err
		}
		switch key {
		case "last_run":
			state.LastRun = value
		case "next_run":
			state.NextRun = value
		}
	}
	return state, rows.Err()
}

func (s *StateStore) set(ctx context.Context, key, value string) error {
	if value == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM schedule_state WHERE key=?", key)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// SetLastRun persists the last run timestamp. Empty clears it.
func (s *StateStore) SetLastRun(ctx context.Context, value string) error {
	return s.set(ctx, "last_run", value)
}

// SetNextRun persists the next fire timestamp. Empty clears it.
func (s *StateStore) SetNextRun(ctx context.Context, value string) error {
	return s.set(ctx, "next_run", value)
}
