// Package store provides crash-safe persistence of the open position.
//
// The bot manages exactly one position, so the store is a single JSON
// file. Writes use atomic file replacement (write to .tmp, then rename)
// to prevent corruption from partial writes or crashes mid-save. The
// engine saves only after an open confirms on-chain and clears only
// after a close confirms, so on restart the file is always either
// absent or pointing at a live position account.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"whirlpool-lp/pkg/types"
)

type record struct {
	Position *types.PositionState `json:"position"`
}

// Store persists the position record to one JSON file.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open creates a store backed by the given file path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Save atomically persists the position record. It writes to a .tmp
// file first, then renames over the target to ensure the file is never
// left in a partial state (crash-safe).
func (s *Store) Save(pos types.PositionState) error {
	return s.write(record{Position: &pos})
}

// Clear removes the persisted position, marking the bot as flat.
func (s *Store) Clear() error {
	return s.write(record{})
}

// Load restores the position record from disk.
// Returns nil, nil if no position is persisted (fresh start or flat).
func (s *Store) Load() (*types.PositionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read position: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return rec.Position, nil
}

func (s *Store) write(rec record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return os.Rename(tmp, s.path)
}
