// Package hidelist persists the per-user, per-device set of locally hidden
// message ids. Hiding is a render-time suppression only: no network mutation
// of the row, never synchronized to other devices or users.
package hidelist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store keeps hide sets keyed by user id and mirrors them to a JSON file in
// the state directory, so hidden messages stay hidden across restarts.
type Store struct {
	mu   sync.RWMutex
	path string
	sets map[string]map[string]struct{}
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hidelist mkdir: %w", err)
	}
	s := &Store{
		path: filepath.Join(dir, "hidden_messages.json"),
		sets: make(map[string]map[string]struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("hidelist read: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hidelist parse: %w", err)
	}
	for userID, ids := range raw {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		s.sets[userID] = set
	}
	return nil
}

// persist writes the full state file. Caller holds the write lock.
func (s *Store) persist() error {
	raw := make(map[string][]string, len(s.sets))
	for userID, set := range s.sets {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		raw[userID] = ids
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("hidelist marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("hidelist write: %w", err)
	}
	return nil
}

// Hide adds a message id to the user's hide set.
func (s *Store) Hide(userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[userID]
	if !ok {
		set = make(map[string]struct{})
		s.sets[userID] = set
	}
	if _, exists := set[messageID]; exists {
		return nil
	}
	set[messageID] = struct{}{}
	return s.persist()
}

// Unhide removes a message id from the user's hide set.
func (s *Store) Unhide(userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[userID]
	if !ok {
		return nil
	}
	if _, exists := set[messageID]; !exists {
		return nil
	}
	delete(set, messageID)
	return s.persist()
}

// IsHidden reports whether the user has hidden the message.
func (s *Store) IsHidden(userID, messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sets[userID][messageID]
	return ok
}
