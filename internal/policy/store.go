package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"netguard/internal/model"
)

// Store is the durable policy set: one JSON document keyed by policy ID,
// rewritten in full on every change. An empty path keeps it in memory only.
type Store struct {
	path string

	mu       sync.RWMutex
	policies map[string]model.Policy
}

// OpenStore loads the document at path if it exists.
func OpenStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		policies: make(map[string]model.Policy),
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy store: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(data, &s.policies); err != nil {
		return nil, fmt.Errorf("failed to parse policy store %s: %w", path, err)
	}
	for id, p := range s.policies {
		if p.ID == "" {
			p.ID = id
			s.policies[id] = p
		}
	}
	return s, nil
}

// Upsert stores p under its ID and persists the whole document before returning.
func (s *Store) Upsert(p model.Policy) error {
	if p.ID == "" {
		return errors.New("policy id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.policies[p.ID]
	s.policies[p.ID] = p.Clone()
	if err := s.persistLocked(); err != nil {
		if existed {
			s.policies[p.ID] = prev
		} else {
			delete(s.policies, p.ID)
		}
		return err
	}
	return nil
}

func (s *Store) Get(id string) (model.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return model.Policy{}, false
	}
	return p.Clone(), true
}

// List returns all policies ordered by ID.
func (s *Store) List() []model.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.policies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal policies: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create policy store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write policy store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace policy store: %w", err)
	}
	return nil
}
