package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/titanous/json5"
)

// Store resolves prompts by id.
type Store interface {
	Resolve(id string) (*Prompt, error)
}

// MapStore is an in-memory Store. Safe for concurrent reads after loading.
type MapStore struct {
	mu      sync.RWMutex
	prompts map[string]*Prompt
}

func NewMapStore() *MapStore {
	return &MapStore{prompts: make(map[string]*Prompt)}
}

// Add registers a prompt under its target id. Duplicate targets are a
// startup error.
func (s *MapStore) Add(p *Prompt) error {
	if p.Target == "" {
		return fmt.Errorf("prompt has empty target")
	}
	id := strings.ToLower(p.Target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.prompts[id]; exists {
		return fmt.Errorf("duplicate prompt target %q", p.Target)
	}
	s.prompts[id] = p
	return nil
}

func (s *MapStore) Resolve(id string) (*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("prompt %q not found", id)
	}
	return p, nil
}

// LoadDir reads every *.json5 and *.json file in dir into a MapStore.
// The file name is irrelevant; the prompt's target field is the id.
func LoadDir(dir string) (*MapStore, error) {
	store := NewMapStore()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read prompt dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".json5" && ext != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", entry.Name(), err)
		}
		var p Prompt
		if err := json5.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse prompt %s: %w", entry.Name(), err)
		}
		if err := store.Add(&p); err != nil {
			return nil, err
		}
	}
	return store, nil
}
