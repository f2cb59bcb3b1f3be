// Package store is a small persistent key-value store organised in
// namespaces, kept in a single YAML file.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"gopkg.in/yaml.v3"
)

type document map[string]map[string]interface{}

// Store holds all namespaces in memory and rewrites the file on every Put.
// A Store without a path keeps values in memory only.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Memory returns a store that never touches the filesystem.
func Memory() *Store {
	return &Store{doc: document{}}
}

// Open loads the file at path. A missing file is an empty store. If the
// file cannot be read or parsed, the returned store is memory-only and the
// error says why; the store is usable either way.
func Open(path string) (*Store, error) {
	if path == "" {
		return Memory(), nil
	}
	s := &Store{path: path, doc: document{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		debug.Verbose("Store: %s does not exist yet, starting empty", path)
		return s, nil
	}
	if err != nil {
		s.path = ""
		return s, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		s.path = ""
		s.doc = document{}
		return s, fmt.Errorf("store: parse %s: %w", path, err)
	}
	if s.doc == nil {
		s.doc = document{}
	}
	debug.Verbose("Store: loaded %d namespace(s) from %s", len(s.doc), path)
	return s, nil
}

// Persistent reports whether writes reach the filesystem.
func (s *Store) Persistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path != ""
}

// Floats returns all numeric values of a namespace. ok is false when the
// namespace has never been written.
func (s *Store) Floats(ns string) (values map[string]float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.doc[ns]
	if !ok {
		return nil, false
	}
	values = make(map[string]float64, len(entries))
	for k, v := range entries {
		switch n := v.(type) {
		case float64:
			values[k] = n
		case int:
			values[k] = float64(n)
		}
	}
	return values, true
}

// PutFloats replaces the namespace with values and saves.
func (s *Store) PutFloats(ns string, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make(map[string]interface{}, len(values))
	for k, v := range values {
		entries[k] = v
	}
	s.doc[ns] = entries
	return s.save()
}

// PutFloat updates a single key, leaving the rest of the namespace alone.
func (s *Store) PutFloat(ns, key string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries(ns)[key] = v
	return s.save()
}

// String returns a string value.
func (s *Store) String(ns, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc[ns][key].(string)
	return v, ok
}

// PutString stores a string value and saves.
func (s *Store) PutString(ns, key, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries(ns)[key] = v
	return s.save()
}

func (s *Store) entries(ns string) map[string]interface{} {
	e, ok := s.doc[ns]
	if !ok {
		e = make(map[string]interface{})
		s.doc[ns] = e
	}
	return e
}

// save writes to a temporary file next to the target and renames it over.
// Caller holds mu.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: %w", err)
	}
	debug.Trace("Store: saved %s", s.path)
	return nil
}
