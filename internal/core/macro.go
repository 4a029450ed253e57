package core

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MacroStore resolves a saved macro id to its G-code body. Controllers
// depend only on this interface, never on a concrete storage backend.
type MacroStore interface {
	Macro(id string) (name, gcode string, err error)
}

// FileReader reads a G-code file from disk by path. Controllers depend
// only on this interface, never on the filesystem directly.
type FileReader interface {
	ReadFile(path string) (string, error)
}

// OSFileReader is the straightforward FileReader backed by os.ReadFile.
type OSFileReader struct{}

// ReadFile reads path and returns its contents as a string.
func (OSFileReader) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path, not attacker-controlled
	if err != nil {
		return "", fmt.Errorf("read gcode file %q: %w", path, err)
	}
	return string(data), nil
}

// macroRecord is one entry of the YAML-backed macro store file.
type macroRecord struct {
	Name  string `yaml:"name"`
	Gcode string `yaml:"gcode"`
}

// YAMLMacroStore is a minimal concrete MacroStore: a YAML file mapping
// macro id -> {name, gcode}, loaded once and reloadable on demand.
type YAMLMacroStore struct {
	path string

	mu     sync.RWMutex
	macros map[string]macroRecord
}

// LoadYAMLMacroStore reads path and returns a populated YAMLMacroStore.
func LoadYAMLMacroStore(path string) (*YAMLMacroStore, error) {
	s := &YAMLMacroStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the backing YAML file, replacing the in-memory macro set.
func (s *YAMLMacroStore) Reload() error {
	data, err := os.ReadFile(s.path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return fmt.Errorf("read macro store %q: %w", s.path, err)
	}

	var macros map[string]macroRecord
	if err := yaml.Unmarshal(data, &macros); err != nil {
		return fmt.Errorf("parse macro store %q: %w", s.path, err)
	}

	s.mu.Lock()
	s.macros = macros
	s.mu.Unlock()

	return nil
}

// Macro returns the name and gcode body for id.
func (s *YAMLMacroStore) Macro(id string) (name, gcode string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.macros[id]
	if !ok {
		return "", "", fmt.Errorf("macro %q: %w", id, ErrMacroNotFound)
	}
	return rec.Name, rec.Gcode, nil
}
