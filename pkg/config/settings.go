package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/homesteadops/homestead/pkg/engine"
)

// Settings is a YAML-file-backed key-value store for mutable runtime
// settings. Writes persist immediately; the file is replaced atomically.
type Settings struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// OpenSettings loads the settings file at path, creating an empty store if
// the file does not exist yet.
func OpenSettings(path string) (*Settings, error) {
	s := &Settings{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Settings) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

// Set stores a value and persists the file.
func (s *Settings) Set(key, value string) error {
	if key == "" {
		return engine.NewValidationError("settings key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value

	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

var _ engine.ConfigStore = (*Settings)(nil)
