package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the process-wide settings tree, addressed by dotted path.
// Reads are concurrent; a successful Set notifies registered listeners so
// dependent services can re-initialize.
type Settings struct {
	mu        sync.RWMutex
	v         *viper.Viper
	path      string
	listeners []func(key string)
}

// NewSettings wraps the loaded viper instance. savePath is where Save
// persists the tree; empty means the viper config file location.
func NewSettings(v *viper.Viper, savePath string) *Settings {
	if savePath == "" {
		savePath = v.ConfigFileUsed()
	}
	if savePath == "" {
		savePath = "./config.yaml"
	}
	return &Settings{v: v, path: savePath}
}

// OnChange registers a listener invoked after every successful Set.
func (s *Settings) OnChange(fn func(key string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Get returns the value at a dotted path, or nil if absent.
func (s *Settings) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Get(key)
}

// GetString returns the string value at a dotted path.
func (s *Settings) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(key)
}

// All returns a copy of the whole tree, with keys sorted for stable output.
func (s *Settings) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.v.AllKeys()
	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = s.v.Get(k)
	}
	return out
}

// Set writes a value at a dotted path and notifies listeners.
func (s *Settings) Set(key string, value any) error {
	s.mu.Lock()
	s.v.Set(key, value)
	listeners := make([]func(string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(key)
	}
	return nil
}

// Unmarshal decodes the current tree into a fresh Config and validates it.
func (s *Settings) Unmarshal() (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := &Config{}
	if err := s.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the settings tree as YAML.
func (s *Settings) Save() error {
	s.mu.RLock()
	data, err := yaml.Marshal(s.v.AllSettings())
	path := s.path
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	// Write-then-rename so a crash mid-save never corrupts the file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load re-reads the settings file from disk, replacing in-memory values.
func (s *Settings) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.SetConfigFile(s.path)
	if err := s.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}
	return nil
}
