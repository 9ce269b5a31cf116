package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FileSettingsStore persists settings as a single JSON document on disk.
type FileSettingsStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSettingsStore creates a settings store backed by the JSON file at path.
func NewFileSettingsStore(path string) (*FileSettingsStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("settings store: path is empty")
	}
	return &FileSettingsStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileSettingsStore) Path() string {
	return s.path
}

// Get returns the values for the requested keys.
func (s *FileSettingsStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		result := gjson.GetBytes(data, escapeKey(key))
		if result.Exists() {
			values[key] = result.String()
		}
	}
	return values, nil
}

// Set writes the given key-value pairs into the JSON document.
func (s *FileSettingsStore) Set(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}
	for key, value := range values {
		data, err = sjson.SetBytes(data, escapeKey(key), value)
		if err != nil {
			return fmt.Errorf("settings store: set %s failed: %w", key, err)
		}
	}
	return s.writeLocked(data)
}

// Remove deletes the given keys from the JSON document.
func (s *FileSettingsStore) Remove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}
	for _, key := range keys {
		data, err = sjson.DeleteBytes(data, escapeKey(key))
		if err != nil {
			return fmt.Errorf("settings store: remove %s failed: %w", key, err)
		}
	}
	return s.writeLocked(data)
}

func (s *FileSettingsStore) readLocked() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("settings store: read failed: %w", err)
	}
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	return data, nil
}

func (s *FileSettingsStore) writeLocked(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("settings store: create dir failed: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("settings store: write failed: %w", err)
	}
	return nil
}

// escapeKey protects literal dots in keys from gjson path interpretation.
func escapeKey(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}
