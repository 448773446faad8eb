package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage implements file-based badge state persistence.
// Every write rewrites the whole file through a temp file and rename.
type FileStorage struct {
	filePath string
	states   map[string]BadgeStateData
	mu       sync.RWMutex
}

// fileFormat is the on-disk layout
type fileFormat struct {
	Version int                       `json:"version"`
	States  map[string]BadgeStateData `json:"states"`
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(filePath string) (*FileStorage, error) {
	fs := &FileStorage{
		filePath: filePath,
		states:   make(map[string]BadgeStateData),
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := fs.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load existing badge state: %w", err)
	}

	return fs, nil
}

// Save stores the state and syncs to file
func (fs *FileStorage) Save(state *BadgeStateData) error {
	if state == nil || state.Key == "" {
		return fmt.Errorf("badge state key cannot be empty")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev, existed := fs.states[state.Key]
	fs.states[state.Key] = *state
	if err := fs.syncToFile(); err != nil {
		if existed {
			fs.states[state.Key] = prev
		} else {
			delete(fs.states, state.Key)
		}
		return err
	}
	return nil
}

// Load retrieves the state for key
func (fs *FileStorage) Load(key string) (*BadgeStateData, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	state, exists := fs.states[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &state, nil
}

// Delete removes the state and syncs to file
func (fs *FileStorage) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.states[key]; !exists {
		return nil
	}
	delete(fs.states, key)
	return fs.syncToFile()
}

// Close flushes the current state
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncToFile()
}

// loadFromFile reads the file into memory
func (fs *FileStorage) loadFromFile() error {
	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var content fileFormat
	if err := json.Unmarshal(data, &content); err != nil {
		return fmt.Errorf("failed to parse %s: %w", fs.filePath, err)
	}
	for key, state := range content.States {
		fs.states[key] = state
	}
	return nil
}

// syncToFile writes the in-memory states to disk. Caller must hold the lock.
func (fs *FileStorage) syncToFile() error {
	data, err := json.MarshalIndent(fileFormat{Version: 1, States: fs.states}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal badge state: %w", err)
	}

	tmpFile := fs.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, fs.filePath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
