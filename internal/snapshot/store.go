// Package snapshot persists world snapshots as JSON files.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"pairLedger/internal/model"
)

// ErrNotFound is returned when no snapshot exists at the path.
var ErrNotFound = errors.New("snapshot not found")

// FileStore reads and writes one snapshot file. Writes go to a temporary file
// first and are renamed into place.
type FileStore struct {
	Path string
}

// Load reads the snapshot.
func (s *FileStore) Load() (model.WorldSnapshot, error) {
	if s == nil || s.Path == "" {
		return model.WorldSnapshot{}, fmt.Errorf("snapshot path is required")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.WorldSnapshot{}, fmt.Errorf("%w: %s", ErrNotFound, s.Path)
		}
		return model.WorldSnapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var world model.WorldSnapshot
	if err := json.Unmarshal(data, &world); err != nil {
		return model.WorldSnapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return world, nil
}

// Save writes the snapshot.
func (s *FileStore) Save(world model.WorldSnapshot) error {
	if s == nil || s.Path == "" {
		return fmt.Errorf("snapshot path is required")
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(world, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmpPath := s.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
