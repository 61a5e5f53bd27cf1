package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"igmonitor/pkg/logger"
)

// Snapshotter persists the in-memory mirror to an atomic JSON file. It only
// matters in degraded (memory-only) operation: without it a restart while
// both durable backends are down would forget every delivered item.
type Snapshotter struct {
	path string
	log  logger.Logger
}

// NewSnapshotter creates a snapshotter writing to path.
func NewSnapshotter(path string, log logger.Logger) *Snapshotter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Snapshotter{path: path, log: log}
}

// Save writes the state to disk atomically (temp file + rename). Failures
// are logged, never returned: snapshotting is best effort on top of an
// already degraded situation.
func (s *Snapshotter) Save(state snapshotState) {
	state.SavedAt = time.Now()

	if err := s.save(state); err != nil {
		s.log.WarnWithFields("mirror snapshot failed", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
	}
}

func (s *Snapshotter) save(state snapshotState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temporary snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync snapshot file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close snapshot file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replace snapshot file: %w", err)
	}

	return nil
}

// Load reads a previously saved snapshot. Returns nil and no error when no
// snapshot exists.
func (s *Snapshotter) Load() (*snapshotState, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	var state snapshotState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	s.log.InfoWithFields("mirror snapshot loaded", map[string]interface{}{
		"path":     s.path,
		"saved_at": state.SavedAt,
	})

	return &state, nil
}
