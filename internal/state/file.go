package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"stacklend/internal/model"
)

// FileStore keeps relayer state in a local JSON file, written atomically
// via a temp file and rename.
type FileStore struct {
	path   string
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads the state file, returning the zero state if it is missing or
// unreadable.
func (s *FileStore) Load() model.RelayerState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read state file failed, starting fresh", zap.String("path", s.path), zap.Error(err))
		}
		return model.DefaultState()
	}

	var st model.RelayerState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("parse state file failed, starting fresh", zap.String("path", s.path), zap.Error(err))
		return model.DefaultState()
	}

	st.Normalize()
	return st
}

// Save writes the state document atomically.
func (s *FileStore) Save(st model.RelayerState) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}

	return nil
}
