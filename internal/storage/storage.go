package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/worldping/internal/types"
	"gopkg.in/yaml.v3"
)

// Storage receives the final snapshot of a run. Exports are write-only.
type Storage interface {
	Save(ctx context.Context, snapshot *types.Snapshot) error
	Close() error
}

func NewStorage(storageType string, path string) (Storage, error) {
	switch storageType {
	case "file":
		return NewFileStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	case "redis":
		return NewRedisStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// FileStorage writes snapshots as JSON, or YAML for .yaml/.yml paths
type FileStorage struct {
	path   string
	format string
}

func NewFileStorage(path string) (*FileStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}

	return &FileStorage{path: path, format: format}, nil
}

func (f *FileStorage) Save(_ context.Context, snapshot *types.Snapshot) error {
	var (
		data []byte
		err  error
	)
	if f.format == "yaml" {
		data, err = yaml.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal YAML: %w", err)
		}
	} else {
		data, err = json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		data = append(data, '\n')
	}

	// Atomic write: write to temp file, then rename
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}

func (f *FileStorage) Close() error {
	return nil
}
