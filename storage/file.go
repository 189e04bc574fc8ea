package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/keyshard/keyshard/interfaces"
)

// FileKV implements a key-value store on the local file system. Each key
// maps to one file under the base directory.
type FileKV struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileKV creates a file-backed store rooted at baseDir, creating the
// directory if needed.
func NewFileKV(baseDir string, log *slog.Logger) (*FileKV, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileKV{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get retrieves the value for a key. Returns ErrKeyNotFound if absent.
func (s *FileKV) Get(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.filePath(key))
	if os.IsNotExist(err) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read value: %w", err)
	}

	s.log.Debug("Fetched value from file",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return string(data), nil
}

// Set stores a value under a key. The write goes through a temporary file
// and rename so readers never observe a partial value.
func (s *FileKV) Set(ctx context.Context, key, value string) error {
	path := s.filePath(key)

	tmp, err := os.CreateTemp(s.baseDir, ".kv-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write value: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store value: %w", err)
	}

	s.log.Debug("Stored value to file",
		slog.String("key", key),
		slog.Int("size", len(value)))

	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *FileKV) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

// Name returns the backend identifier for logging.
func (s *FileKV) Name() string {
	return "file"
}

// LocationURI returns the URI identifying this backend.
func (s *FileKV) LocationURI() string {
	return s.locationURI
}

func (s *FileKV) filePath(key string) string {
	return filepath.Join(s.baseDir, url.PathEscape(key))
}
