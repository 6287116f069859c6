// Package local implements a local filesystem document store.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem document store.
type Config struct {
	// Dir is the directory documents are written to.
	Dir string
}

// DocumentStore writes documents to one local directory.
type DocumentStore struct {
	dir string
}

// New creates a local filesystem-backed document store, creating Dir when needed.
func New(cfg Config) (*DocumentStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("document directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create document directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat document directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("document directory path is not a directory")
	}

	testFile := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("document directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	return &DocumentStore{dir: cfg.Dir}, nil
}

// Path returns the path recorded for name: ./<dir>/<name> for relative
// directories, the joined absolute path otherwise.
func (s *DocumentStore) Path(name string) string {
	joined := filepath.Join(s.dir, name)
	if filepath.IsAbs(joined) {
		return joined
	}
	return "./" + filepath.ToSlash(joined)
}

// Put writes data under name. The file appears atomically: data goes to a
// temporary file in the same directory which is then renamed into place.
func (s *DocumentStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("document name is required")
	}

	cleanDir := filepath.Clean(s.dir)
	fullPath := filepath.Clean(filepath.Join(s.dir, name))
	if filepath.Dir(fullPath) != cleanDir {
		return fmt.Errorf("path traversal detected")
	}

	tmp, err := os.CreateTemp(cleanDir, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("rename document: %w", err)
	}
	return nil
}
