package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore is the primary artifact store: a flat directory of dump
// files. Put streams through a temp file and renames, so a crashed
// write never leaves a half-artifact under its final name.
type LocalStore struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(l.basePath, ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(l.basePath, name)); err != nil {
		return 0, fmt.Errorf("finalize artifact: %w", err)
	}
	return n, nil
}

func (l *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes an artifact. A missing file is not an error; the
// retention enforcer may re-run after a crash that already deleted it.
func (l *LocalStore) Delete(ctx context.Context, name string) error {
	err := os.Remove(filepath.Join(l.basePath, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (l *LocalStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("read artifact directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Path returns the on-disk location of an artifact, for download
// handlers that serve files directly.
func (l *LocalStore) Path(name string) string {
	return filepath.Join(l.basePath, name)
}
