package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/ripple/internal/fault"
)

// FS is a Backend over a local directory. Keys map to file paths below the
// root; prefix components become directories.
type FS struct {
	root string
}

// NewFS creates a filesystem store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fault.Wrap(fault.Transport, err, "create store root")
	}
	return &FS{root: dir}, nil
}

// List implements Backend.
func (f *FS) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.Transport, err, "list %q", prefix)
	}
	return keys, nil
}

// Get implements Backend.
func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fault.Wrap(fault.Transport, err, "get %q", key)
	}
	return data, nil
}

// Put implements Backend. The object appears atomically: content is written
// to a temporary file and renamed into place.
func (f *FS) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Wrap(fault.Transport, err, "put %q", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fault.Wrap(fault.Transport, err, "put %q", key)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fault.Wrap(fault.Transport, err, "put %q", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fault.Wrap(fault.Transport, err, "put %q", key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fault.Wrap(fault.Transport, err, "put %q", key)
	}
	return nil
}

// Delete implements Backend.
func (f *FS) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.Wrap(fault.Transport, err, "delete %q", key)
	}
	return nil
}

func (f *FS) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}
