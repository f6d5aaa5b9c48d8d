package agfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openviking/openviking/pkg/errdefs"
)

// Local stores content under a root directory on the host filesystem.
type Local struct {
	root string
}

var _ FS = (*Local)(nil)

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("local agfs root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create agfs root %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

func (l *Local) abs(path string) (string, error) {
	path, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(path)), nil
}

func (l *Local) Read(_ context.Context, path string) ([]byte, error) {
	p, err := l.abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, errdefs.NotFound(path)
	}
	return data, err
}

func (l *Local) Write(_ context.Context, path string, data []byte) error {
	p, err := l.abs(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	// Write-then-rename keeps readers from seeing partial content.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	p, err := l.abs(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (l *Local) IsDir(_ context.Context, path string) (bool, error) {
	p, err := l.abs(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (l *Local) Mkdir(_ context.Context, path string) error {
	p, err := l.abs(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0755)
}

func (l *Local) List(_ context.Context, path string) ([]Entry, error) {
	p, err := l.abs(path)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(p)
	if os.IsNotExist(err) {
		return nil, errdefs.NotFound(path)
	}
	if err != nil {
		return nil, err
	}

	clean, _ := cleanPath(path)
	prefix := clean
	if prefix != "" {
		prefix += "/"
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		e := Entry{Name: d.Name(), Path: prefix + d.Name(), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *Local) Walk(ctx context.Context, path string, fn func(Entry) error) error {
	p, err := l.abs(path)
	if err != nil {
		return err
	}
	clean, _ := cleanPath(path)
	return filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p, fp)
		if err != nil {
			return err
		}
		storePath := filepath.ToSlash(rel)
		if clean != "" {
			storePath = clean + "/" + storePath
		}
		e := Entry{Name: d.Name(), Path: storePath}
		if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
		return fn(e)
	})
}

func (l *Local) Rename(_ context.Context, oldPath, newPath string) error {
	op, err := l.abs(oldPath)
	if err != nil {
		return err
	}
	np, err := l.abs(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(np); err == nil {
		return errdefs.Conflict(newPath, fmt.Errorf("destination exists"))
	}
	if _, err := os.Stat(op); os.IsNotExist(err) {
		return errdefs.NotFound(oldPath)
	}
	if err := os.MkdirAll(filepath.Dir(np), 0755); err != nil {
		return err
	}
	return os.Rename(op, np)
}

func (l *Local) Remove(_ context.Context, path string) error {
	p, err := l.abs(path)
	if err != nil {
		return err
	}
	if p == l.root {
		return fmt.Errorf("cannot remove store root")
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return errdefs.NotFound(path)
	}
	return os.RemoveAll(p)
}

func (l *Local) Close() error { return nil }
