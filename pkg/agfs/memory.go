package agfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openviking/openviking/pkg/errdefs"
)

// Memory is the in-memory backend used by tests and ephemeral sessions.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

var _ FS = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"": true},
	}
}

func (m *Memory) Read(_ context.Context, path string) ([]byte, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, errdefs.NotFound(path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Write(_ context.Context, path string, data []byte) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("cannot write to store root")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirs[path] {
		return errdefs.Conflict(path, fmt.Errorf("is a directory"))
	}
	m.mkdirLocked(parentOf(path))
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	return nil
}

func (m *Memory) Exists(_ context.Context, path string) (bool, error) {
	path, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isFile := m.files[path]
	return isFile || m.dirs[path], nil
}

func (m *Memory) IsDir(_ context.Context, path string) (bool, error) {
	path, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[path], nil
}

func (m *Memory) Mkdir(_ context.Context, path string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, isFile := m.files[path]; isFile {
		return errdefs.Conflict(path, fmt.Errorf("is a file"))
	}
	m.mkdirLocked(path)
	return nil
}

func (m *Memory) mkdirLocked(path string) {
	for path != "" {
		if m.dirs[path] {
			return
		}
		m.dirs[path] = true
		path = parentOf(path)
	}
}

func (m *Memory) List(_ context.Context, path string) ([]Entry, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.dirs[path] {
		return nil, errdefs.NotFound(path)
	}

	seen := make(map[string]Entry)
	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	for p, data := range m.files {
		if name, ok := directChild(p, prefix); ok {
			seen[name] = Entry{Name: name, Path: prefix + name, Size: int64(len(data))}
		}
	}
	for p := range m.dirs {
		if name, ok := directChild(p, prefix); ok {
			seen[name] = Entry{Name: name, Path: prefix + name, IsDir: true}
		}
	}

	entries := make([]Entry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *Memory) Walk(ctx context.Context, path string, fn func(Entry) error) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	m.mu.RLock()
	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	var files []Entry
	for p, data := range m.files {
		if p == path || strings.HasPrefix(p, prefix) {
			files = append(files, Entry{Name: baseOf(p), Path: p, Size: int64(len(data))})
		}
	}
	m.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	for _, e := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Rename(_ context.Context, oldPath, newPath string) error {
	oldPath, err := cleanPath(oldPath)
	if err != nil {
		return err
	}
	newPath, err = cleanPath(newPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, isFile := m.files[newPath]; isFile || m.dirs[newPath] {
		return errdefs.Conflict(newPath, fmt.Errorf("destination exists"))
	}

	if data, ok := m.files[oldPath]; ok {
		m.mkdirLocked(parentOf(newPath))
		m.files[newPath] = data
		delete(m.files, oldPath)
		return nil
	}
	if !m.dirs[oldPath] {
		return errdefs.NotFound(oldPath)
	}

	oldPrefix := oldPath + "/"
	m.mkdirLocked(parentOf(newPath))
	for p, data := range m.files {
		if strings.HasPrefix(p, oldPrefix) {
			m.files[newPath+"/"+p[len(oldPrefix):]] = data
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if p == oldPath || strings.HasPrefix(p, oldPrefix) {
			delete(m.dirs, p)
			if p == oldPath {
				m.dirs[newPath] = true
			} else {
				m.dirs[newPath+"/"+p[len(oldPrefix):]] = true
			}
		}
	}
	return nil
}

func (m *Memory) Remove(_ context.Context, path string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("cannot remove store root")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path]; ok {
		delete(m.files, path)
		return nil
	}
	if !m.dirs[path] {
		return errdefs.NotFound(path)
	}
	prefix := path + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.dirs, p)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func parentOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func baseOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// directChild returns the first segment of p below prefix, and whether p is
// exactly one level down.
func directChild(p, prefix string) (string, bool) {
	if p == "" || !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := p[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
