// Package agfs provides the Agent File System: the content store beneath
// VikingFS. Paths are slash-separated and relative to the store root, e.g.
// "resources/guides/setup.md". Directories are first-class so listings and
// recursive moves work the same across backends.
package agfs

import (
	"context"
	"fmt"
	"strings"

	"github.com/openviking/openviking/pkg/config"
)

// Entry describes one child of a directory.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// FS is the content-store contract. Implementations must be safe for
// concurrent use.
type FS interface {
	// Read returns the file contents, or a not-found error.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path, creating parent directories as needed.
	Write(ctx context.Context, path string, data []byte) error

	// Exists reports whether path names a file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// IsDir reports whether path names a directory.
	IsDir(ctx context.Context, path string) (bool, error)

	// Mkdir creates the directory and any missing parents.
	Mkdir(ctx context.Context, path string) error

	// List returns the direct children of a directory, sorted by name.
	List(ctx context.Context, path string) ([]Entry, error)

	// Walk visits every file under path (depth-first, directories excluded).
	Walk(ctx context.Context, path string, fn func(Entry) error) error

	// Rename moves a file or directory tree. The destination must not exist.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Remove deletes a file or directory tree. Missing paths are an error.
	Remove(ctx context.Context, path string) error

	Close() error
}

// New builds the backend named by cfg.
func New(cfg config.AGFSConfig) (FS, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "local":
		return NewLocal(cfg.Path)
	case "s3":
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unsupported agfs backend: %s", cfg.Backend)
	}
}

// cleanPath normalizes a store path and rejects escapes.
func cleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", nil
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("invalid path segment in %q", path)
		}
	}
	return path, nil
}
