// Package vikingfs is the consistency layer of the context database. All
// mutations of context state flow through it; it keeps the content store,
// the vector index, and the semantic queue in agreement, ordering each
// cross-store operation so a crash between steps is recoverable.
package vikingfs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openviking/openviking/pkg/agfs"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vectordb"
)

// Reserved per-directory files maintained by the core.
const (
	AbstractFile  = ".abstract.md"
	OverviewFile  = ".overview.md"
	RelationsFile = ".relations.json"
	MetaFile      = ".meta.json"
)

// IsReserved reports whether name is one of the core-maintained files.
func IsReserved(name string) bool {
	switch name {
	case AbstractFile, OverviewFile, RelationsFile, MetaFile:
		return true
	}
	return false
}

// VikingFS coordinates the three stores. Mutations take a per-scope lock;
// reads run concurrently.
type VikingFS struct {
	fs     agfs.FS
	index  vectordb.DB
	queue  queue.Queue
	logger *slog.Logger

	mu     sync.Mutex
	scopes map[uri.Scope]*sync.RWMutex
}

func New(fs agfs.FS, index vectordb.DB, q queue.Queue, logger *slog.Logger) *VikingFS {
	if logger == nil {
		logger = slog.Default()
	}
	return &VikingFS{
		fs:     fs,
		index:  index,
		queue:  q,
		logger: logger,
		scopes: make(map[uri.Scope]*sync.RWMutex),
	}
}

// Store exposes the underlying content store for components that only read.
func (v *VikingFS) Store() agfs.FS { return v.fs }

// Index exposes the underlying vector index.
func (v *VikingFS) Index() vectordb.DB { return v.index }

// Queue exposes the semantic queue.
func (v *VikingFS) Queue() queue.Queue { return v.queue }

func (v *VikingFS) scopeLock(s uri.Scope) *sync.RWMutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.scopes[s]
	if !ok {
		l = &sync.RWMutex{}
		v.scopes[s] = l
	}
	return l
}

// Read returns the bytes of a leaf. An index record without backing content
// is consistency drift: the record is dropped and the read fails NotFound.
func (v *VikingFS) Read(ctx context.Context, u uri.URI) ([]byte, error) {
	lock := v.scopeLock(u.Scope())
	lock.RLock()
	defer lock.RUnlock()

	isDir, err := v.fs.IsDir(ctx, u.StorePath())
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, errdefs.InvalidInput(u.String(), fmt.Errorf("is a directory"))
	}

	data, err := v.fs.Read(ctx, u.StorePath())
	if errdefs.IsNotFound(err) {
		if _, ok, idxErr := v.index.Get(ctx, u.String()); idxErr == nil && ok {
			v.logger.Warn("index record without content, reconciling", "uri", u.String())
			if delErr := v.index.Delete(ctx, u.String()); delErr != nil {
				v.logger.Error("failed to drop drifted record", "uri", u.String(), "error", delErr)
			}
		}
		return nil, errdefs.NotFound(u.String())
	}
	return data, err
}

// Write stores bytes at a leaf, creating parents, and enqueues semantic
// work for every ancestor directory so stale summaries get regenerated.
// Store write happens first; recovery re-derives the enqueue from content.
func (v *VikingFS) Write(ctx context.Context, u uri.URI, data []byte) error {
	if u.IsScopeRoot() {
		return errdefs.InvalidInput(u.String(), fmt.Errorf("cannot write to scope root"))
	}
	if IsReserved(u.Name()) {
		return errdefs.InvalidInput(u.String(), fmt.Errorf("%s is reserved", u.Name()))
	}
	lock := v.scopeLock(u.Scope())
	lock.Lock()
	defer lock.Unlock()

	if err := v.fs.Write(ctx, u.StorePath(), data); err != nil {
		return err
	}
	return v.enqueueAncestors(ctx, u)
}

// enqueueAncestors queues semantic work for each directory from the leaf's
// parent up to the scope root, exclusive.
func (v *VikingFS) enqueueAncestors(ctx context.Context, u uri.URI) error {
	var msgs []*queue.Msg
	for p, ok := u.Parent(); ok && !p.IsScopeRoot(); p, ok = p.Parent() {
		msgs = append(msgs, queue.NewMsg(p.String(), p.Depth()))
	}
	return v.queue.Enqueue(ctx, msgs...)
}

// Mkdir creates a directory. Repeated calls succeed.
func (v *VikingFS) Mkdir(ctx context.Context, u uri.URI) error {
	lock := v.scopeLock(u.Scope())
	lock.Lock()
	defer lock.Unlock()
	return v.fs.Mkdir(ctx, u.StorePath())
}

// Exists reports whether the URI names content or a directory.
func (v *VikingFS) Exists(ctx context.Context, u uri.URI) (bool, error) {
	return v.fs.Exists(ctx, u.StorePath())
}

// IsDir reports whether the URI names a directory.
func (v *VikingFS) IsDir(ctx context.Context, u uri.URI) (bool, error) {
	return v.fs.IsDir(ctx, u.StorePath())
}

// Rm removes a URI. Directories need recursive=true. Index records go
// first so a crash leaves orphaned content, not dangling records.
func (v *VikingFS) Rm(ctx context.Context, u uri.URI, recursive bool) error {
	lock := v.scopeLock(u.Scope())
	lock.Lock()
	defer lock.Unlock()

	isDir, err := v.fs.IsDir(ctx, u.StorePath())
	if err != nil {
		return err
	}
	if isDir && !recursive {
		return errdefs.InvalidInput(u.String(), fmt.Errorf("is a directory, pass recursive"))
	}

	if err := v.index.DeletePrefix(ctx, u.String()); err != nil {
		return err
	}
	if err := v.queue.PurgePrefix(ctx, u.String()); err != nil {
		return err
	}
	if err := v.fs.Remove(ctx, u.StorePath()); err != nil {
		return err
	}
	return v.enqueueAncestors(ctx, u)
}

// Mv renames a subtree. Order: content rename, then index prefix rewrite,
// then relation target rewrites. Each step is idempotently resumable.
func (v *VikingFS) Mv(ctx context.Context, src, dst uri.URI) error {
	if src.IsScopeRoot() || dst.IsScopeRoot() {
		return errdefs.InvalidInput(src.String(), fmt.Errorf("cannot move a scope root"))
	}
	lock := v.scopeLock(src.Scope())
	lock.Lock()
	defer lock.Unlock()
	if dst.Scope() != src.Scope() {
		dstLock := v.scopeLock(dst.Scope())
		dstLock.Lock()
		defer dstLock.Unlock()
	}

	if exists, err := v.fs.Exists(ctx, dst.StorePath()); err != nil {
		return err
	} else if exists {
		return errdefs.Conflict(dst.String(), fmt.Errorf("destination exists"))
	}

	if err := v.fs.Rename(ctx, src.StorePath(), dst.StorePath()); err != nil {
		return err
	}
	if err := v.index.RenamePrefix(ctx, src.String(), dst.String()); err != nil {
		return err
	}
	if err := v.rewriteRelationTargets(ctx, src.String(), dst.String()); err != nil {
		return err
	}
	if err := v.queue.PurgePrefix(ctx, src.String()); err != nil {
		return err
	}
	// Both parents changed shape, so their summaries are stale.
	if err := v.enqueueAncestors(ctx, src); err != nil {
		return err
	}
	return v.enqueueAncestors(ctx, dst)
}

// Abstract returns the directory's L0 text, empty when not yet generated.
func (v *VikingFS) Abstract(ctx context.Context, u uri.URI) (string, error) {
	return v.reservedFile(ctx, u, AbstractFile)
}

// Overview returns the directory's L1 text, empty when not yet generated.
func (v *VikingFS) Overview(ctx context.Context, u uri.URI) (string, error) {
	return v.reservedFile(ctx, u, OverviewFile)
}

func (v *VikingFS) reservedFile(ctx context.Context, u uri.URI, name string) (string, error) {
	lock := v.scopeLock(u.Scope())
	lock.RLock()
	defer lock.RUnlock()

	exists, err := v.fs.Exists(ctx, u.StorePath())
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errdefs.NotFound(u.String())
	}
	data, err := v.fs.Read(ctx, u.StorePath()+"/"+name)
	if errdefs.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Entry is one listing row.
type Entry struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	IsDir    bool   `json:"is_dir"`
	Size     int64  `json:"size,omitempty"`
	Abstract string `json:"abstract,omitempty"`
}

// Ls lists the children of a directory, reserved files excluded. With
// withAbstracts, directory rows carry their L0 text.
func (v *VikingFS) Ls(ctx context.Context, u uri.URI, withAbstracts bool) ([]Entry, error) {
	lock := v.scopeLock(u.Scope())
	lock.RLock()
	defer lock.RUnlock()

	items, err := v.fs.List(ctx, u.StorePath())
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if IsReserved(item.Name) {
			continue
		}
		child := u.Join(item.Name)
		e := Entry{URI: child.String(), Name: item.Name, IsDir: item.IsDir, Size: item.Size}
		if withAbstracts && item.IsDir {
			data, err := v.fs.Read(ctx, child.StorePath()+"/"+AbstractFile)
			if err == nil {
				e.Abstract = strings.TrimSpace(string(data))
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// TreeNode is one node of a recursive listing.
type TreeNode struct {
	Entry
	Children []*TreeNode `json:"children,omitempty"`
}

// Tree lists a directory recursively up to maxDepth levels (0 = unlimited).
func (v *VikingFS) Tree(ctx context.Context, u uri.URI, maxDepth int, withAbstracts bool) (*TreeNode, error) {
	isDir, err := v.fs.IsDir(ctx, u.StorePath())
	if err != nil {
		return nil, err
	}
	root := &TreeNode{Entry: Entry{URI: u.String(), Name: u.Name(), IsDir: isDir}}
	if !isDir {
		return root, nil
	}
	if err := v.fillTree(ctx, u, root, 1, maxDepth, withAbstracts); err != nil {
		return nil, err
	}
	return root, nil
}

func (v *VikingFS) fillTree(ctx context.Context, u uri.URI, node *TreeNode, depth, maxDepth int, withAbstracts bool) error {
	if maxDepth > 0 && depth > maxDepth {
		return nil
	}
	entries, err := v.Ls(ctx, u, withAbstracts)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := &TreeNode{Entry: e}
		node.Children = append(node.Children, child)
		if e.IsDir {
			if err := v.fillTree(ctx, u.Join(e.Name), child, depth+1, maxDepth, withAbstracts); err != nil {
				return err
			}
		}
	}
	return nil
}
