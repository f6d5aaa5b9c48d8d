// Package treebuilder finalizes ingestion: it moves a parsed canonical tree
// from its viking://temp root into the destination scope and enqueues
// semantic work for every directory of the moved subtree.
package treebuilder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openviking/openviking/pkg/agfs"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/uri"
)

// maxUniqueAttempts bounds the numeric suffixes tried for a busy name.
const maxUniqueAttempts = 100

// TreeBuilder moves finished temp trees into place.
type TreeBuilder struct {
	fs     agfs.FS
	queue  queue.Queue
	logger *slog.Logger
}

func New(fs agfs.FS, q queue.Queue, logger *slog.Logger) *TreeBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeBuilder{fs: fs, queue: q, logger: logger}
}

// Build moves the single document root under tempURI into base and returns
// the final URI. A taken name gets _1, _2, … appended. Re-running on an
// already-consumed temp root fails NotFound, never double-moves.
func (t *TreeBuilder) Build(ctx context.Context, tempURI uri.URI, base uri.URI) (uri.URI, error) {
	entries, err := t.fs.List(ctx, tempURI.StorePath())
	if err != nil {
		return uri.URI{}, err
	}
	var roots []agfs.Entry
	for _, e := range entries {
		if e.IsDir {
			roots = append(roots, e)
		}
	}
	if len(roots) != 1 {
		return uri.URI{}, errdefs.InvalidInput(tempURI.String(),
			fmt.Errorf("temp root must hold exactly one document directory, found %d", len(roots)))
	}
	docRoot := roots[0]

	target, err := t.uniqueTarget(ctx, base, docRoot.Name)
	if err != nil {
		return uri.URI{}, err
	}

	if err := t.fs.Mkdir(ctx, base.StorePath()); err != nil {
		return uri.URI{}, err
	}
	if err := t.fs.Rename(ctx, docRoot.Path, target.StorePath()); err != nil {
		return uri.URI{}, err
	}
	if err := t.fs.Remove(ctx, tempURI.StorePath()); err != nil && !errdefs.IsNotFound(err) {
		t.logger.Warn("failed to remove temp root", "uri", tempURI.String(), "error", err)
	}

	if err := t.enqueueSubtree(ctx, target); err != nil {
		return uri.URI{}, err
	}
	t.logger.Info("tree finalized", "uri", target.String())
	return target, nil
}

// uniqueTarget picks base/<name>, appending _1.. until the name is free.
func (t *TreeBuilder) uniqueTarget(ctx context.Context, base uri.URI, name string) (uri.URI, error) {
	candidate := base.Join(name)
	for i := 0; i <= maxUniqueAttempts; i++ {
		if i > 0 {
			candidate = base.Join(fmt.Sprintf("%s_%d", name, i))
		}
		exists, err := t.fs.Exists(ctx, candidate.StorePath())
		if err != nil {
			return uri.URI{}, err
		}
		if !exists {
			return candidate, nil
		}
	}
	return uri.URI{}, errdefs.Conflict(base.Join(name).String(),
		fmt.Errorf("no free name after %d attempts", maxUniqueAttempts))
}

// enqueueSubtree queues one message per directory, the root included.
// Depth ordering in the queue makes processing bottom-up.
func (t *TreeBuilder) enqueueSubtree(ctx context.Context, root uri.URI) error {
	var msgs []*queue.Msg
	var walk func(u uri.URI) error
	walk = func(u uri.URI) error {
		msgs = append(msgs, queue.NewMsg(u.String(), u.Depth()))
		entries, err := t.fs.List(ctx, u.StorePath())
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir {
				if err := walk(u.Join(e.Name)); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return err
	}
	return t.queue.Enqueue(ctx, msgs...)
}
