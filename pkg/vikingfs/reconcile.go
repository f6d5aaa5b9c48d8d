package vikingfs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/uri"
)

// Meta is the .meta.json sidecar of a directory: ingestion provenance,
// the active child count, and the fatal semantic-processing failure, if
// any.
type Meta struct {
	Name         string    `json:"name,omitempty"`
	Description  string    `json:"description,omitempty"`
	SourceFormat string    `json:"source_format,omitempty"`
	ParserName   string    `json:"parser_name,omitempty"`
	ActiveCount  int       `json:"active_count,omitempty"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReadMeta returns the directory's sidecar, zero when absent.
func (v *VikingFS) ReadMeta(ctx context.Context, u uri.URI) (Meta, error) {
	data, err := v.fs.Read(ctx, u.StorePath()+"/"+MetaFile)
	if errdefs.IsNotFound(err) {
		return Meta{}, nil
	}
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, nil
	}
	return m, nil
}

// WriteMeta replaces the directory's sidecar.
func (v *VikingFS) WriteMeta(ctx context.Context, u uri.URI, m Meta) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return v.fs.Write(ctx, u.StorePath()+"/"+MetaFile, data)
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Enqueued       []string `json:"enqueued,omitempty"`
	DroppedRecords []string `json:"dropped_records,omitempty"`
}

// Reconcile repairs drift between the content store and the index below a
// scope: directories with content but no record get semantic work
// enqueued; records without backing content are dropped. Used on startup
// and after a detected inconsistency.
func (v *VikingFS) Reconcile(ctx context.Context, scope uri.Scope) (*ReconcileReport, error) {
	lock := v.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	report := &ReconcileReport{}
	root := uri.Build(scope)

	// Content-side walk: every directory should eventually be indexed.
	dirs := map[string]int{}
	var collect func(u uri.URI) error
	collect = func(u uri.URI) error {
		entries, err := v.fs.List(ctx, u.StorePath())
		if errdefs.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir {
				continue
			}
			child := u.Join(e.Name)
			dirs[child.String()] = child.Depth()
			if err := collect(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := collect(root); err != nil {
		return nil, err
	}

	indexed, err := v.index.ListPrefix(ctx, root.String())
	if err != nil {
		return nil, err
	}
	indexedSet := make(map[string]bool, len(indexed))
	for _, u := range indexed {
		indexedSet[u] = true
	}

	var msgs []*queue.Msg
	for d, depth := range dirs {
		if indexedSet[d] {
			continue
		}
		if outstanding, err := v.queue.Outstanding(ctx, d); err != nil {
			return nil, err
		} else if outstanding {
			continue
		}
		msgs = append(msgs, queue.NewMsg(d, depth))
		report.Enqueued = append(report.Enqueued, d)
	}
	if err := v.queue.Enqueue(ctx, msgs...); err != nil {
		return nil, err
	}

	// Index-side: records for URIs with no content are stale.
	for _, recorded := range indexed {
		if _, ok := dirs[recorded]; ok {
			continue
		}
		path := strings.TrimPrefix(recorded, uri.Scheme)
		exists, err := v.fs.Exists(ctx, path)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if err := v.index.Delete(ctx, recorded); err != nil {
			return nil, err
		}
		report.DroppedRecords = append(report.DroppedRecords, recorded)
	}

	if len(report.Enqueued) > 0 || len(report.DroppedRecords) > 0 {
		v.logger.Info("reconciliation pass",
			"scope", string(scope),
			"enqueued", len(report.Enqueued),
			"dropped", len(report.DroppedRecords))
	}
	return report, nil
}
