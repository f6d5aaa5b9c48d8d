package vikingfs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openviking/openviking/pkg/agfs"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/uri"
)

// Relation is one directed edge in a .relations.json file.
type Relation struct {
	TargetURI string    `json:"target_uri"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Relations returns the ordered relation list of a URI, empty when none.
func (v *VikingFS) Relations(ctx context.Context, u uri.URI) ([]Relation, error) {
	lock := v.scopeLock(u.Scope())
	lock.RLock()
	defer lock.RUnlock()

	exists, err := v.fs.Exists(ctx, u.StorePath())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errdefs.NotFound(u.String())
	}
	return v.readRelations(ctx, u)
}

func (v *VikingFS) readRelations(ctx context.Context, u uri.URI) ([]Relation, error) {
	data, err := v.fs.Read(ctx, u.StorePath()+"/"+RelationsFile)
	if errdefs.IsNotFound(err) {
		return []Relation{}, nil
	}
	if err != nil {
		return nil, err
	}
	var relations []Relation
	if err := json.Unmarshal(data, &relations); err != nil {
		return nil, fmt.Errorf("corrupt %s at %s: %w", RelationsFile, u.String(), err)
	}
	return relations, nil
}

func (v *VikingFS) writeRelations(ctx context.Context, u uri.URI, relations []Relation) error {
	data, err := json.MarshalIndent(relations, "", "  ")
	if err != nil {
		return err
	}
	return v.fs.Write(ctx, u.StorePath()+"/"+RelationsFile, data)
}

// Link merges targets into the relation list of from. Duplicate targets
// keep their earliest created_at; order of first insertion is preserved.
func (v *VikingFS) Link(ctx context.Context, from uri.URI, targets []uri.URI, reason string) error {
	lock := v.scopeLock(from.Scope())
	lock.Lock()
	defer lock.Unlock()

	exists, err := v.fs.Exists(ctx, from.StorePath())
	if err != nil {
		return err
	}
	if !exists {
		return errdefs.NotFound(from.String())
	}

	relations, err := v.readRelations(ctx, from)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(relations))
	for _, r := range relations {
		known[r.TargetURI] = true
	}
	now := time.Now().UTC()
	for _, t := range targets {
		if known[t.String()] {
			continue
		}
		relations = append(relations, Relation{TargetURI: t.String(), Reason: reason, CreatedAt: now})
		known[t.String()] = true
	}
	return v.writeRelations(ctx, from, relations)
}

// Unlink removes targets from the relation list of from. Unknown targets
// are ignored.
func (v *VikingFS) Unlink(ctx context.Context, from uri.URI, targets []uri.URI) error {
	lock := v.scopeLock(from.Scope())
	lock.Lock()
	defer lock.Unlock()

	relations, err := v.readRelations(ctx, from)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(targets))
	for _, t := range targets {
		drop[t.String()] = true
	}
	kept := relations[:0]
	for _, r := range relations {
		if !drop[r.TargetURI] {
			kept = append(kept, r)
		}
	}
	return v.writeRelations(ctx, from, kept)
}

// rewriteRelationTargets walks every .relations.json in the store and
// rebases targets under oldPrefix to newPrefix. Runs as the final step of
// Mv; re-running after a partial pass is harmless.
func (v *VikingFS) rewriteRelationTargets(ctx context.Context, oldPrefix, newPrefix string) error {
	return v.fs.Walk(ctx, "", func(e agfs.Entry) error {
		if e.Name != RelationsFile {
			return nil
		}
		data, err := v.fs.Read(ctx, e.Path)
		if err != nil {
			return err
		}
		var relations []Relation
		if err := json.Unmarshal(data, &relations); err != nil {
			v.logger.Warn("skipping corrupt relations file", "path", e.Path, "error", err)
			return nil
		}
		changed := false
		for i, r := range relations {
			if uri.HasPrefixString(r.TargetURI, oldPrefix) {
				relations[i].TargetURI = uri.Rebase(r.TargetURI, oldPrefix, newPrefix)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		out, err := json.MarshalIndent(relations, "", "  ")
		if err != nil {
			return err
		}
		return v.fs.Write(ctx, e.Path, out)
	})
}
