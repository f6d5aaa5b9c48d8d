package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/openviking/openviking/pkg/uri"
)

// Local is the embedded index backend: records live in memory and, when a
// path is configured, persist to a JSON snapshot after every mutation.
// Exhaustive scan is fine at the collection sizes a single agent produces.
type Local struct {
	mu           sync.RWMutex
	records      map[string]Record
	path         string
	sparseWeight float64
}

var _ DB = (*Local)(nil)

func NewLocal(path string, sparseWeight float64) (*Local, error) {
	l := &Local{
		records:      make(map[string]Record),
		path:         path,
		sparseWeight: sparseWeight,
	}
	if path != "" {
		if err := l.load(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Local) load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index snapshot %s: %w", l.path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to decode index snapshot %s: %w", l.path, err)
	}
	for _, r := range records {
		l.records[r.URI] = r
	}
	return nil
}

// persistLocked snapshots the index. Callers hold the write lock.
func (l *Local) persistLocked() error {
	if l.path == "" {
		return nil
	}
	records := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].URI < records[j].URI })

	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func (l *Local) Upsert(_ context.Context, records []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		l.records[r.URI] = r
	}
	return l.persistLocked()
}

func (l *Local) Get(_ context.Context, u string) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[u]
	return r, ok, nil
}

func (l *Local) Delete(_ context.Context, uris ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range uris {
		delete(l.records, u)
	}
	return l.persistLocked()
}

func (l *Local) DeletePrefix(_ context.Context, prefix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for u := range l.records {
		if uri.HasPrefixString(u, prefix) {
			delete(l.records, u)
		}
	}
	return l.persistLocked()
}

func (l *Local) RenamePrefix(_ context.Context, oldPrefix, newPrefix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for u, r := range l.records {
		if !uri.HasPrefixString(u, oldPrefix) {
			continue
		}
		nu, err := uri.Parse(uri.Rebase(u, oldPrefix, newPrefix))
		if err != nil {
			return fmt.Errorf("rename %s under %s: %w", u, newPrefix, err)
		}
		delete(l.records, u)
		r.URI = nu.String()
		r.Depth = nu.Depth()
		if u == oldPrefix {
			// The moved root's parent lies outside the renamed subtree.
			r.ParentURI = nu.ParentString()
		} else {
			r.ParentURI = uri.Rebase(r.ParentURI, oldPrefix, newPrefix)
		}
		l.records[r.URI] = r
	}
	return l.persistLocked()
}

func (l *Local) Search(_ context.Context, q Query) ([]Match, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matches []Match
	for _, r := range l.records {
		if q.Scope != "" && r.Scope != q.Scope {
			continue
		}
		if q.ParentURI != "" && r.ParentURI != q.ParentURI {
			continue
		}
		matches = append(matches, Match{Record: r, Score: hybridScore(q, r, l.sparseWeight)})
	}
	sortMatches(matches)
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

func (l *Local) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var uris []string
	for u := range l.records {
		if prefix == "" || uri.HasPrefixString(u, prefix) {
			uris = append(uris, u)
		}
	}
	sort.Strings(uris)
	return uris, nil
}

func (l *Local) Close() error { return nil }
