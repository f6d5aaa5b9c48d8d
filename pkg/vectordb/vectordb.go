// Package vectordb provides the hybrid vector index over context abstracts.
// Each record carries a dense embedding and a sparse (term-weighted)
// embedding; search blends both with a configurable sparse weight. Records
// are keyed by viking URI so the consistency layer can address them without
// a separate id mapping.
package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/openviking/openviking/pkg/config"
)

// Record is one indexed context node.
type Record struct {
	URI         string             `json:"uri"`
	ParentURI   string             `json:"parent_uri"`
	Scope       string             `json:"scope"`
	ContextType string             `json:"context_type,omitempty"`
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Depth       int                `json:"depth"`
	IsDir       bool               `json:"is_dir"`
	ActiveCount int                `json:"active_count,omitempty"`
	Abstract    string             `json:"abstract"`
	CreatedAt   time.Time          `json:"created_at,omitzero"`
	Dense       []float32          `json:"dense"`
	Sparse      map[uint32]float32 `json:"sparse"`
}

// Query selects records by similarity, optionally restricted to a scope or
// to the direct children of a parent URI.
type Query struct {
	Dense     []float32
	Sparse    map[uint32]float32
	TopK      int
	Scope     string
	ParentURI string
}

// Match is a scored search hit.
type Match struct {
	Record
	Score float64
}

// DB is the vector index contract. Implementations must be safe for
// concurrent use.
type DB interface {
	// Upsert inserts or replaces records by URI.
	Upsert(ctx context.Context, records []Record) error

	// Get fetches one record by URI.
	Get(ctx context.Context, uri string) (Record, bool, error)

	// Delete removes records by exact URI. Missing URIs are ignored.
	Delete(ctx context.Context, uris ...string) error

	// DeletePrefix removes the record at prefix and everything below it.
	DeletePrefix(ctx context.Context, prefix string) error

	// RenamePrefix rewrites every URI under oldPrefix to live under
	// newPrefix, adjusting parent URIs to match.
	RenamePrefix(ctx context.Context, oldPrefix, newPrefix string) error

	// Search returns the top-k records by blended similarity, best first.
	Search(ctx context.Context, q Query) ([]Match, error)

	// ListPrefix returns the URIs at or below prefix, sorted.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// New builds the backend named by cfg.
func New(cfg config.VectorDBConfig) (DB, error) {
	switch cfg.Backend {
	case "local":
		return NewLocal(cfg.Path, cfg.SparseWeight)
	case "qdrant":
		return NewQdrant(cfg)
	default:
		return nil, fmt.Errorf("unsupported vectordb backend: %s", cfg.Backend)
	}
}

// denseSimilarity is the cosine similarity of two dense vectors.
func denseSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sparseSimilarity is the normalized dot product over shared terms.
func sparseSimilarity(a, b map[uint32]float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var dot float64
	for k, v := range small {
		if w, ok := large[k]; ok {
			dot += float64(v) * float64(w)
		}
	}
	var na, nb float64
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// hybridScore blends dense and sparse similarity.
func hybridScore(q Query, r Record, sparseWeight float64) float64 {
	dense := denseSimilarity(q.Dense, r.Dense)
	if len(q.Sparse) == 0 {
		return dense
	}
	sparse := sparseSimilarity(q.Sparse, r.Sparse)
	return (1-sparseWeight)*dense + sparseWeight*sparse
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Depth != matches[j].Depth {
			return matches[i].Depth < matches[j].Depth
		}
		return matches[i].URI < matches[j].URI
	})
}
