package retrieval

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/openviking/openviking/pkg/embedders"
	"github.com/openviking/openviking/pkg/rerank"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vectordb"
	"github.com/openviking/openviking/pkg/vikingfs"
)

// Tunables of the hierarchical walk.
const (
	// GlobalSearchTopK seeds Phase 1 with this many global hits per root.
	GlobalSearchTopK = 3

	// ScorePropagationAlpha weighs a child's own similarity against its
	// parent's accumulated score.
	ScorePropagationAlpha = 0.5

	// MaxConvergenceRounds stops the walk once the top-k result set has
	// been stable this many iterations in a row.
	MaxConvergenceRounds = 3

	// MaxRelations caps related contexts attached per result.
	MaxRelations = 5

	// DefaultChildK bounds the children fetched per directory expansion.
	DefaultChildK = 8

	// MaxParallelChildren bounds concurrent directory expansions per round.
	MaxParallelChildren = 8

	// DefaultThreshold drops candidates scoring below it.
	DefaultThreshold = 0.3
)

// Retriever walks the context tree for one typed query at a time.
type Retriever struct {
	vfs       *vikingfs.VikingFS
	pipeline  *embedders.Pipeline
	reranker  rerank.Reranker
	threshold float64
	childK    int
	logger    *slog.Logger
}

func NewRetriever(vfs *vikingfs.VikingFS, pipeline *embedders.Pipeline, reranker rerank.Reranker, threshold float64, logger *slog.Logger) *Retriever {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		vfs:       vfs,
		pipeline:  pipeline,
		reranker:  reranker,
		threshold: threshold,
		childK:    DefaultChildK,
		logger:    logger,
	}
}

// candidate is one node in the walk.
type candidate struct {
	rec   vectordb.Record
	score float64
}

// candidateHeap is a max-heap over score; ties break to shallower depth,
// then lexicographically smaller URI.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	if h[i].rec.Depth != h[j].rec.Depth {
		return h[i].rec.Depth < h[j].rec.Depth
	}
	return h[i].rec.URI < h[j].rec.URI
}
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Retrieve returns up to topK matched contexts for the query. restrict,
// when set, narrows the walk to that subtree.
func (r *Retriever) Retrieve(ctx context.Context, q TypedQuery, topK int, mode Mode, restrict *uri.URI) ([]MatchedContext, error) {
	if topK <= 0 {
		return []MatchedContext{}, nil
	}

	vec, err := r.pipeline.EmbedOne(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	roots := rootsFor(q.ContextType)
	if restrict != nil {
		roots = []uri.URI{*restrict}
	}

	pq := &candidateHeap{}
	heap.Init(pq)
	seen := make(map[string]bool)
	collected := make(map[string]candidate)

	// Phase 1: global seeds per root, plus the roots themselves so the
	// walk can always descend even before anything under them scores.
	for _, root := range roots {
		seeds, err := r.seedSearch(ctx, q, vec, root, mode)
		if err != nil {
			return nil, err
		}
		for _, s := range seeds {
			if seen[s.rec.URI] {
				continue
			}
			seen[s.rec.URI] = true
			r.consider(s, collected)
			if s.rec.IsDir && s.score >= r.threshold {
				heap.Push(pq, s)
			}
		}
		if !seen[root.String()] {
			seen[root.String()] = true
			heap.Push(pq, candidate{
				rec: vectordb.Record{
					URI:   root.String(),
					Scope: string(root.Scope()),
					Depth: root.Depth(),
					IsDir: true,
				},
			})
		}
	}

	// Phase 2: directed recursion with convergence detection. Each round
	// pops the best directories and expands them concurrently; scoring and
	// heap updates stay sequential so ordering is deterministic.
	stableRounds := 0
	lastTop := ""
	for pq.Len() > 0 {
		batch := make([]candidate, 0, MaxParallelChildren)
		for pq.Len() > 0 && len(batch) < MaxParallelChildren {
			n := heap.Pop(pq).(candidate)
			if !n.rec.IsDir {
				continue
			}
			batch = append(batch, n)
		}
		if len(batch) == 0 {
			break
		}

		expanded := make([][]candidate, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(MaxParallelChildren)
		for i, n := range batch {
			g.Go(func() error {
				children, err := r.childSearch(gctx, q, vec, n.rec.URI, mode)
				if err != nil {
					return err
				}
				expanded[i] = children
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, n := range batch {
			for _, c := range expanded[i] {
				final := ScorePropagationAlpha*c.score + (1-ScorePropagationAlpha)*n.score
				child := candidate{rec: c.rec, score: final}
				if final < r.threshold {
					continue
				}
				r.consider(child, collected)
				if c.rec.IsDir && !seen[c.rec.URI] {
					seen[c.rec.URI] = true
					heap.Push(pq, child)
				}
			}
		}

		top := topKFingerprint(collected, topK)
		if top == lastTop {
			stableRounds++
			if stableRounds >= MaxConvergenceRounds {
				break
			}
		} else {
			stableRounds = 0
			lastTop = top
		}
	}

	return r.finalize(ctx, collected, topK)
}

// consider keeps the best score seen per URI. Roots without index records
// never enter the result set.
func (r *Retriever) consider(c candidate, collected map[string]candidate) {
	if len(c.rec.Dense) == 0 && c.rec.Abstract == "" {
		return
	}
	if c.score < r.threshold {
		return
	}
	if prev, ok := collected[c.rec.URI]; !ok || c.score > prev.score {
		collected[c.rec.URI] = c
	}
}

// seedSearch runs the Phase 1 global search under one root.
func (r *Retriever) seedSearch(ctx context.Context, q TypedQuery, vec embedders.Vector, root uri.URI, mode Mode) ([]candidate, error) {
	matches, err := r.vfs.Index().Search(ctx, vectordb.Query{
		Dense:  vec.Dense,
		Sparse: vec.Sparse,
		TopK:   GlobalSearchTopK * 4,
		Scope:  string(root.Scope()),
	})
	if err != nil {
		return nil, err
	}
	var inRoot []vectordb.Match
	for _, m := range matches {
		if uri.HasPrefixString(m.URI, root.String()) {
			inRoot = append(inRoot, m)
			if len(inRoot) == GlobalSearchTopK {
				break
			}
		}
	}
	return r.scoreBatch(ctx, q, inRoot, mode), nil
}

// childSearch expands one directory.
func (r *Retriever) childSearch(ctx context.Context, q TypedQuery, vec embedders.Vector, parent string, mode Mode) ([]candidate, error) {
	matches, err := r.vfs.Index().Search(ctx, vectordb.Query{
		Dense:     vec.Dense,
		Sparse:    vec.Sparse,
		TopK:      r.childK,
		ParentURI: parent,
	})
	if err != nil {
		return nil, err
	}
	return r.scoreBatch(ctx, q, matches, mode), nil
}

// scoreBatch converts matches to candidates, reranking the batch in
// thinking mode. Rerank failures fall back to the vector scores.
func (r *Retriever) scoreBatch(ctx context.Context, q TypedQuery, matches []vectordb.Match, mode Mode) []candidate {
	out := make([]candidate, len(matches))
	for i, m := range matches {
		out[i] = candidate{rec: m.Record, score: m.Score}
	}
	if mode != ModeThinking || r.reranker == nil || len(matches) == 0 {
		return out
	}

	docs := make([]rerank.Document, len(matches))
	for i, m := range matches {
		text := m.Abstract
		if text == "" {
			text = m.URI
		}
		docs[i] = rerank.Document{URI: m.URI, Text: text}
	}
	results, err := r.reranker.Rerank(ctx, q.Text, docs)
	if err != nil {
		r.logger.Warn("rerank failed, using vector scores", "error", err)
		return out
	}
	reranked := make([]candidate, 0, len(results))
	for _, res := range results {
		reranked = append(reranked, candidate{rec: matches[res.Index].Record, score: res.Score})
	}
	return reranked
}

// topKFingerprint renders the current top-k URI set for convergence
// comparison.
func topKFingerprint(collected map[string]candidate, topK int) string {
	list := rankCandidates(collected)
	if len(list) > topK {
		list = list[:topK]
	}
	fp := ""
	for _, c := range list {
		fp += c.rec.URI + "\n"
	}
	return fp
}

func rankCandidates(collected map[string]candidate) []candidate {
	list := make([]candidate, 0, len(collected))
	for _, c := range collected {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		if list[i].rec.Depth != list[j].rec.Depth {
			return list[i].rec.Depth < list[j].rec.Depth
		}
		return list[i].rec.URI < list[j].rec.URI
	})
	return list
}

// finalize ranks, truncates, and attaches relations.
func (r *Retriever) finalize(ctx context.Context, collected map[string]candidate, topK int) ([]MatchedContext, error) {
	list := rankCandidates(collected)
	if len(list) > topK {
		list = list[:topK]
	}

	results := make([]MatchedContext, 0, len(list))
	for _, c := range list {
		m := MatchedContext{
			URI:      c.rec.URI,
			Score:    c.score,
			IsDir:    c.rec.IsDir,
			Depth:    c.rec.Depth,
			Abstract: c.rec.Abstract,
		}
		if m.Name = c.rec.Name; m.Name == "" {
			if u, err := uri.Parse(c.rec.URI); err == nil {
				m.Name = u.Name()
			}
		}
		if c.rec.IsDir {
			if u, err := uri.Parse(c.rec.URI); err == nil {
				relations, err := r.vfs.Relations(ctx, u)
				if err == nil {
					for _, rel := range relations {
						m.Relations = append(m.Relations, MatchedRelation{TargetURI: rel.TargetURI, Reason: rel.Reason})
						if len(m.Relations) == MaxRelations {
							break
						}
					}
				}
			}
		}
		results = append(results, m)
	}
	return results, nil
}
