// Package rerank provides the optional reranking stage applied to search
// results in thinking mode. Reranking failures never fail a search; callers
// fall back to the retriever ordering.
package rerank

import (
	"context"
	"fmt"

	"github.com/openviking/openviking/pkg/config"
)

// Document is one candidate passed to the reranker.
type Document struct {
	URI  string
	Text string
}

// Result is a reranked candidate. Index refers to the input slice.
type Result struct {
	Index int
	Score float64
}

// Reranker reorders documents by relevance to the query, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document) ([]Result, error)
}

// New builds the provider named by cfg, or nil when reranking is disabled.
func New(cfg config.RerankConfig) (Reranker, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	switch cfg.Provider {
	case "", "http":
		return NewHTTPReranker(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", cfg.Provider)
	}
}
