// Package embedders provides the dense and sparse embedding providers and
// the pipeline that turns abstracts into index records.
package embedders

import (
	"context"
	"fmt"

	"github.com/openviking/openviking/pkg/config"
)

// Embedder produces dense vectors for texts.
type Embedder interface {
	// EmbedBatch embeds texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the output vector size.
	Dimension() int

	Close() error
}

// SparseEmbedder produces term-weighted sparse vectors. Sparse embedding is
// deterministic and local, so it needs no context or batching.
type SparseEmbedder interface {
	Embed(text string) map[uint32]float32
}

// NewDense builds the dense provider named by cfg.
func NewDense(cfg config.DenseEmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported dense embedding provider: %s", cfg.Provider)
	}
}

// NewSparse builds the sparse provider named by cfg.
func NewSparse(cfg config.SparseEmbeddingConfig) (SparseEmbedder, error) {
	switch cfg.Provider {
	case "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "none":
		return nopSparse{}, nil
	default:
		return nil, fmt.Errorf("unsupported sparse embedding provider: %s", cfg.Provider)
	}
}

type nopSparse struct{}

func (nopSparse) Embed(string) map[uint32]float32 { return nil }
