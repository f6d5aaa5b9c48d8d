package embedders

import (
	"context"
)

// Vector pairs the dense and sparse embeddings of one text.
type Vector struct {
	Dense  []float32
	Sparse map[uint32]float32
}

// Pipeline runs dense batching and sparse hashing together so callers get
// both halves of the hybrid representation in one call.
type Pipeline struct {
	dense  Embedder
	sparse SparseEmbedder
}

func NewPipeline(dense Embedder, sparse SparseEmbedder) *Pipeline {
	return &Pipeline{dense: dense, sparse: sparse}
}

// Embed returns one Vector per text, in input order.
func (p *Pipeline) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	denseVecs, err := p.dense.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	vectors := make([]Vector, len(texts))
	for i, text := range texts {
		vectors[i] = Vector{Dense: denseVecs[i], Sparse: p.sparse.Embed(text)}
	}
	return vectors, nil
}

// EmbedOne is Embed for a single text.
func (p *Pipeline) EmbedOne(ctx context.Context, text string) (Vector, error) {
	vectors, err := p.Embed(ctx, []string{text})
	if err != nil {
		return Vector{}, err
	}
	return vectors[0], nil
}

func (p *Pipeline) Dimension() int { return p.dense.Dimension() }
