// Package service is the composition root: it wires storage, index, queue,
// models, and the retrieval stack into one object exposing the context
// database operations the CLI and the HTTP server share.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/openviking/openviking/pkg/agfs"
	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/embedders"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/llms"
	"github.com/openviking/openviking/pkg/parser"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/rerank"
	"github.com/openviking/openviking/pkg/retrieval"
	"github.com/openviking/openviking/pkg/semantic"
	"github.com/openviking/openviking/pkg/treebuilder"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vectordb"
	"github.com/openviking/openviking/pkg/vikingfs"
)

// Service owns every component of a running context database.
type Service struct {
	cfg *config.Config

	fs    agfs.FS
	index vectordb.DB
	queue queue.Queue
	vlm   llms.VLM
	dense embedders.Embedder

	vfs       *vikingfs.VikingFS
	parsers   *parser.Registry
	builder   *treebuilder.TreeBuilder
	processor *semantic.Processor
	retriever *retrieval.Retriever
	intent    *retrieval.IntentAnalyzer
	pipeline  *embedders.Pipeline

	logger *slog.Logger
}

// New builds a service from config. Close releases everything it opens.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fs, err := agfs.New(cfg.Storage.AGFS)
	if err != nil {
		return nil, fmt.Errorf("agfs: %w", err)
	}
	index, err := vectordb.New(cfg.Storage.VectorDB)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("vectordb: %w", err)
	}
	q, err := queue.New(cfg.Storage.Queue)
	if err != nil {
		fs.Close()
		index.Close()
		return nil, fmt.Errorf("queue: %w", err)
	}

	dense, err := embedders.NewDense(cfg.Embedding.Dense)
	if err != nil {
		fs.Close()
		index.Close()
		q.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	sparse, err := embedders.NewSparse(cfg.Embedding.Sparse)
	if err != nil {
		fs.Close()
		index.Close()
		q.Close()
		dense.Close()
		return nil, fmt.Errorf("sparse embedder: %w", err)
	}
	pipeline := embedders.NewPipeline(dense, sparse)

	vlm, err := llms.New(cfg.VLM)
	if err != nil {
		fs.Close()
		index.Close()
		q.Close()
		dense.Close()
		return nil, fmt.Errorf("vlm: %w", err)
	}
	reranker, err := rerank.New(cfg.Rerank)
	if err != nil {
		fs.Close()
		index.Close()
		q.Close()
		dense.Close()
		vlm.Close()
		return nil, fmt.Errorf("reranker: %w", err)
	}

	vfs := vikingfs.New(fs, index, q, logger)
	s := &Service{
		cfg:       cfg,
		fs:        fs,
		index:     index,
		queue:     q,
		vlm:       vlm,
		dense:     dense,
		vfs:       vfs,
		parsers:   parser.NewRegistry(fs),
		builder:   treebuilder.New(fs, q, logger),
		processor: semantic.NewProcessor(vfs, vlm, pipeline, cfg.Storage.Queue.MaxConcurrentLLM, logger),
		retriever: retrieval.NewRetriever(vfs, pipeline, reranker, cfg.Rerank.Threshold, logger),
		intent:    retrieval.NewIntentAnalyzer(vlm, logger),
		pipeline:  pipeline,
		logger:    logger,
	}
	return s, nil
}

// FS exposes the consistency layer for listing, reading, and mutation.
func (s *Service) FS() *vikingfs.VikingFS { return s.vfs }

// Processor exposes the semantic worker for serving loops and tests.
func (s *Service) Processor() *semantic.Processor { return s.processor }

// Close releases all backends.
func (s *Service) Close() error {
	var first error
	for _, c := range []func() error{s.vlm.Close, s.dense.Close, s.queue.Close, s.index.Close, s.fs.Close} {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recover runs a startup reconciliation pass over every persistent scope.
func (s *Service) Recover(ctx context.Context) error {
	for _, scope := range []uri.Scope{uri.ScopeResources, uri.ScopeUser, uri.ScopeAgent} {
		if _, err := s.vfs.Reconcile(ctx, scope); err != nil {
			return fmt.Errorf("reconcile %s: %w", scope, err)
		}
	}
	return nil
}

// AddResource ingests one document: parse to a canonical tree, move it
// under viking://resources, and queue semantic processing.
func (s *Service) AddResource(ctx context.Context, filename string, data []byte) (uri.URI, error) {
	res, err := s.parsers.Parse(ctx, filename, data)
	if err != nil {
		return uri.URI{}, err
	}
	target, err := s.builder.Build(ctx, res.TempURI, uri.Build(uri.ScopeResources))
	if err != nil {
		return uri.URI{}, err
	}
	meta := vikingfs.Meta{
		Name:         target.Name(),
		SourceFormat: res.SourceFormat,
		ParserName:   res.ParserName,
	}
	if err := s.vfs.WriteMeta(ctx, target, meta); err != nil {
		return uri.URI{}, err
	}
	s.logger.Info("resource added", "uri", target.String(), "source", filename, "parser", res.ParserName)
	return target, nil
}

// AddSkill stores a skill directory under viking://agent/skills/<name> and
// queues it for summarization. files maps relative names to content.
func (s *Service) AddSkill(ctx context.Context, name string, files map[string][]byte) (uri.URI, error) {
	if name == "" || len(files) == 0 {
		return uri.URI{}, errdefs.InvalidInput(name, fmt.Errorf("skill needs a name and at least one file"))
	}
	root := uri.Build(uri.ScopeAgent, "skills", uri.SanitizeSegment(name))
	if err := s.vfs.Mkdir(ctx, root); err != nil {
		return uri.URI{}, err
	}
	for rel, data := range files {
		target, err := uri.Parse(root.String() + "/" + rel)
		if err != nil {
			return uri.URI{}, err
		}
		if err := s.vfs.Write(ctx, target, data); err != nil {
			return uri.URI{}, err
		}
	}
	return root, nil
}

// Find retrieves without query understanding: one query, fast mode. scope,
// when set, restricts the walk to that subtree.
func (s *Service) Find(ctx context.Context, query string, scope *uri.URI, topK int) ([]retrieval.MatchedContext, error) {
	tq := retrieval.TypedQuery{Text: query, ContextType: retrieval.TypeResource, Priority: 3}
	if scope != nil {
		tq.ContextType = retrieval.TypeForScope(*scope)
	}
	return s.retriever.Retrieve(ctx, tq, topK, retrieval.ModeFast, scope)
}

// Search runs the full pipeline: intent analysis expands the message into
// typed queries, each retrieves, and the merged ranking is returned. Pure
// chit-chat yields no queries and an empty result.
func (s *Service) Search(ctx context.Context, message string, sessionSummary string, history []string, topK int, mode retrieval.Mode) ([]retrieval.MatchedContext, error) {
	if topK <= 0 {
		return []retrieval.MatchedContext{}, nil
	}
	queries, err := s.intent.Analyze(ctx, sessionSummary, history, message)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return []retrieval.MatchedContext{}, nil
	}

	best := make(map[string]retrieval.MatchedContext)
	for _, q := range queries {
		matches, err := s.retriever.Retrieve(ctx, q, topK, mode, nil)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if prev, ok := best[m.URI]; !ok || m.Score > prev.Score {
				best[m.URI] = m
			}
		}
	}

	merged := make([]retrieval.MatchedContext, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Depth != merged[j].Depth {
			return merged[i].Depth < merged[j].Depth
		}
		return merged[i].URI < merged[j].URI
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// QueueStats reports semantic queue counters.
func (s *Service) QueueStats(ctx context.Context) (queue.Stats, error) {
	return s.queue.Stats(ctx)
}
