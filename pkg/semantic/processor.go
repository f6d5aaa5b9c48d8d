// Package semantic turns directories into summarized, indexed contexts.
// The processor drains the semantic queue bottom-up: for each directory it
// summarizes the L2 files, folds in child abstracts, writes the L1 overview
// and L0 abstract, and upserts the hybrid vector record.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openviking/openviking/pkg/embedders"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/llms"
	"github.com/openviking/openviking/pkg/mdtree"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/retrieval"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vectordb"
	"github.com/openviking/openviking/pkg/vikingfs"
)

// Budgets from the data model: abstracts stay under AbstractTokenBudget,
// overviews under OverviewTokenBudget.
const (
	AbstractTokenBudget = 120
	OverviewTokenBudget = 2000

	// MaxSectionsPerCall caps how many file sections one summary call sees.
	MaxSectionsPerCall = 20

	idlePollInterval = 200 * time.Millisecond
)

// Processor drains the semantic queue.
type Processor struct {
	vfs           *vikingfs.VikingFS
	vlm           llms.VLM
	pipeline      *embedders.Pipeline
	tokens        *mdtree.TokenCounter
	maxConcurrent int
	logger        *slog.Logger
}

func NewProcessor(vfs *vikingfs.VikingFS, vlm llms.VLM, pipeline *embedders.Pipeline, maxConcurrent int, logger *slog.Logger) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		vfs:           vfs,
		vlm:           vlm,
		pipeline:      pipeline,
		tokens:        mdtree.NewTokenCounter(),
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Run drains the queue until ctx is done, polling when idle.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked, err := p.Step(ctx)
		if err != nil {
			return err
		}
		if !worked {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// Drain processes until the queue has nothing eligible. Used after batch
// ingestion and by tests.
func (p *Processor) Drain(ctx context.Context) error {
	for {
		worked, err := p.Step(ctx)
		if err != nil {
			return err
		}
		if !worked {
			return nil
		}
	}
}

// Step claims and processes one message. It reports whether work was done;
// processing failures are recorded on the queue, not returned.
func (p *Processor) Step(ctx context.Context) (bool, error) {
	msg, ok, err := p.vfs.Queue().Claim(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	err = p.processOne(ctx, msg)
	if err == nil {
		return true, p.vfs.Queue().Complete(ctx, msg.ID)
	}

	retryable := errdefs.IsTransient(err)
	p.logger.Warn("semantic processing failed",
		"uri", msg.URI, "attempt", msg.Attempts, "retryable", retryable, "error", err)
	if failErr := p.vfs.Queue().Fail(ctx, msg.ID, err.Error(), retryable); failErr != nil {
		return true, failErr
	}
	if !retryable || msg.Attempts >= queue.MaxAttempts {
		// Fatal: leave the error sentinel so readers and ancestors see why
		// this directory has no summary. Ancestors proceed regardless.
		if u, parseErr := uri.Parse(msg.URI); parseErr == nil {
			meta, _ := p.vfs.ReadMeta(ctx, u)
			meta.Error = err.Error()
			if metaErr := p.vfs.WriteMeta(ctx, u, meta); metaErr != nil {
				p.logger.Error("failed to write error sentinel", "uri", msg.URI, "error", metaErr)
			}
		}
	}
	return true, nil
}

func (p *Processor) processOne(ctx context.Context, msg *queue.Msg) error {
	u, err := uri.Parse(msg.URI)
	if err != nil {
		return err
	}
	exists, err := p.vfs.Exists(ctx, u)
	if err != nil {
		return err
	}
	if !exists {
		// Directory removed while queued; nothing to summarize.
		return nil
	}

	entries, err := p.vfs.Ls(ctx, u, false)
	if err != nil {
		return err
	}

	// File summaries run concurrently, bounded by maxConcurrent.
	var files []vikingfs.Entry
	var dirs []vikingfs.Entry
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	summaries := make([]fileSummary, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for i, f := range files {
		g.Go(func() error {
			fu, err := uri.Parse(f.URI)
			if err != nil {
				return err
			}
			data, err := p.vfs.Read(gctx, fu)
			if err != nil {
				return err
			}
			s, err := p.summarizeFile(gctx, f.Name, string(data))
			if err != nil {
				return err
			}
			summaries[i] = fileSummary{name: f.Name, summary: s}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Child directory abstracts; failed children contribute empty text.
	type childAbstract struct {
		name     string
		abstract string
	}
	children := make([]childAbstract, 0, len(dirs))
	for _, d := range dirs {
		du, err := uri.Parse(d.URI)
		if err != nil {
			return err
		}
		abstract, err := p.vfs.Abstract(ctx, du)
		if err != nil {
			return err
		}
		children = append(children, childAbstract{name: d.Name, abstract: strings.TrimSpace(abstract)})
	}

	var lines []string
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("- [file] %s: %s", s.name, s.summary))
	}
	for _, c := range children {
		lines = append(lines, fmt.Sprintf("- [dir] %s: %s", c.name, c.abstract))
	}

	overview, err := p.composeOverview(ctx, u.Name(), lines)
	if err != nil {
		return err
	}
	abstract := p.extractAbstract(overview)

	store := p.vfs.Store()
	if err := store.Write(ctx, u.StorePath()+"/"+vikingfs.OverviewFile, []byte(overview)); err != nil {
		return err
	}
	if err := store.Write(ctx, u.StorePath()+"/"+vikingfs.AbstractFile, []byte(abstract)); err != nil {
		return err
	}
	// Refresh the sidecar: clear any stale error sentinel from a previous
	// failed attempt and record the live child count.
	meta, err := p.vfs.ReadMeta(ctx, u)
	if err != nil {
		return err
	}
	if meta.Name == "" {
		meta.Name = u.Name()
	}
	meta.ActiveCount = len(files) + len(dirs)
	meta.Error = ""
	if err := p.vfs.WriteMeta(ctx, u, meta); err != nil {
		return err
	}

	embedText := u.Name() + "\n" + abstract
	vec, err := p.pipeline.EmbedOne(ctx, embedText)
	if err != nil {
		return err
	}

	// First indexing fixes created_at; re-summarization keeps it.
	createdAt := time.Now().UTC()
	if prev, ok, err := p.vfs.Index().Get(ctx, u.String()); err == nil && ok && !prev.CreatedAt.IsZero() {
		createdAt = prev.CreatedAt
	}

	record := vectordb.Record{
		URI:         u.String(),
		ParentURI:   u.ParentString(),
		Scope:       string(u.Scope()),
		ContextType: string(retrieval.TypeForScope(u)),
		Name:        meta.Name,
		Description: meta.Description,
		Depth:       u.Depth(),
		IsDir:       true,
		ActiveCount: meta.ActiveCount,
		Abstract:    abstract,
		CreatedAt:   createdAt,
		Dense:       vec.Dense,
		Sparse:      vec.Sparse,
	}
	if err := p.vfs.Index().Upsert(ctx, []vectordb.Record{record}); err != nil {
		return err
	}

	// Leaves are indexed too so retrieval can land on files directly.
	if err := p.indexLeaves(ctx, u, files, summariesByName(summaries)); err != nil {
		return err
	}

	p.logger.Debug("directory summarized", "uri", u.String(), "files", len(files), "dirs", len(dirs))
	return nil
}

// fileSummary pairs an L2 filename with its generated summary.
type fileSummary struct {
	name    string
	summary string
}

func summariesByName(summaries []fileSummary) map[string]string {
	m := make(map[string]string, len(summaries))
	for _, s := range summaries {
		m[s.name] = s.summary
	}
	return m
}

// indexLeaves upserts one record per L2 file using its summary as the
// abstract.
func (p *Processor) indexLeaves(ctx context.Context, dir uri.URI, files []vikingfs.Entry, summaries map[string]string) error {
	if len(files) == 0 {
		return nil
	}
	texts := make([]string, len(files))
	for i, f := range files {
		texts[i] = f.Name + "\n" + summaries[f.Name]
	}
	vecs, err := p.pipeline.Embed(ctx, texts)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	records := make([]vectordb.Record, len(files))
	for i, f := range files {
		fu := dir.Join(f.Name)
		records[i] = vectordb.Record{
			URI:         fu.String(),
			ParentURI:   dir.String(),
			Scope:       string(dir.Scope()),
			ContextType: string(retrieval.TypeForScope(fu)),
			Name:        f.Name,
			Depth:       fu.Depth(),
			Abstract:    summaries[f.Name],
			CreatedAt:   now,
			Dense:       vecs[i].Dense,
			Sparse:      vecs[i].Sparse,
		}
	}
	return p.vfs.Index().Upsert(ctx, records)
}
