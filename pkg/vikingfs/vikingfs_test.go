package vikingfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/agfs"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vectordb"
)

func newTestFS(t *testing.T) (*VikingFS, vectordb.DB, queue.Queue) {
	t.Helper()
	index, err := vectordb.NewLocal("", 0.3)
	require.NoError(t, err)
	q := queue.NewMemory(time.Minute)
	v := New(agfs.NewMemory(), index, q, nil)
	return v, index, q
}

func TestWriteEnqueuesAncestors(t *testing.T) {
	v, _, q := newTestFS(t)
	ctx := context.Background()

	u := uri.MustParse("viking://resources/docs/guide/setup.md")
	require.NoError(t, v.Write(ctx, u, []byte("content")))

	data, err := v.Read(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	// One message per ancestor directory, scope root excluded.
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)

	out, err := q.Outstanding(ctx, "viking://resources/docs/guide")
	require.NoError(t, err)
	assert.True(t, out)
}

func TestWriteRejections(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	err := v.Write(ctx, uri.MustParse("viking://resources"), []byte("x"))
	assert.True(t, errdefs.IsInvalidInput(err))

	err = v.Write(ctx, uri.MustParse("viking://resources/doc/.abstract.md"), []byte("x"))
	assert.True(t, errdefs.IsInvalidInput(err))
}

func TestReadDirectoryFails(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()
	require.NoError(t, v.Mkdir(ctx, uri.MustParse("viking://resources/dir")))

	_, err := v.Read(ctx, uri.MustParse("viking://resources/dir"))
	assert.True(t, errdefs.IsInvalidInput(err))
}

func TestReadDriftDropsRecord(t *testing.T) {
	v, index, _ := newTestFS(t)
	ctx := context.Background()

	// Index knows a URI the store does not: the record must be dropped and
	// the read must fail not-found.
	ghost := "viking://resources/ghost.md"
	require.NoError(t, index.Upsert(ctx, []vectordb.Record{{URI: ghost, Scope: "resources", Depth: 1}}))

	_, err := v.Read(ctx, uri.MustParse(ghost))
	assert.True(t, errdefs.IsNotFound(err))

	_, ok, err := index.Get(ctx, ghost)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRmDirectory(t *testing.T) {
	v, index, q := newTestFS(t)
	ctx := context.Background()

	doc := uri.MustParse("viking://resources/doc")
	require.NoError(t, v.Write(ctx, doc.Join("a.md"), []byte("a")))
	require.NoError(t, index.Upsert(ctx, []vectordb.Record{
		{URI: doc.String(), Scope: "resources", Depth: 1},
		{URI: doc.String() + "/a.md", Scope: "resources", Depth: 2},
	}))

	err := v.Rm(ctx, doc, false)
	assert.True(t, errdefs.IsInvalidInput(err))

	require.NoError(t, v.Rm(ctx, doc, true))

	exists, err := v.Exists(ctx, doc)
	require.NoError(t, err)
	assert.False(t, exists)
	uris, err := index.ListPrefix(ctx, doc.String())
	require.NoError(t, err)
	assert.Empty(t, uris)
	out, err := q.Outstanding(ctx, doc.String())
	require.NoError(t, err)
	assert.False(t, out)
}

func TestMvKeepsStoresAligned(t *testing.T) {
	v, index, q := newTestFS(t)
	ctx := context.Background()

	src := uri.MustParse("viking://resources/old")
	dst := uri.MustParse("viking://resources/new")
	require.NoError(t, v.Write(ctx, src.Join("a.md"), []byte("a")))
	require.NoError(t, index.Upsert(ctx, []vectordb.Record{
		{URI: src.String(), ParentURI: "viking://resources", Scope: "resources", Depth: 1},
		{URI: src.String() + "/a.md", ParentURI: src.String(), Scope: "resources", Depth: 2},
	}))

	require.NoError(t, v.Mv(ctx, src, dst))

	data, err := v.Read(ctx, dst.Join("a.md"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	uris, err := index.ListPrefix(ctx, dst.String())
	require.NoError(t, err)
	assert.Equal(t, []string{dst.String(), dst.String() + "/a.md"}, uris)
	uris, err = index.ListPrefix(ctx, src.String())
	require.NoError(t, err)
	assert.Empty(t, uris)

	// Stale work for the old URI is gone.
	out, err := q.Outstanding(ctx, src.String()+"/")
	require.NoError(t, err)
	assert.False(t, out)
}

func TestMvDestinationConflict(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, v.Write(ctx, uri.MustParse("viking://resources/a/x.md"), []byte("a")))
	require.NoError(t, v.Write(ctx, uri.MustParse("viking://resources/b/x.md"), []byte("b")))

	err := v.Mv(ctx, uri.MustParse("viking://resources/a"), uri.MustParse("viking://resources/b"))
	assert.True(t, errdefs.IsConflict(err))
}

func TestMvRewritesRelationTargets(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	src := uri.MustParse("viking://resources/old")
	dst := uri.MustParse("viking://resources/new")
	other := uri.MustParse("viking://resources/other")
	require.NoError(t, v.Write(ctx, src.Join("a.md"), []byte("a")))
	require.NoError(t, v.Write(ctx, other.Join("b.md"), []byte("b")))
	require.NoError(t, v.Link(ctx, other, []uri.URI{src}, "related"))

	require.NoError(t, v.Mv(ctx, src, dst))

	relations, err := v.Relations(ctx, other)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, dst.String(), relations[0].TargetURI)
}

func TestLinkDedupAndUnlink(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	from := uri.MustParse("viking://resources/from")
	a := uri.MustParse("viking://resources/a")
	b := uri.MustParse("viking://resources/b")
	require.NoError(t, v.Mkdir(ctx, from))

	require.NoError(t, v.Link(ctx, from, []uri.URI{a, b}, "first"))
	require.NoError(t, v.Link(ctx, from, []uri.URI{a}, "second"))

	relations, err := v.Relations(ctx, from)
	require.NoError(t, err)
	require.Len(t, relations, 2)
	assert.Equal(t, a.String(), relations[0].TargetURI)
	assert.Equal(t, "first", relations[0].Reason)

	require.NoError(t, v.Unlink(ctx, from, []uri.URI{a}))
	relations, err = v.Relations(ctx, from)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, b.String(), relations[0].TargetURI)

	// Unknown targets are ignored.
	require.NoError(t, v.Unlink(ctx, from, []uri.URI{a}))
}

func TestRelationsMissingURI(t *testing.T) {
	v, _, _ := newTestFS(t)
	_, err := v.Relations(context.Background(), uri.MustParse("viking://resources/nope"))
	assert.True(t, errdefs.IsNotFound(err))
}

func TestLsExcludesReservedAndAddsAbstracts(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	dir := uri.MustParse("viking://resources/doc")
	sub := dir.Join("sub")
	require.NoError(t, v.Write(ctx, dir.Join("a.md"), []byte("a")))
	require.NoError(t, v.Mkdir(ctx, sub))
	require.NoError(t, v.Store().Write(ctx, dir.StorePath()+"/"+AbstractFile, []byte("doc abstract")))
	require.NoError(t, v.Store().Write(ctx, sub.StorePath()+"/"+AbstractFile, []byte("sub abstract")))

	entries, err := v.Ls(ctx, dir, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.md", entries[0].Name)
	assert.Equal(t, "sub", entries[1].Name)
	assert.Equal(t, "sub abstract", entries[1].Abstract)
}

func TestAbstractAndOverview(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	dir := uri.MustParse("viking://resources/doc")
	require.NoError(t, v.Mkdir(ctx, dir))

	// Not yet generated: empty, not an error.
	text, err := v.Abstract(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "", text)

	require.NoError(t, v.Store().Write(ctx, dir.StorePath()+"/"+OverviewFile, []byte("the overview")))
	text, err = v.Overview(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "the overview", text)

	_, err = v.Abstract(ctx, uri.MustParse("viking://resources/missing"))
	assert.True(t, errdefs.IsNotFound(err))
}

func TestTreeDepthLimit(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, v.Write(ctx, uri.MustParse("viking://resources/a/b/c/d.md"), []byte("x")))

	root, err := v.Tree(ctx, uri.MustParse("viking://resources/a"), 1, false)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Empty(t, root.Children[0].Children)

	root, err = v.Tree(ctx, uri.MustParse("viking://resources/a"), 0, false)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.Len(t, root.Children[0].Children, 1)
}

func TestMetaRoundtrip(t *testing.T) {
	v, _, _ := newTestFS(t)
	ctx := context.Background()

	dir := uri.MustParse("viking://resources/doc")
	require.NoError(t, v.Mkdir(ctx, dir))

	meta, err := v.ReadMeta(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, meta.Error)

	require.NoError(t, v.WriteMeta(ctx, dir, Meta{
		Name:         "doc",
		SourceFormat: ".pdf",
		ParserName:   "pdf",
		ActiveCount:  3,
		Error:        "vlm exploded",
	}))
	meta, err = v.ReadMeta(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "doc", meta.Name)
	assert.Equal(t, ".pdf", meta.SourceFormat)
	assert.Equal(t, "pdf", meta.ParserName)
	assert.Equal(t, 3, meta.ActiveCount)
	assert.Equal(t, "vlm exploded", meta.Error)
	assert.False(t, meta.UpdatedAt.IsZero())
}

func TestReconcile(t *testing.T) {
	v, index, q := newTestFS(t)
	ctx := context.Background()

	// Content without a record: must be enqueued.
	orphanDir := uri.MustParse("viking://resources/unindexed")
	require.NoError(t, v.Store().Write(ctx, orphanDir.StorePath()+"/a.md", []byte("a")))

	// Record without content: must be dropped.
	stale := "viking://resources/stale"
	require.NoError(t, index.Upsert(ctx, []vectordb.Record{{URI: stale, Scope: "resources", Depth: 1}}))

	report, err := v.Reconcile(ctx, uri.ScopeResources)
	require.NoError(t, err)
	assert.Contains(t, report.Enqueued, orphanDir.String())
	assert.Contains(t, report.DroppedRecords, stale)

	out, err := q.Outstanding(ctx, orphanDir.String())
	require.NoError(t, err)
	assert.True(t, out)
	_, ok, err := index.Get(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok)
}
