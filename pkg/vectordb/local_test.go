package vectordb

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(uri, parent string, depth int, dense []float32) Record {
	return Record{
		URI:       uri,
		ParentURI: parent,
		Scope:     "resources",
		Depth:     depth,
		Dense:     dense,
	}
}

func TestLocalUpsertGetDelete(t *testing.T) {
	db, err := NewLocal("", 0.3)
	require.NoError(t, err)
	ctx := context.Background()

	r := rec("viking://resources/a", "viking://resources", 1, []float32{1, 0})
	require.NoError(t, db.Upsert(ctx, []Record{r}))

	got, ok, err := db.Get(ctx, r.URI)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.URI, got.URI)

	require.NoError(t, db.Delete(ctx, r.URI))
	_, ok, err = db.Get(ctx, r.URI)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing URI is a no-op.
	require.NoError(t, db.Delete(ctx, "viking://resources/missing"))
}

func TestLocalSearchRanking(t *testing.T) {
	db, err := NewLocal("", 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, []Record{
		rec("viking://resources/near", "viking://resources", 1, []float32{1, 0}),
		rec("viking://resources/mid", "viking://resources", 1, []float32{0.7, 0.7}),
		rec("viking://resources/far", "viking://resources", 1, []float32{0, 1}),
	}))

	matches, err := db.Search(ctx, Query{Dense: []float32{1, 0}, TopK: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "viking://resources/near", matches[0].URI)
	assert.Equal(t, "viking://resources/mid", matches[1].URI)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestLocalSearchFilters(t *testing.T) {
	db, err := NewLocal("", 0)
	require.NoError(t, err)
	ctx := context.Background()

	a := rec("viking://resources/a", "viking://resources", 1, []float32{1, 0})
	child := rec("viking://resources/a/x", "viking://resources/a", 2, []float32{1, 0})
	other := rec("viking://user/m", "viking://user", 1, []float32{1, 0})
	other.Scope = "user"
	require.NoError(t, db.Upsert(ctx, []Record{a, child, other}))

	matches, err := db.Search(ctx, Query{Dense: []float32{1, 0}, Scope: "user"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "viking://user/m", matches[0].URI)

	matches, err = db.Search(ctx, Query{Dense: []float32{1, 0}, ParentURI: "viking://resources/a"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "viking://resources/a/x", matches[0].URI)
}

func TestLocalSearchTieBreaks(t *testing.T) {
	db, err := NewLocal("", 0)
	require.NoError(t, err)
	ctx := context.Background()

	deep := rec("viking://resources/a/b", "viking://resources/a", 2, []float32{1, 0})
	shallow := rec("viking://resources/z", "viking://resources", 1, []float32{1, 0})
	require.NoError(t, db.Upsert(ctx, []Record{deep, shallow}))

	matches, err := db.Search(ctx, Query{Dense: []float32{1, 0}})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	// Equal scores: shallower first.
	assert.Equal(t, "viking://resources/z", matches[0].URI)
}

func TestLocalHybridBlend(t *testing.T) {
	db, err := NewLocal("", 0.5)
	require.NoError(t, err)
	ctx := context.Background()

	denseOnly := rec("viking://resources/dense", "viking://resources", 1, []float32{1, 0})
	sparseToo := rec("viking://resources/both", "viking://resources", 1, []float32{1, 0})
	sparseToo.Sparse = map[uint32]float32{7: 1}
	require.NoError(t, db.Upsert(ctx, []Record{denseOnly, sparseToo}))

	matches, err := db.Search(ctx, Query{
		Dense:  []float32{1, 0},
		Sparse: map[uint32]float32{7: 1},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "viking://resources/both", matches[0].URI)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.InDelta(t, 0.5, matches[1].Score, 1e-9)
}

func TestLocalPrefixOps(t *testing.T) {
	db, err := NewLocal("", 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, []Record{
		rec("viking://resources/x", "viking://resources", 1, nil),
		rec("viking://resources/x/a", "viking://resources/x", 2, nil),
		rec("viking://resources/xy", "viking://resources", 1, nil),
	}))

	uris, err := db.ListPrefix(ctx, "viking://resources/x")
	require.NoError(t, err)
	assert.Equal(t, []string{"viking://resources/x", "viking://resources/x/a"}, uris)

	require.NoError(t, db.RenamePrefix(ctx, "viking://resources/x", "viking://resources/z"))
	got, ok, err := db.Get(ctx, "viking://resources/z/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "viking://resources/z", got.ParentURI)
	// The sibling sharing the name prefix is untouched.
	_, ok, err = db.Get(ctx, "viking://resources/xy")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.DeletePrefix(ctx, "viking://resources/z"))
	uris, err = db.ListPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"viking://resources/xy"}, uris)
}

func TestLocalRenameAcrossParents(t *testing.T) {
	db, err := NewLocal("", 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, []Record{
		rec("viking://resources/a/b/c", "viking://resources/a/b", 3, nil),
		rec("viking://resources/a/b/c/leaf", "viking://resources/a/b/c", 4, nil),
	}))

	require.NoError(t, db.RenamePrefix(ctx, "viking://resources/a/b/c", "viking://resources/d/c"))

	// The moved root reparents to its new directory, not a rebase of the old
	// parent, and depth follows the new location.
	root, ok, err := db.Get(ctx, "viking://resources/d/c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "viking://resources/d", root.ParentURI)
	assert.Equal(t, 2, root.Depth)

	leaf, ok, err := db.Get(ctx, "viking://resources/d/c/leaf")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "viking://resources/d/c", leaf.ParentURI)
	assert.Equal(t, 3, leaf.Depth)
}

func TestLocalPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	ctx := context.Background()

	db, err := NewLocal(path, 0.3)
	require.NoError(t, err)
	require.NoError(t, db.Upsert(ctx, []Record{
		rec("viking://resources/a", "viking://resources", 1, []float32{1, 0}),
	}))
	require.NoError(t, db.Close())

	reopened, err := NewLocal(path, 0.3)
	require.NoError(t, err)
	_, ok, err := reopened.Get(ctx, "viking://resources/a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSimilarityHelpers(t *testing.T) {
	assert.InDelta(t, 1.0, denseSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0, denseSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, denseSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, denseSimilarity([]float32{1}, []float32{1, 2}))

	a := map[uint32]float32{1: 1, 2: 1}
	b := map[uint32]float32{2: 1, 3: 1}
	assert.InDelta(t, 0.5, sparseSimilarity(a, b), 1e-9)
	assert.Equal(t, 0.0, sparseSimilarity(nil, b))

	got := sparseSimilarity(a, a)
	assert.InDelta(t, 1.0, got, 1e-9)
	assert.False(t, math.IsNaN(got))
}
