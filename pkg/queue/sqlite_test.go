package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	q, err := NewSQLite(filepath.Join(t.TempDir(), "queue.db"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestSQLiteClaimBottomUp(t *testing.T) {
	q := newTestSQLite(t)
	ctx := context.Background()

	parent := NewMsg("viking://resources/doc", 1)
	child := NewMsg("viking://resources/doc/sec", 2)
	require.NoError(t, q.Enqueue(ctx, parent, child))

	msg, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, child.URI, msg.URI)

	// The parent stays blocked until its descendant completes.
	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.Complete(ctx, msg.ID))
	msg, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, parent.URI, msg.URI)
}

func TestSQLiteClaimIgnoresUnderscoreSiblings(t *testing.T) {
	q := newTestSQLite(t)
	ctx := context.Background()

	// Auth_Guide and AuthXGuide are unrelated trees; sanitized names make
	// underscores common, so descendant matching must not wildcard them.
	guide := NewMsg("viking://resources/Auth_Guide", 1)
	sibling := NewMsg("viking://resources/AuthXGuide/sub", 2)
	require.NoError(t, q.Enqueue(ctx, guide, sibling))

	msg, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sibling.URI, msg.URI)

	// The sibling's outstanding work must not block Auth_Guide.
	msg, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, guide.URI, msg.URI)
}

func TestSQLitePurgePrefixUnderscoreSiblings(t *testing.T) {
	q := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx,
		NewMsg("viking://resources/Auth_Guide", 1),
		NewMsg("viking://resources/Auth_Guide/x", 2),
		NewMsg("viking://resources/AuthXGuide/sub", 2),
	))

	require.NoError(t, q.PurgePrefix(ctx, "viking://resources/Auth_Guide"))

	purged, err := q.Outstanding(ctx, "viking://resources/Auth_Guide")
	require.NoError(t, err)
	assert.False(t, purged)

	kept, err := q.Outstanding(ctx, "viking://resources/AuthXGuide")
	require.NoError(t, err)
	assert.True(t, kept)
}

func TestSQLiteOutstandingSegmentBoundary(t *testing.T) {
	q := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc_v2/sub", 2)))

	got, err := q.Outstanding(ctx, "viking://resources/doc")
	require.NoError(t, err)
	assert.False(t, got)

	got, err = q.Outstanding(ctx, "viking://resources/doc_v2")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestSQLiteEnqueueDedupesPending(t *testing.T) {
	q := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))
	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestSQLiteFailRetriesThenFails(t *testing.T) {
	q := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))

	for i := 0; i < MaxAttempts; i++ {
		msg, ok, err := q.Claim(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, q.Fail(ctx, msg.ID, "transient", true))
	}

	// Attempts exhausted: the message stays failed.
	_, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}
