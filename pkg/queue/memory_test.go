package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimDeepestFirst(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	parent := NewMsg("viking://resources/doc", 1)
	child := NewMsg("viking://resources/doc/sub", 2)
	require.NoError(t, q.Enqueue(ctx, parent, child))

	got, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, child.URI, got.URI)

	// Parent is blocked while the child is still processing.
	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.Complete(ctx, got.ID))
	got, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, parent.URI, got.URI)
}

func TestMemoryEnqueueDedupsPending(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))
	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestMemoryReEnqueueAfterClaim(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))
	got, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Processing does not absorb a new request; the content changed again.
	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Processing)

	require.NoError(t, q.Complete(ctx, got.ID))
}

func TestMemoryFailRetryThenExhaust(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		got, ok, err := q.Claim(ctx)
		require.NoError(t, err)
		require.True(t, ok, "attempt %d", attempt)
		assert.Equal(t, attempt, got.Attempts)
		require.NoError(t, q.Fail(ctx, got.ID, "backend down", true))
	}

	// Retries are exhausted.
	_, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestMemoryFailFatalStops(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))

	got, _, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, got.ID, "bad input", false))

	_, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryVisibilityTimeout(t *testing.T) {
	q := NewMemory(time.Minute)
	now := time.Now()
	q.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewMsg("viking://resources/doc", 1)))
	first, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Within the timeout the message stays invisible.
	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	second, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.URI, second.URI)
	assert.Equal(t, 2, second.Attempts)
}

func TestMemoryOutstandingAndPurge(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx,
		NewMsg("viking://resources/doc/sub", 2),
		NewMsg("viking://resources/other", 1),
	))

	out, err := q.Outstanding(ctx, "viking://resources/doc")
	require.NoError(t, err)
	assert.True(t, out)
	out, err = q.Outstanding(ctx, "viking://resources/docx")
	require.NoError(t, err)
	assert.False(t, out)

	require.NoError(t, q.PurgePrefix(ctx, "viking://resources/doc"))
	out, err = q.Outstanding(ctx, "viking://resources/doc")
	require.NoError(t, err)
	assert.False(t, out)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestMemorySiblingPrefixDoesNotBlock(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	// "doc_v2" shares a string prefix with "doc" but is not a descendant.
	require.NoError(t, q.Enqueue(ctx,
		NewMsg("viking://resources/doc", 1),
		NewMsg("viking://resources/doc_v2/sub", 2),
	))

	got, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "viking://resources/doc_v2/sub", got.URI)

	got2, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "viking://resources/doc", got2.URI)
}
