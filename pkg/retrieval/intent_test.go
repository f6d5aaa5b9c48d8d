package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/llms"
)

// cannedVLM replies with a fixed string and counts calls.
type cannedVLM struct {
	reply string
	calls int
}

func (c *cannedVLM) Chat(context.Context, []llms.Message) (string, error) {
	c.calls++
	return c.reply, nil
}

func (c *cannedVLM) Close() error { return nil }

func TestAnalyzeChitChatSkipsModel(t *testing.T) {
	vlm := &cannedVLM{reply: `[]`}
	a := NewIntentAnalyzer(vlm, nil)

	for _, msg := range []string{"hi", "Hello!", "Thanks.", "  ok  ", "Good morning"} {
		queries, err := a.Analyze(context.Background(), "", nil, msg)
		require.NoError(t, err, msg)
		assert.Empty(t, queries, msg)
	}
	assert.Equal(t, 0, vlm.calls)
}

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	vlm := &cannedVLM{reply: "```json\n" +
		`[{"text": "kubernetes deployment guide", "context_type": "resource", "intent": "deploy", "priority": 4}]` +
		"\n```"}
	a := NewIntentAnalyzer(vlm, nil)

	queries, err := a.Analyze(context.Background(), "", nil, "how do I deploy this to the cluster?")
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "kubernetes deployment guide", queries[0].Text)
	assert.Equal(t, TypeResource, queries[0].ContextType)
	assert.Equal(t, 4, queries[0].Priority)
}

func TestAnalyzeNormalizesQueries(t *testing.T) {
	vlm := &cannedVLM{reply: `[
		{"text": "prefers dark roast coffee", "context_type": "memory", "priority": 9},
		{"text": "  ", "context_type": "resource", "priority": 3},
		{"text": "espresso machine manual", "context_type": "beverage", "priority": 0},
		{"text": "user timezone", "context_type": "memory", "priority": 2}
	]`}
	a := NewIntentAnalyzer(vlm, nil)

	queries, err := a.Analyze(context.Background(), "", nil, "make me a coffee")
	require.NoError(t, err)
	require.Len(t, queries, 3)

	// Memory queries lead with "user"; blanks are dropped; unknown context
	// types fall back to resource; priorities clamp to 1..5.
	assert.Equal(t, "user prefers dark roast coffee", queries[0].Text)
	assert.Equal(t, 5, queries[0].Priority)
	assert.Equal(t, "user timezone", queries[1].Text)
	assert.Equal(t, TypeResource, queries[2].ContextType)
	assert.Equal(t, 1, queries[2].Priority)
}

func TestAnalyzeCapsQueryCount(t *testing.T) {
	vlm := &cannedVLM{reply: `[
		{"text": "a", "context_type": "resource", "priority": 1},
		{"text": "b", "context_type": "resource", "priority": 2},
		{"text": "c", "context_type": "resource", "priority": 3},
		{"text": "d", "context_type": "resource", "priority": 4},
		{"text": "e", "context_type": "resource", "priority": 5},
		{"text": "f", "context_type": "resource", "priority": 5}
	]`}
	a := NewIntentAnalyzer(vlm, nil)

	queries, err := a.Analyze(context.Background(), "", nil, "do everything at once please")
	require.NoError(t, err)
	require.Len(t, queries, MaxQueries)
	// Stable sort: e precedes f at equal priority, lowest priority dropped.
	assert.Equal(t, "e", queries[0].Text)
	assert.Equal(t, "f", queries[1].Text)
	assert.Equal(t, "b", queries[4].Text)
}

func TestAnalyzeUnparseableOutput(t *testing.T) {
	vlm := &cannedVLM{reply: "I could not produce queries, sorry."}
	a := NewIntentAnalyzer(vlm, nil)

	_, err := a.Analyze(context.Background(), "", nil, "what is the deployment process?")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindFatalBackend, errdefs.KindOf(err))
}

func TestIntentPromptTruncatesHistory(t *testing.T) {
	history := []string{"one", "two", "three", "four", "five", "six", "seven"}
	prompt := intentPrompt("summary", history, "latest")

	assert.Contains(t, prompt, "Session summary:\nsummary")
	assert.Contains(t, prompt, "- seven")
	assert.Contains(t, prompt, "- three")
	assert.NotContains(t, prompt, "- two")
	assert.Contains(t, prompt, "Latest message:\nlatest")
}
