package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/llms"
)

// MaxQueries caps how many typed queries one message expands into.
const MaxQueries = 5

const intentSystemPrompt = `You analyze the latest user message of a
conversation and emit retrieval queries for a context database.

Reply with a JSON array only. Each element:
  {"text": "...", "context_type": "memory"|"resource"|"skill",
   "intent": "...", "priority": 1-5}

Rules:
- At most 5 queries, highest priority first.
- Pure chit-chat (greetings, thanks, small talk) needs no context: reply [].
- "skill" queries start with a verb naming the capability to apply.
- "resource" queries are noun phrases naming the material to consult.
- "memory" queries start with the word "user" and describe a preference
  or fact about them.
- Use the conversation only to resolve references in the latest message.`

// chitChatMarkers short-circuits the model for messages that obviously
// need no context.
var chitChatMarkers = []string{
	"hi", "hello", "hey", "thanks", "thank you", "ok", "okay", "bye",
	"goodbye", "good morning", "good night", "lol", "cool", "great",
}

// IntentAnalyzer expands a conversation turn into typed retrieval queries.
type IntentAnalyzer struct {
	vlm    llms.VLM
	logger *slog.Logger
}

func NewIntentAnalyzer(vlm llms.VLM, logger *slog.Logger) *IntentAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentAnalyzer{vlm: vlm, logger: logger}
}

// Analyze returns the typed queries for the latest message. history holds
// prior turns, newest last; only the last five are shown to the model.
// sessionSummary may be empty.
func (a *IntentAnalyzer) Analyze(ctx context.Context, sessionSummary string, history []string, message string) ([]TypedQuery, error) {
	if isChitChat(message) {
		return []TypedQuery{}, nil
	}

	out, err := a.vlm.Chat(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: intentSystemPrompt},
		{Role: llms.RoleUser, Content: intentPrompt(sessionSummary, history, message)},
	})
	if err != nil {
		return nil, err
	}

	queries, err := parseQueries(out)
	if err != nil {
		return nil, errdefs.New(errdefs.KindFatalBackend, "",
			fmt.Errorf("intent analysis produced unparseable output: %w", err))
	}
	return normalizeQueries(queries), nil
}

func isChitChat(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	m = strings.TrimRight(m, ".!?")
	for _, marker := range chitChatMarkers {
		if m == marker {
			return true
		}
	}
	return false
}

func intentPrompt(sessionSummary string, history []string, message string) string {
	var b strings.Builder
	if sessionSummary != "" {
		fmt.Fprintf(&b, "Session summary:\n%s\n\n", sessionSummary)
	}
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	if len(history) > 0 {
		b.WriteString("Recent messages:\n")
		for _, h := range history {
			b.WriteString("- " + h + "\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Latest message:\n%s", message)
	return b.String()
}

// parseQueries decodes the model's JSON array, tolerating a fenced block.
func parseQueries(out string) ([]TypedQuery, error) {
	out = strings.TrimSpace(out)
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```json")
		out = strings.TrimPrefix(out, "```")
		if i := strings.LastIndex(out, "```"); i >= 0 {
			out = out[:i]
		}
		out = strings.TrimSpace(out)
	}
	var queries []TypedQuery
	if err := json.Unmarshal([]byte(out), &queries); err != nil {
		return nil, err
	}
	return queries, nil
}

// normalizeQueries enforces the style contract, clamps priorities, drops
// blanks, caps the count, and orders by priority. The sort is stable so
// equal priorities keep generation order.
func normalizeQueries(queries []TypedQuery) []TypedQuery {
	kept := make([]TypedQuery, 0, len(queries))
	for _, q := range queries {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			continue
		}
		switch q.ContextType {
		case TypeMemory, TypeResource, TypeSkill:
		default:
			q.ContextType = TypeResource
		}
		if q.ContextType == TypeMemory && !strings.HasPrefix(strings.ToLower(q.Text), "user") {
			q.Text = "user " + q.Text
		}
		if q.Priority < 1 {
			q.Priority = 1
		}
		if q.Priority > 5 {
			q.Priority = 5
		}
		kept = append(kept, q)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Priority > kept[j].Priority
	})
	if len(kept) > MaxQueries {
		kept = kept[:MaxQueries]
	}
	return kept
}
