package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/openviking/openviking/pkg/llms"
)

const summarySystemPrompt = `You summarize documents for a context index.
Reply with one plain sentence naming what the content covers and what it is
useful for. No preamble, no markdown.`

const overviewSystemPrompt = `You write directory overviews for a context
index. Follow the requested structure exactly and stay within the token
budget. Plain markdown, no preamble.`

// summarizeFile produces a one-sentence summary of an L2 file. Oversized
// content is summarized in section chunks whose partial summaries are then
// folded into one.
func (p *Processor) summarizeFile(ctx context.Context, name, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	chunks := sectionChunks(content, MaxSectionsPerCall)
	if len(chunks) == 1 {
		return p.summarizeOnce(ctx, name, chunks[0])
	}
	partials := make([]string, 0, len(chunks))
	for _, c := range chunks {
		s, err := p.summarizeOnce(ctx, name, c)
		if err != nil {
			return "", err
		}
		partials = append(partials, s)
	}
	return p.summarizeOnce(ctx, name, strings.Join(partials, "\n"))
}

func (p *Processor) summarizeOnce(ctx context.Context, name, content string) (string, error) {
	out, err := p.vlm.Chat(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: summarySystemPrompt},
		{Role: llms.RoleUser, Content: fmt.Sprintf("File: %s\n\n%s", name, content)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// sectionChunks splits markdown into groups of at most maxSections
// heading-delimited blocks.
func sectionChunks(content string, maxSections int) []string {
	var blocks []string
	var current []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") && len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	if len(blocks) <= maxSections {
		return []string{content}
	}
	var chunks []string
	for i := 0; i < len(blocks); i += maxSections {
		end := i + maxSections
		if end > len(blocks) {
			end = len(blocks)
		}
		chunks = append(chunks, strings.Join(blocks[i:end], "\n"))
	}
	return chunks
}

// composeOverview builds the L1 text: role sentence, per-child entries,
// key points, access hints. If the model overruns the budget, it gets one
// retry with a tightened limit before deterministic truncation.
func (p *Processor) composeOverview(ctx context.Context, name string, childLines []string) (string, error) {
	prompt := overviewPrompt(name, childLines, OverviewTokenBudget)
	out, err := p.chatOverview(ctx, prompt)
	if err != nil {
		return "", err
	}
	if p.tokens.Count(out) > OverviewTokenBudget {
		out, err = p.chatOverview(ctx, overviewPrompt(name, childLines, OverviewTokenBudget*3/4))
		if err != nil {
			return "", err
		}
		if p.tokens.Count(out) > OverviewTokenBudget {
			out = p.truncateTokens(out, OverviewTokenBudget)
		}
	}
	return out, nil
}

func (p *Processor) chatOverview(ctx context.Context, prompt string) (string, error) {
	out, err := p.vlm.Chat(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: overviewSystemPrompt},
		{Role: llms.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func overviewPrompt(name string, childLines []string, budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\n\nContents:\n", name)
	if len(childLines) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, l := range childLines {
		b.WriteString(l + "\n")
	}
	fmt.Fprintf(&b, `
Write the overview with this structure:
1. One opening sentence stating the role of this directory.
2. One line per entry above, keeping the [file]/[dir] marker and name,
   with a one-sentence purpose.
3. "Key points:" with up to five bullets.
4. "Access hints:" with up to three bullets on when to read what.
Stay under %d tokens.`, budget)
	return b.String()
}

// extractAbstract takes the overview's first paragraph as the L0 text,
// truncated at a sentence boundary within the abstract budget.
func (p *Processor) extractAbstract(overview string) string {
	paragraph := overview
	if i := strings.Index(overview, "\n\n"); i >= 0 {
		paragraph = overview[:i]
	}
	// Never let a heading line or list marker leak into the abstract.
	var lines []string
	for _, l := range strings.Split(paragraph, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		lines = append(lines, l)
	}
	paragraph = strings.Join(lines, " ")
	if p.tokens.Count(paragraph) <= AbstractTokenBudget {
		return paragraph
	}

	sentences := splitSentences(paragraph)
	var b strings.Builder
	for _, s := range sentences {
		candidate := strings.TrimSpace(b.String() + " " + s)
		if b.Len() > 0 && p.tokens.Count(candidate) > AbstractTokenBudget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	out := b.String()
	if p.tokens.Count(out) > AbstractTokenBudget {
		out = p.truncateTokens(out, AbstractTokenBudget)
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？') &&
			(i+1 >= len(runes) || runes[i+1] == ' ') {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// truncateTokens cuts text to roughly budget tokens on a rune boundary.
func (p *Processor) truncateTokens(text string, budget int) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if p.tokens.Count(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.TrimSpace(string(runes[:lo]))
}
