package mdtree

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/agfs"
)

// words returns n space-separated filler words, so sizes hold under both
// the real encoding and the fallback estimate.
func words(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "word%d", i%7)
	}
	return b.String()
}

func section(level int, title string, wordCount int) string {
	return strings.Repeat("#", level) + " " + title + "\n\n" + words(wordCount) + "\n\n"
}

func TestBuildSmallDocumentSingleFile(t *testing.T) {
	b := NewBuilder()
	content := "# Release Notes\n\nSmall enough to stay one file.\n"
	root := b.Build(content, "fallback")

	assert.False(t, root.IsDir)
	assert.Equal(t, "Release_Notes.md", root.Name)
	assert.Equal(t, content, root.Content)
}

func TestBuildFallbackTitle(t *testing.T) {
	b := NewBuilder()
	root := b.Build("plain text with no heading", "notes")
	assert.Equal(t, "notes.md", root.Name)

	root = b.Build("plain text with no heading", "")
	assert.Equal(t, "document.md", root.Name)
}

func TestBuildEmptyDocument(t *testing.T) {
	b := NewBuilder()
	root := b.Build("", "empty")
	assert.False(t, root.IsDir)
	assert.Equal(t, "empty.md", root.Name)
	assert.Equal(t, "", root.Content)
}

func TestBuildLargeDocumentSplitsPerSection(t *testing.T) {
	b := NewBuilder()
	content := "# Guide\n\nShort intro paragraph.\n\n" +
		section(2, "Alpha", 1500) +
		section(2, "Beta", 1500) +
		section(2, "Gamma", 1500)
	root := b.Build(content, "fallback")

	require.True(t, root.IsDir)
	assert.Equal(t, "Guide", root.Name)
	require.Len(t, root.Children, 4)

	// Intro ahead of the first subheading becomes a file named after the
	// parent; the sections keep document order.
	assert.Equal(t, "Guide.md", root.Children[0].Name)
	assert.Contains(t, root.Children[0].Content, "Short intro paragraph.")
	assert.Equal(t, "Alpha.md", root.Children[1].Name)
	assert.Equal(t, "Beta.md", root.Children[2].Name)
	assert.Equal(t, "Gamma.md", root.Children[3].Name)

	// Section files carry their heading.
	assert.True(t, strings.HasPrefix(root.Children[1].Content, "## Alpha\n"))
}

func TestBuildNoSyntheticFileWithoutDirectContent(t *testing.T) {
	b := NewBuilder()
	content := "# Guide\n\n" +
		section(2, "Alpha", 1500) +
		section(2, "Beta", 1500) +
		section(2, "Gamma", 1500)
	root := b.Build(content, "fallback")

	require.True(t, root.IsDir)
	require.Len(t, root.Children, 3)
	assert.Equal(t, "Alpha.md", root.Children[0].Name)
}

func TestBuildCoalescesSmallSections(t *testing.T) {
	b := NewBuilder()
	content := "# Guide\n\n" +
		section(2, "Alpha", 1500) +
		section(2, "Beta", 1500) +
		section(2, "Gamma", 1500) +
		section(2, "Tiny One", 20) +
		section(2, "Tiny Two", 20) +
		section(2, "Tiny Three", 20)
	root := b.Build(content, "fallback")

	require.True(t, root.IsDir)
	require.Len(t, root.Children, 4)
	merged := root.Children[3]
	assert.Equal(t, "Tiny_One_Tiny_Two_Tiny_Three.md", merged.Name)
	assert.Contains(t, merged.Content, "## Tiny One")
	assert.Contains(t, merged.Content, "## Tiny Two")
	assert.Contains(t, merged.Content, "## Tiny Three")
}

func TestBuildNameCollisions(t *testing.T) {
	b := NewBuilder()
	content := "# Guide\n\n" +
		section(2, "Setup", 1500) +
		section(2, "Other", 1500) +
		section(2, "Setup", 1500)
	root := b.Build(content, "fallback")

	require.True(t, root.IsDir)
	require.Len(t, root.Children, 3)
	assert.Equal(t, "Setup.md", root.Children[0].Name)
	assert.Equal(t, "Other.md", root.Children[1].Name)
	assert.Equal(t, "Setup_2.md", root.Children[2].Name)
}

func TestBuildOversizedFlatSectionSplitsByParagraph(t *testing.T) {
	b := NewBuilder()
	var body strings.Builder
	for i := 0; i < 30; i++ {
		body.WriteString(words(300))
		body.WriteString("\n\n")
	}
	content := "# Big\n\n" + body.String()
	root := b.Build(content, "fallback")

	require.True(t, root.IsDir)
	assert.Equal(t, "Big", root.Name)
	require.Len(t, root.Children, 1)

	sub := root.Children[0]
	require.True(t, sub.IsDir)
	assert.Equal(t, "Big", sub.Name)
	require.Greater(t, len(sub.Children), 1)
	for i, c := range sub.Children {
		assert.Equal(t, fmt.Sprintf("Big_%d.md", i+1), c.Name)
		assert.False(t, c.IsDir)
		assert.NotEmpty(t, c.Content)
	}
}

func TestBuildNestedOversizedSectionBecomesDirectory(t *testing.T) {
	b := NewBuilder()
	content := "# Guide\n\n" +
		"## Deep\n\nLead-in before the subsections.\n\n" +
		section(3, "One", 1500) +
		section(3, "Two", 1500) +
		section(3, "Three", 1500) +
		section(2, "Flat", 1500)
	root := b.Build(content, "fallback")

	require.True(t, root.IsDir)
	require.Len(t, root.Children, 2)

	deep := root.Children[0]
	require.True(t, deep.IsDir)
	assert.Equal(t, "Deep", deep.Name)
	require.Len(t, deep.Children, 4)
	// The section's own heading and lead-in become the first child file.
	assert.Equal(t, "Deep.md", deep.Children[0].Name)
	assert.True(t, strings.HasPrefix(deep.Children[0].Content, "## Deep\n"))
	assert.Equal(t, "One.md", deep.Children[1].Name)

	assert.Equal(t, "Flat.md", root.Children[1].Name)
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder()
	content := "# Guide\n\nintro\n\n" +
		section(2, "Alpha", 1500) +
		section(2, "Beta", 1500) +
		section(2, "Gamma", 40)
	first := b.Build(content, "fallback")
	second := b.Build(content, "fallback")
	require.Equal(t, first, second)
}

func TestSplitBlocksKeepsFencesIntact(t *testing.T) {
	text := "para one\n\n```go\nfunc main() {\n\n\tprintln(1)\n}\n```\n\npara two"
	blocks := splitBlocks(text)
	require.Len(t, blocks, 3)
	assert.Contains(t, blocks[1], "func main()")
	assert.Contains(t, blocks[1], "println(1)")
}

func TestParseDocumentIgnoresHeadingsInFences(t *testing.T) {
	doc := parseDocument("# Title\n\n```\n# not a heading\n```\n\n## Real\n\nbody\n", "fallback")
	assert.Equal(t, "Title", doc.Title)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "Real", doc.Sections[0].Title)
	assert.Contains(t, doc.Direct, "# not a heading")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("a"))
	// CJK weighs heavier than Latin per character.
	latin := estimateTokens(strings.Repeat("a", 100))
	cjk := estimateTokens(strings.Repeat("語", 100))
	assert.Greater(t, cjk, latin)
}

func TestWriteTo(t *testing.T) {
	b := NewBuilder()
	content := "# Guide\n\nintro\n\n" +
		section(2, "Alpha", 1500) +
		section(2, "Beta", 1500) +
		section(2, "Gamma", 1500)
	root := b.Build(content, "fallback")
	require.True(t, root.IsDir)

	fs := agfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, root.WriteTo(ctx, fs, "temp/x"))

	isDir, err := fs.IsDir(ctx, "temp/x/Guide")
	require.NoError(t, err)
	assert.True(t, isDir)

	data, err := fs.Read(ctx, "temp/x/Guide/Alpha.md")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "## Alpha\n"))
}
