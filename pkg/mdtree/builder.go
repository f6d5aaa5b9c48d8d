// Package mdtree implements the canonical Markdown splitter that imposes
// the directory shape of ingested documents. Splitting is purely
// structural: the same input always yields byte-identical output and no
// model is ever consulted.
package mdtree

import (
	"context"
	"fmt"
	"strings"

	"github.com/openviking/openviking/pkg/agfs"
	"github.com/openviking/openviking/pkg/uri"
)

// Token thresholds steering the split.
const (
	// Small is the coalescing threshold: consecutive sections under it
	// merge into one file while their sum stays under it.
	Small = 800

	// Split is the single-file ceiling; larger sections become directories.
	Split = 4000

	// Subsplit bounds the pieces of a paragraph that alone exceeds Split.
	Subsplit = 1024
)

// Node is one entry of the built tree. Directories hold children in
// document order; files hold markdown content.
type Node struct {
	Name     string
	IsDir    bool
	Content  string
	Children []*Node
}

// Builder splits markdown documents into trees.
type Builder struct {
	tokens *TokenCounter
}

func NewBuilder() *Builder {
	return &Builder{tokens: NewTokenCounter()}
}

// Build splits content into a tree. fallbackTitle names the result when the
// document has no usable top heading.
func (b *Builder) Build(content, fallbackTitle string) *Node {
	if fallbackTitle == "" {
		fallbackTitle = "document"
	}
	doc := parseDocument(content, fallbackTitle)
	title := doc.Title
	if strings.TrimSpace(title) == "" {
		title = fallbackTitle
	}

	if b.tokens.Count(content) <= Split {
		return &Node{Name: uri.SanitizeSegment(title) + ".md", Content: content}
	}

	root := &Node{Name: uri.SanitizeSegment(title), IsDir: true}
	root.Children = b.buildSections(title, doc.Direct, doc.Sections)
	return root
}

// fileCandidate is a section rendered to text, awaiting coalescing.
type fileCandidate struct {
	name    string
	content string
	tokens  int
}

// splitEntry is one directory child before coalescing: either a file
// candidate or an already-built subdirectory.
type splitEntry struct {
	file *fileCandidate
	dir  *Node
}

// buildSections applies the split rules to the sections of one directory
// and returns its children in document order.
func (b *Builder) buildSections(parentName, direct string, sections []*Section) []*Node {
	var entries []splitEntry

	// Direct content ahead of the first subheading becomes a synthetic
	// first section named after the parent.
	if strings.TrimSpace(direct) != "" {
		synthetic := &Section{Title: parentName, Direct: direct}
		entries = append(entries, b.sectionEntry(synthetic))
	}
	for _, s := range sections {
		entries = append(entries, b.sectionEntry(s))
	}

	// Small-section coalescing: greedily merge runs of small files.
	var nodes []*Node
	var run []*fileCandidate
	runTokens := 0
	flushRun := func() {
		if len(run) == 0 {
			return
		}
		if len(run) == 1 {
			nodes = append(nodes, &Node{Name: run[0].name, Content: run[0].content})
		} else {
			names := make([]string, len(run))
			var merged strings.Builder
			for i, f := range run {
				names[i] = f.name
				if i > 0 && !strings.HasSuffix(merged.String(), "\n") {
					merged.WriteByte('\n')
				}
				merged.WriteString(f.content)
			}
			nodes = append(nodes, &Node{
				Name:    uri.SanitizeSegment(strings.Join(names, "_")),
				Content: merged.String(),
			})
		}
		run = nil
		runTokens = 0
	}

	for _, e := range entries {
		if e.dir != nil {
			flushRun()
			nodes = append(nodes, e.dir)
			continue
		}
		f := e.file
		if f.tokens >= Small || runTokens+f.tokens >= Small {
			flushRun()
		}
		if f.tokens >= Small {
			nodes = append(nodes, &Node{Name: f.name, Content: f.content})
			continue
		}
		run = append(run, f)
		runTokens += f.tokens
	}
	flushRun()

	finalizeNames(nodes)
	return nodes
}

// sectionEntry applies the per-section rule: oversized sections with
// subsections become directories, oversized flat sections split by
// paragraphs, everything else is a file candidate.
func (b *Builder) sectionEntry(s *Section) splitEntry {
	text := s.render()
	tokens := b.tokens.Count(text)
	name := uri.SanitizeSegment(s.Title)

	if tokens > Split && len(s.Children) > 0 {
		dir := &Node{Name: name, IsDir: true}
		dir.Children = b.buildSections(s.Title, headingAndDirect(s), s.Children)
		return splitEntry{dir: dir}
	}
	if tokens > Split {
		dir := &Node{Name: name, IsDir: true}
		for i, chunk := range b.splitParagraphs(text) {
			dir.Children = append(dir.Children, &Node{
				Name:    fmt.Sprintf("%s_%d.md", name, i+1),
				Content: chunk,
			})
		}
		return splitEntry{dir: dir}
	}
	return splitEntry{file: &fileCandidate{name: name, content: text, tokens: tokens}}
}

// headingAndDirect re-renders a section's own heading and leading text for
// use as the synthetic direct-content of its directory.
func headingAndDirect(s *Section) string {
	if strings.TrimSpace(s.Direct) == "" {
		return ""
	}
	var b strings.Builder
	if s.Level > 0 {
		b.WriteString(strings.Repeat("#", s.Level))
		b.WriteByte(' ')
		b.WriteString(s.Title)
		b.WriteByte('\n')
	}
	b.WriteString(s.Direct)
	return b.String()
}

// splitParagraphs packs paragraphs into chunks of at most Split tokens,
// keeping each chunk at or above Small when the input allows it.
func (b *Builder) splitParagraphs(text string) []string {
	paragraphs := splitBlocks(text)

	var chunks []string
	var current strings.Builder
	currentTokens := 0
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, p := range paragraphs {
		tok := b.tokens.Count(p)
		if tok > Split {
			flush()
			chunks = append(chunks, b.hardSplit(p)...)
			continue
		}
		if currentTokens+tok > Split {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		currentTokens += tok
	}
	flush()
	return chunks
}

// splitBlocks cuts text on blank lines, leaving fenced code intact.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if _, ok := fenceStart(trimmed); ok {
			inFence = !inFence
		}
		if trimmed == "" && !inFence {
			if len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

// hardSplit cuts one oversized paragraph into Subsplit-token pieces on line
// boundaries, then rune windows as a last resort.
func (b *Builder) hardSplit(p string) []string {
	var pieces []string
	var current strings.Builder
	currentTokens := 0
	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			currentTokens = 0
		}
	}
	for _, line := range strings.Split(p, "\n") {
		tok := b.tokens.Count(line)
		if tok > Subsplit {
			flush()
			pieces = append(pieces, runeWindows(line, Subsplit*3)...)
			continue
		}
		if currentTokens+tok > Subsplit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
		currentTokens += tok
	}
	flush()
	return pieces
}

func runeWindows(s string, width int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		n := width
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// finalizeNames gives files their .md suffix and disambiguates collisions
// with _2, _3 suffixes, in order.
func finalizeNames(nodes []*Node) {
	for _, n := range nodes {
		if !n.IsDir && !strings.HasSuffix(n.Name, ".md") {
			n.Name += ".md"
		}
	}
	seen := make(map[string]int)
	for _, n := range nodes {
		seen[n.Name]++
		if seen[n.Name] == 1 {
			continue
		}
		base, ext := n.Name, ""
		if !n.IsDir {
			base, ext = strings.TrimSuffix(n.Name, ".md"), ".md"
		}
		for i := seen[n.Name]; ; i++ {
			candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
			if seen[candidate] == 0 {
				seen[candidate] = 1
				n.Name = candidate
				break
			}
		}
	}
}

// WriteTo materializes the tree under basePath in the store.
func (n *Node) WriteTo(ctx context.Context, fs agfs.FS, basePath string) error {
	path := strings.TrimSuffix(basePath, "/") + "/" + n.Name
	if !n.IsDir {
		return fs.Write(ctx, path, []byte(n.Content))
	}
	if err := fs.Mkdir(ctx, path); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.WriteTo(ctx, fs, path); err != nil {
			return err
		}
	}
	return nil
}
