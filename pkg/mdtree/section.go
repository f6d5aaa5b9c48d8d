package mdtree

import (
	"strings"
)

// Section is one heading-delimited region of a document. Direct holds the
// text between the heading and the first subheading; Children are the
// subsections in document order.
type Section struct {
	Title    string
	Level    int
	Direct   string
	Children []*Section
}

// document is the parsed heading tree: a title, the content before the
// first heading, and the top-level sections.
type document struct {
	Title    string
	Direct   string
	Sections []*Section
}

// parseDocument builds the heading tree. Headings inside fenced code blocks
// are ignored. When the document opens with a single H1, that heading
// becomes the document title and its sections are promoted one level.
func parseDocument(content, fallbackTitle string) *document {
	lines := strings.Split(content, "\n")

	root := &Section{Level: 0}
	stack := []*Section{root}
	var buf []string
	inFence := false
	fenceMarker := ""

	flush := func() {
		text := strings.Join(buf, "\n")
		buf = nil
		top := stack[len(stack)-1]
		if len(top.Children) == 0 {
			top.Direct += text
		} else {
			last := top.Children[len(top.Children)-1]
			appendDirect(last, text)
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if marker, ok := fenceStart(trimmed); ok {
			if !inFence {
				inFence = true
				fenceMarker = marker
			} else if strings.HasPrefix(trimmed, fenceMarker) {
				inFence = false
			}
			buf = append(buf, line)
			continue
		}
		level, title := headingOf(line)
		if inFence || level == 0 {
			buf = append(buf, line)
			continue
		}

		flush()
		sec := &Section{Title: title, Level: level}
		for len(stack) > 1 && stack[len(stack)-1].Level >= level {
			stack = stack[:len(stack)-1]
		}
		stack[len(stack)-1].Children = append(stack[len(stack)-1].Children, sec)
		stack = append(stack, sec)
	}
	flush()

	doc := &document{Title: fallbackTitle}
	if strings.TrimSpace(root.Direct) == "" && len(root.Children) == 1 {
		// Lone top heading is the document title.
		top := root.Children[0]
		doc.Title = top.Title
		doc.Direct = top.Direct
		doc.Sections = top.Children
		return doc
	}
	doc.Direct = root.Direct
	doc.Sections = root.Children
	return doc
}

// appendDirect adds text to the deepest open section.
func appendDirect(s *Section, text string) {
	for len(s.Children) > 0 {
		s = s.Children[len(s.Children)-1]
	}
	s.Direct += text
}

func headingOf(line string) (int, string) {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	if i == 0 || i > 6 || i >= len(line) || line[i] != ' ' {
		return 0, ""
	}
	return i, strings.TrimSpace(line[i+1:])
}

func fenceStart(trimmed string) (string, bool) {
	if strings.HasPrefix(trimmed, "```") {
		return "```", true
	}
	if strings.HasPrefix(trimmed, "~~~") {
		return "~~~", true
	}
	return "", false
}

// render reconstructs the markdown text of a section, heading included.
func (s *Section) render() string {
	var b strings.Builder
	if s.Title != "" && s.Level > 0 {
		b.WriteString(strings.Repeat("#", s.Level))
		b.WriteByte(' ')
		b.WriteString(s.Title)
		b.WriteByte('\n')
	}
	b.WriteString(s.Direct)
	for _, c := range s.Children {
		b.WriteString(c.render())
	}
	return b.String()
}
