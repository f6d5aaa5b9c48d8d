package parser

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/openviking/openviking/pkg/errdefs"
)

// MarkdownParser passes markdown through untouched apart from BOM and line
// ending normalization.
type MarkdownParser struct{}

func (*MarkdownParser) Name() string { return "markdown" }

func (*MarkdownParser) Extensions() []string {
	return []string{".md", ".markdown"}
}

func (*MarkdownParser) Parse(_ context.Context, name string, data []byte) (Document, error) {
	text, err := decodeText(name, data)
	if err != nil {
		return Document{}, err
	}
	return Document{Title: firstHeading(text), Markdown: text}, nil
}

// TextParser wraps plain text as a markdown document.
type TextParser struct{}

func (*TextParser) Name() string { return "text" }

func (*TextParser) Extensions() []string {
	return []string{".txt", ".log", ".rst"}
}

func (*TextParser) Parse(_ context.Context, name string, data []byte) (Document, error) {
	text, err := decodeText(name, data)
	if err != nil {
		return Document{}, err
	}
	return Document{Markdown: text}, nil
}

// CodeParser fences source files so the splitter never cuts inside code.
type CodeParser struct{}

func (*CodeParser) Name() string { return "code" }

func (*CodeParser) Extensions() []string {
	return []string{
		".go", ".py", ".js", ".ts", ".java", ".c", ".h", ".cpp", ".rs",
		".rb", ".sh", ".sql", ".json", ".yaml", ".yml", ".toml",
	}
}

func (*CodeParser) Parse(_ context.Context, name string, data []byte) (Document, error) {
	text, err := decodeText(name, data)
	if err != nil {
		return Document{}, err
	}
	lang := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	base := filepath.Base(name)
	md := "# " + base + "\n\n```" + lang + "\n" + strings.TrimRight(text, "\n") + "\n```\n"
	return Document{Title: base, Markdown: md}, nil
}

func decodeText(name string, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return "", errdefs.InvalidInput(name, fmt.Errorf("input is not valid UTF-8"))
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return text, nil
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
