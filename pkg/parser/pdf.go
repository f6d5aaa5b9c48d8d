package parser

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/openviking/openviking/pkg/errdefs"
)

// PDFParser extracts page text and renders one H2 per page.
type PDFParser struct{}

func (*PDFParser) Name() string { return "pdf" }

func (*PDFParser) Extensions() []string {
	return []string{".pdf"}
}

func (*PDFParser) Parse(_ context.Context, name string, data []byte) (Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, errdefs.InvalidInput(name, fmt.Errorf("failed to parse PDF: %w", err))
	}

	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var b strings.Builder
	b.WriteString("# " + title + "\n")

	totalPages := reader.NumPage()
	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n## Page %d\n\n%s\n", pageNum, strings.TrimSpace(text))
	}
	return Document{Title: title, Markdown: b.String()}, nil
}
