package parser

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/openviking/openviking/pkg/errdefs"
)

// DocxParser extracts paragraph text from Word documents.
type DocxParser struct{}

func (*DocxParser) Name() string { return "docx" }

func (*DocxParser) Extensions() []string {
	return []string{".docx"}
}

var (
	docxParagraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxRunRe       = regexp.MustCompile(`(?s)<w:t[^>]*>(.*?)</w:t>`)
	xmlEscaper      = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
)

func (*DocxParser) Parse(_ context.Context, name string, data []byte) (Document, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, errdefs.InvalidInput(name, fmt.Errorf("failed to parse DOCX: %w", err))
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	for _, para := range docxParagraphRe.FindAllString(content, -1) {
		var runs []string
		for _, m := range docxRunRe.FindAllStringSubmatch(para, -1) {
			runs = append(runs, xmlEscaper.Replace(m[1]))
		}
		text := strings.TrimSpace(strings.Join(runs, ""))
		if text != "" {
			b.WriteString(text + "\n\n")
		}
	}
	return Document{Title: title, Markdown: b.String()}, nil
}

// XlsxParser renders each sheet as an H2 with a markdown table.
type XlsxParser struct{}

func (*XlsxParser) Name() string { return "xlsx" }

func (*XlsxParser) Extensions() []string {
	return []string{".xlsx"}
}

func (*XlsxParser) Parse(_ context.Context, name string, data []byte) (Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Document{}, errdefs.InvalidInput(name, fmt.Errorf("failed to parse XLSX: %w", err))
	}
	defer f.Close()

	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var b strings.Builder
	b.WriteString("# " + title + "\n")

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", sheet)
		for i, row := range rows {
			cells := make([]string, len(row))
			for j, cell := range row {
				cells[j] = strings.ReplaceAll(strings.TrimSpace(cell), "|", `\|`)
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
			if i == 0 {
				b.WriteString("|" + strings.Repeat(" --- |", len(row)) + "\n")
			}
		}
	}
	return Document{Title: title, Markdown: b.String()}, nil
}
