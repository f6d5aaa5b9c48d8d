// Package parser normalizes input documents into canonical Markdown trees
// under viking://temp. Parsers only convert bytes to markdown; the registry
// runs the splitter and writes the tree, so no parser ever touches storage
// outside its temp root or calls a model.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openviking/openviking/pkg/agfs"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/mdtree"
	"github.com/openviking/openviking/pkg/uri"
)

// Document is parser output: a title and normalized markdown.
type Document struct {
	Title    string
	Markdown string
}

// Parser converts one input format to markdown.
type Parser interface {
	// Name identifies the parser in ingestion provenance.
	Name() string

	// Extensions lists the lowercase file extensions handled, dot included.
	Extensions() []string

	// Parse converts data to markdown. name is the original filename.
	Parse(ctx context.Context, name string, data []byte) (Document, error)
}

// ParseResult locates the canonical tree built for one input.
type ParseResult struct {
	// TempURI is the private ingestion root, viking://temp/<id>.
	TempURI uri.URI

	// Root is the built tree, already written below TempURI.
	Root *mdtree.Node

	// SourceFormat is the input extension, dot included.
	SourceFormat string

	// ParserName names the parser that produced the tree.
	ParserName string
}

// Registry maps file extensions to parsers and drives the split.
type Registry struct {
	fs      agfs.FS
	builder *mdtree.Builder
	parsers map[string]Parser
}

func NewRegistry(fs agfs.FS) *Registry {
	r := &Registry{
		fs:      fs,
		builder: mdtree.NewBuilder(),
		parsers: make(map[string]Parser),
	}
	r.Register(&MarkdownParser{})
	r.Register(&TextParser{})
	r.Register(&CodeParser{})
	r.Register(&PDFParser{})
	r.Register(&DocxParser{})
	r.Register(&XlsxParser{})
	r.Register(&HTMLParser{})
	return r
}

// Register binds a parser to its extensions, replacing prior bindings.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// SupportedExtensions lists every registered extension.
func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	return exts
}

// Parse converts the named input into a canonical tree under a fresh temp
// root and returns its location.
func (r *Registry) Parse(ctx context.Context, name string, data []byte) (*ParseResult, error) {
	ext := strings.ToLower(filepath.Ext(name))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, errdefs.InvalidInput(name, fmt.Errorf("unsupported format %q", ext))
	}

	doc, err := p.Parse(ctx, name, data)
	if err != nil {
		return nil, err
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(name), ext)
	}

	root := r.builder.Build(doc.Markdown, doc.Title)
	// A document small enough for a single file still needs a directory
	// shell, since semantic processing works on directories.
	if !root.IsDir {
		root = &mdtree.Node{
			Name:     strings.TrimSuffix(root.Name, ".md"),
			IsDir:    true,
			Children: []*mdtree.Node{root},
		}
	}

	tempURI := uri.NewTemp()
	if err := r.fs.Mkdir(ctx, tempURI.StorePath()); err != nil {
		return nil, err
	}
	if err := root.WriteTo(ctx, r.fs, tempURI.StorePath()); err != nil {
		return nil, err
	}
	return &ParseResult{TempURI: tempURI, Root: root, SourceFormat: ext, ParserName: p.Name()}, nil
}
