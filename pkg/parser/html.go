package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/openviking/openviking/pkg/errdefs"
)

// HTMLParser converts HTML to markdown: headings map to #-levels, list
// items to bullets, everything else to paragraph text. Script and style
// subtrees are dropped.
type HTMLParser struct{}

func (*HTMLParser) Name() string { return "html" }

func (*HTMLParser) Extensions() []string {
	return []string{".html", ".htm"}
}

func (*HTMLParser) Parse(_ context.Context, name string, data []byte) (Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Document{}, errdefs.InvalidInput(name, fmt.Errorf("failed to parse HTML: %w", err))
	}

	var b strings.Builder
	var title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" {
					title = strings.TrimSpace(textOf(n))
				}
				return
			case "h1", "h2", "h3", "h4", "h5", "h6":
				level := int(n.Data[1] - '0')
				text := strings.TrimSpace(textOf(n))
				if text != "" {
					fmt.Fprintf(&b, "\n%s %s\n\n", strings.Repeat("#", level), text)
				}
				return
			case "p":
				text := strings.TrimSpace(textOf(n))
				if text != "" {
					b.WriteString(text + "\n\n")
				}
				return
			case "li":
				text := strings.TrimSpace(textOf(n))
				if text != "" {
					b.WriteString("- " + text + "\n")
				}
				return
			case "pre":
				text := strings.Trim(rawTextOf(n), "\n")
				if text != "" {
					b.WriteString("\n```\n" + text + "\n```\n\n")
				}
				return
			case "br":
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	md := b.String()
	if title != "" && !strings.Contains(md, "# ") {
		md = "# " + title + "\n\n" + md
	}
	return Document{Title: title, Markdown: md}, nil
}

func textOf(n *html.Node) string {
	return strings.Join(strings.Fields(rawTextOf(n)), " ")
}

func rawTextOf(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
