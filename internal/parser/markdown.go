package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark. Headings come out
// as standalone lines so the segmenter's heading detection sees them.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*Result, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	reader := text.NewReader(src)
	doc := md.Parser().Parse(reader)

	out := &Result{Title: stripExt(filename)}
	titleFromHeading := false

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := string(node.Text(src))
			if title == "" {
				continue
			}
			// The first h1 doubles as the document title.
			if node.Level == 1 && !titleFromHeading {
				out.Title = title
				titleFromHeading = true
			}
			blocks = append(blocks, title)
		default:
			if t := extractText(n, src); t != "" {
				blocks = append(blocks, t)
			}
		}
	}

	out.Text = strings.Join(blocks, "\n\n")
	return out, nil
}

// extractText gets the text content of a goldmark AST node. Nodes with
// children yield the walked inline text (markup stripped); childless
// blocks such as code blocks yield their raw source lines. Never both,
// or every paragraph would come out twice.
func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.FirstChild() == nil && n.Type() == ast.TypeBlock {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		return strings.TrimSpace(buf.String())
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		// Recurse for nested inlines and child blocks.
		buf.WriteString(extractText(c, src))
		if c.Type() == ast.TypeBlock {
			buf.WriteByte('\n')
		}
	}
	return strings.TrimSpace(buf.String())
}
