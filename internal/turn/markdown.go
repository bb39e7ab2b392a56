package turn

import (
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// The goldmark parser is stateless between calls and safe to share.
var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// CodeBlock is a fenced code block with its info-string language.
type CodeBlock struct {
	Language string
	Code     string
}

// Table is a GFM table flattened to plain cell text.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of the first header cell whose text contains
// name, compared case-insensitively, or -1.
func (t Table) Column(name string) int {
	want := strings.ToLower(name)
	for i, h := range t.Header {
		if strings.Contains(strings.ToLower(h), want) {
			return i
		}
	}
	return -1
}

// Outline is the structural summary of a markdown body.
type Outline struct {
	Headings   []string
	Bold       []string
	CodeBlocks []CodeBlock
	Tables     []Table
}

// ParseMarkdown walks src with a GFM parser and collects headings, strong
// emphasis labels, fenced code blocks, and tables.
func ParseMarkdown(src string) Outline {
	var out Outline
	if strings.TrimSpace(src) == "" {
		return out
	}
	source := []byte(src)
	root := getMarkdownParser().Parser().Parse(text.NewReader(source))

	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Heading:
			out.Headings = append(out.Headings, inlineText(n, source))
		case *ast.Emphasis:
			if n.Level >= 2 {
				out.Bold = append(out.Bold, inlineText(n, source))
			}
		case *ast.FencedCodeBlock:
			out.CodeBlocks = append(out.CodeBlocks, CodeBlock{
				Language: strings.ToLower(string(n.Language(source))),
				Code:     blockLines(n, source),
			})
			return ast.WalkSkipChildren, nil
		case *extast.Table:
			out.Tables = append(out.Tables, collectTable(n, source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}

func blockLines(node ast.Node, source []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

func collectTable(table *extast.Table, source []byte) Table {
	var t Table
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			t.Header = collectRow(child, source)
		case extast.KindTableRow:
			t.Rows = append(t.Rows, collectRow(child, source))
		}
	}
	return t
}

func collectRow(row ast.Node, source []byte) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, inlineText(cell, source))
		}
	}
	return cells
}

func inlineText(node ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := child.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(c.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
