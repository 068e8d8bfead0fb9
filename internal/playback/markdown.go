package playback

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// StripMarkdown turns a markdown chat line into plain prose. Emphasis,
// links and code keep their text; headings and list items end as
// sentences; HTML and images are dropped.
func StripMarkdown(s string) string {
	src := []byte(s)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	writeNode(&b, doc, src)
	return strings.Join(strings.Fields(b.String()), " ")
}

func writeNode(b *strings.Builder, node ast.Node, src []byte) {
	switch n := node.(type) {
	case *ast.Text:
		b.Write(n.Segment.Value(src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteByte(' ')
		}
		return

	case *ast.String:
		b.Write(n.Value)
		return

	case *ast.AutoLink:
		b.Write(n.Label(src))
		return

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(src))
			b.WriteByte(' ')
		}
		return

	case *ast.HTMLBlock, *ast.RawHTML, *ast.Image:
		return
	}

	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		writeNode(b, c, src)
	}

	switch node.(type) {
	case *ast.Heading, *ast.ListItem:
		endSentence(b)
	case *ast.Paragraph, *ast.TextBlock, *ast.Blockquote:
		b.WriteByte(' ')
	}
}

// endSentence closes the text written so far with a full stop unless it
// already ends in punctuation.
func endSentence(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " ")
	if s == "" {
		return
	}
	if !strings.ContainsAny(s[len(s)-1:], ".!?:;") {
		b.WriteByte('.')
	}
	b.WriteByte(' ')
}
