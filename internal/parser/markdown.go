package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// maxSectionHeadingLevel is the deepest heading that starts a new section.
const maxSectionHeadingLevel = 3

type markdownParser struct{}

// Parse splits the document into sections at H1-H3 headings. Deeper headings
// stay inside their section as plain lines.
func (p *markdownParser) Parse(data []byte) ([]Section, error) {
	source := []byte(normalizeNewlines(string(data)))
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	sections := make([]Section, 0)
	var blocks []string
	heading := ""
	flush := func() {
		content := strings.TrimSpace(strings.Join(blocks, "\n\n"))
		if content != "" {
			sections = append(sections, Section{Content: content, Heading: heading})
		}
		blocks = nil
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if h, ok := node.(*ast.Heading); ok && h.Level <= maxSectionHeadingLevel {
			flush()
			heading = strings.TrimSpace(nodeText(h, source))
			if heading != "" {
				blocks = append(blocks, heading)
			}
			continue
		}
		if txt := strings.TrimSpace(nodeText(node, source)); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	flush()
	return sections, nil
}

func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch v := node.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(source))
				}
				sb.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				sb.Write(v.Segment.Value(source))
				if v.SoftLineBreak() || v.HardLineBreak() {
					sb.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				sb.Write(v.Value)
			}
		default:
			if !entering && node.Type() == ast.TypeBlock && node != n {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
