// Package markdown reads task titles and notes for inline #tags.
package markdown

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

type TagExtractor struct {
	md goldmark.Markdown
}

func NewTagExtractor() *TagExtractor {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			HashtagExtension,
		),
	)
	return &TagExtractor{md: md}
}

// ExtractTags returns the distinct tags of every source, in order of first
// appearance. Tags inside code are ignored.
func (e *TagExtractor) ExtractTags(sources ...string) ([]string, error) {
	seen := make(map[string]struct{})
	tags := make([]string, 0)
	for _, source := range sources {
		content := []byte(source)
		root := e.md.Parser().Parse(text.NewReader(content))
		err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			if !entering {
				return ast.WalkContinue, nil
			}
			switch node := n.(type) {
			case *ast.CodeSpan, *ast.CodeBlock, *ast.FencedCodeBlock:
				return ast.WalkSkipChildren, nil
			case *HashtagNode:
				name := string(node.Name)
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					tags = append(tags, name)
				}
			}
			return ast.WalkContinue, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return tags, nil
}
