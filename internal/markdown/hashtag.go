package markdown

import (
	"bytes"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// MaxTagRunes caps a tag name; longer runs are cut.
const MaxTagRunes = 100

var KindHashtag = ast.NewNodeKind("Hashtag")

// HashtagNode is an inline #tag.
type HashtagNode struct {
	ast.BaseInline
	Name []byte
}

func (*HashtagNode) Kind() ast.NodeKind {
	return KindHashtag
}

func (n *HashtagNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Name": string(n.Name),
	}, nil)
}

type hashtagParser struct{}

func (*hashtagParser) Trigger() []byte {
	return []byte{'#'}
}

func isTagRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSymbol(r) {
		return true
	}
	return r == '_' || r == '-' || r == '/' || r == '&'
}

func (*hashtagParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 2 || line[0] != '#' || line[1] == '#' || line[1] == ' ' {
		return nil
	}

	end := 1
	for runes := 0; end < len(line) && runes < MaxTagRunes; runes++ {
		r, size := utf8.DecodeRune(line[end:])
		if (r == utf8.RuneError && size == 1) || !isTagRune(r) {
			break
		}
		end += size
	}
	// "#work/" and "#todo-" name the same tags as "#work" and "#todo".
	name := bytes.TrimRight(line[1:end], "/-")
	if len(name) == 0 {
		return nil
	}
	block.Advance(end)
	return &HashtagNode{Name: bytes.Clone(name)}
}

type hashtagExtension struct{}

// HashtagExtension makes the parser emit HashtagNode for #tag runs.
var HashtagExtension goldmark.Extender = &hashtagExtension{}

func (*hashtagExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(&hashtagParser{}, 200),
		),
	)
}
