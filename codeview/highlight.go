package codeview

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"

	"github.com/dannyswat/htmlstage"
)

// Token is one highlighted run of text. Range uses the same 1-based,
// end-exclusive positions as node source ranges.
type Token struct {
	Type  chroma.TokenType
	Value string
	Range htmlstage.SourceRange
}

// Highlight splits text into syntax tokens with the chroma HTML lexer.
// Adjacent tokens of the same type are merged.
func Highlight(text string) ([]Token, error) {
	lexer := lexers.Get("html")
	if lexer == nil {
		return nil, fmt.Errorf("highlight: no html lexer")
	}
	it, err := chroma.Coalesce(lexer).Tokenise(nil, text)
	if err != nil {
		return nil, fmt.Errorf("highlight: %w", err)
	}

	var out []Token
	line, col := 1, 1
	for tok := it(); tok != chroma.EOF; tok = it() {
		if tok.Value == "" {
			continue
		}
		start := htmlstage.SourceRange{StartLine: line, StartColumn: col}
		line, col = advance(line, col, tok.Value)
		start.EndLine, start.EndColumn = line, col
		out = append(out, Token{Type: tok.Type, Value: tok.Value, Range: start})
	}
	return out, nil
}

// advance moves a line/column position past s.
func advance(line, col int, s string) (int, int) {
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			return line, col + utf8.RuneCountInString(s)
		}
		line++
		col = 1
		s = s[i+1:]
	}
}

// Highlight tokenizes the buffer's current text.
func (b *Buffer) Highlight() ([]Token, error) {
	return Highlight(b.Text())
}
