package htmlstage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseResult is the outcome of parsing code text.
type ParseResult struct {
	// FormattedText is the tree serialized back to text. It differs from the
	// input when the input used a non-canonical spelling (unquoted attributes,
	// uppercase tags...).
	FormattedText string
	Tree          Tree
	// MaxUID is the highest identifier allocated by the parse.
	MaxUID int
}

// Parser turns code text into a node tree and back. parse(serialize(t))
// reproduces t up to identifiers and source ranges.
type Parser interface {
	// Parse allocates identifiers starting at after+1 in document order.
	Parse(text string, after int) (*ParseResult, error)
	Serialize(t Tree) (string, error)
}

// HTMLParser is the Parser backed by the x/net/html tokenizer. It builds the
// tree as written: no implied html/head/body elements are added.
type HTMLParser struct{}

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Keygen: true, atom.Link: true, atom.Meta: true, atom.Param: true,
	atom.Source: true, atom.Track: true, atom.Wbr: true,
}

// IsVoidElement reports whether tag never has children.
func IsVoidElement(tag string) bool {
	return voidElements[atom.Lookup([]byte(strings.ToLower(tag)))]
}

// elementIsEntity decides the entity flag of an element by its tag name.
func elementIsEntity(name string) bool {
	return name == DoctypeName || IsVoidElement(name)
}

// leadingNewlineElements drop one newline directly after their start tag, as
// the HTML tree builder does; html.Render adds it back when needed.
var leadingNewlineElements = map[string]bool{"pre": true, "listing": true, "textarea": true}

// lineIndex converts byte offsets into 1-based line/column positions.
type lineIndex struct {
	text   string
	starts []int
}

func newLineIndex(text string) *lineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{text: text, starts: starts}
}

func (li *lineIndex) position(off int) (line, col int) {
	i := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > off }) - 1
	if i < 0 {
		i = 0
	}
	return i + 1, utf8.RuneCountInString(li.text[li.starts[i]:off]) + 1
}

func (li *lineIndex) span(start, end int) SourceRange {
	sl, sc := li.position(start)
	el, ec := li.position(end)
	return SourceRange{StartLine: sl, StartColumn: sc, EndLine: el, EndColumn: ec}
}

type openElement struct {
	uid   UID
	name  string
	start int
}

// Parse implements Parser.
func (HTMLParser) Parse(text string, after int) (*ParseResult, error) {
	alloc := NewAllocator(after)
	tree := NewTree()
	lines := newLineIndex(text)
	z := html.NewTokenizer(strings.NewReader(text))

	var stack []openElement
	offset := 0
	// lastText is the text node that may absorb an adjacent text token.
	var lastText *Node
	lastTextStart := 0

	parent := func() UID {
		if len(stack) == 0 {
			return RootUID
		}
		return stack[len(stack)-1].uid
	}
	closeTop := func(end int) {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := tree[top.uid]
		n.Data = n.Data.withRange(lines.span(top.start, end))
	}
	add := func(n *Node) {
		// parent() always names a container: void and self-closing elements are
		// never pushed, and text/comment nodes are never pushed.
		_ = tree.Insert(parent(), n, len(tree[parent()].Children))
	}

	for {
		tt := z.Next()
		raw := len(z.Raw())
		start := offset
		offset += raw

		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				line, col := lines.position(start)
				return nil, &ParseError{Line: line, Column: col, Reason: err.Error()}
			}
			if start < len(text) {
				line, col := lines.position(start)
				return nil, &ParseError{Line: line, Column: col, Reason: "unterminated markup"}
			}
			break
		}
		tok := z.Token()

		if tt != html.TextToken {
			lastText = nil
		}
		switch tt {
		case html.TextToken:
			data := tok.Data
			if lastText == nil && len(stack) > 0 && leadingNewlineElements[stack[len(stack)-1].name] &&
				len(tree[parent()].Children) == 0 {
				data = strings.TrimPrefix(data, "\n")
				if data == "" {
					continue
				}
			}
			if lastText != nil {
				td := lastText.Data.(*TextData)
				td.Text += data
				td.Valid = strings.TrimSpace(td.Text) != ""
				td.Range = lines.span(lastTextStart, offset)
				continue
			}
			n := &Node{
				UID:      alloc.Next(),
				Name:     TextName,
				IsEntity: true,
				Data: &TextData{
					Text:  data,
					Range: lines.span(start, offset),
					Valid: strings.TrimSpace(data) != "",
				},
			}
			add(n)
			lastText = n
			lastTextStart = start

		case html.StartTagToken, html.SelfClosingTagToken:
			name := tok.Data
			n := &Node{
				UID:      alloc.Next(),
				Name:     name,
				IsEntity: elementIsEntity(name),
				Data: &ElementData{
					Attrs: append([]html.Attribute(nil), tok.Attr...),
					Range: lines.span(start, offset),
					Valid: true,
				},
			}
			add(n)
			if tt == html.StartTagToken && !n.IsEntity {
				stack = append(stack, openElement{uid: n.UID, name: name, start: start})
			}

		case html.EndTagToken:
			match := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].name == tok.Data {
					match = i
					break
				}
			}
			if match < 0 {
				line, col := lines.position(start)
				return nil, &ParseError{Line: line, Column: col, Reason: fmt.Sprintf("unexpected end tag </%s>", tok.Data)}
			}
			for len(stack)-1 > match {
				closeTop(start)
			}
			closeTop(offset)

		case html.CommentToken, html.DoctypeToken:
			name := CommentName
			if tt == html.DoctypeToken {
				name = DoctypeName
			}
			add(&Node{
				UID:      alloc.Next(),
				Name:     name,
				IsEntity: true,
				Data: &CommentData{
					Text:  tok.Data,
					Range: lines.span(start, offset),
					Valid: true,
				},
			})
		}
	}
	for len(stack) > 0 {
		closeTop(len(text))
	}

	formatted, err := HTMLParser{}.Serialize(tree)
	if err != nil {
		return nil, err
	}
	return &ParseResult{FormattedText: formatted, Tree: tree, MaxUID: alloc.Max()}, nil
}

// Serialize implements Parser.
func (HTMLParser) Serialize(t Tree) (string, error) {
	return renderTree(t, "")
}

// SerializeStage renders t for the preview: every element carries attr set to
// its uid so that interactions can be reported by uid.
func SerializeStage(t Tree, attr string) (string, error) {
	return renderTree(t, attr)
}

func renderTree(t Tree, uidAttr string) (string, error) {
	if t.Root() == nil {
		return "", fmt.Errorf("render: %w", ErrNotFound)
	}
	doc := &html.Node{Type: html.DocumentNode}
	for _, uid := range t.Root().Children {
		if c := toHTMLNode(t, uid, uidAttr); c != nil {
			doc.AppendChild(c)
		}
	}
	return RenderNode(doc)
}

// toHTMLNode converts the subtree at uid into an x/net/html node.
func toHTMLNode(t Tree, uid UID, uidAttr string) *html.Node {
	n, ok := t[uid]
	if !ok {
		return nil
	}
	var out *html.Node
	switch d := n.Data.(type) {
	case *ElementData:
		attrs := append([]html.Attribute(nil), d.Attrs...)
		if uidAttr != "" {
			attrs = append(attrs, html.Attribute{Key: uidAttr, Val: string(n.UID)})
		}
		out = &html.Node{
			Type:     html.ElementNode,
			Data:     n.Name,
			DataAtom: atom.Lookup([]byte(n.Name)),
			Attr:     attrs,
		}
	case *TextData:
		return &html.Node{Type: html.TextNode, Data: d.Text}
	case *CommentData:
		if n.Name == DoctypeName {
			return &html.Node{Type: html.DoctypeNode, Data: d.Text}
		}
		return &html.Node{Type: html.CommentNode, Data: d.Text}
	default:
		return nil
	}
	for _, c := range n.Children {
		if hc := toHTMLNode(t, c, uidAttr); hc != nil {
			out.AppendChild(hc)
		}
	}
	return out
}

// RenderNode converts a node tree back to a string.
func RenderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderSubtree serializes the subtree rooted at uid.
func RenderSubtree(t Tree, uid UID) (string, error) {
	hn := toHTMLNode(t, uid, "")
	if hn == nil {
		return "", fmt.Errorf("render %s: %w", uid, ErrNotFound)
	}
	return RenderNode(hn)
}

// ParseFragment parses text into detached subtrees, allocating identifiers
// from alloc. It returns the top-level uids and the nodes, keyed by uid.
func ParseFragment(p Parser, text string, alloc *Allocator) ([]UID, Tree, error) {
	res, err := p.Parse(text, alloc.Max())
	if err != nil {
		return nil, nil, err
	}
	alloc.Observe(res.MaxUID)
	roots := append([]UID(nil), res.Tree.Root().Children...)
	delete(res.Tree, RootUID)
	for _, uid := range roots {
		res.Tree[uid].ParentUID = ""
	}
	return roots, res.Tree, nil
}

// SyncRanges copies the source ranges of fresh onto t wherever the two trees
// line up structurally, and returns the updated copy of t. fresh is normally
// the parse of t's own serialization.
func SyncRanges(t, fresh Tree) Tree {
	out := t.Clone()
	var walk func(a, b UID)
	walk = func(a, b UID) {
		na, okA := out[a]
		nb, okB := fresh[b]
		if !okA || !okB || na.Name != nb.Name {
			return
		}
		if na.Data != nil && nb.Data != nil {
			na.Data = na.Data.withRange(nb.Data.SourceRange())
		}
		for i := 0; i < len(na.Children) && i < len(nb.Children); i++ {
			walk(na.Children[i], nb.Children[i])
		}
	}
	walk(RootUID, RootUID)
	return out
}
