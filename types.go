package htmlstage

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// UID identifies a node within one open document. Allocated identifiers are
// decimal strings of the document's allocator counter.
type UID string

// RootUID is the sentinel identifier of the document root.
const RootUID UID = "ROOT"

// Node names that are not tag names.
const (
	DocumentName = "#document"
	TextName     = "#text"
	CommentName  = "#comment"
	DoctypeName  = "!doctype"
)

// SourceRange locates a node in the code text. Lines and columns are 1-based
// and the end column is exclusive. The zero value means the node has not been
// placed in text yet.
type SourceRange struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// IsZero reports whether the range is unset.
func (r SourceRange) IsZero() bool {
	return r == SourceRange{}
}

// Contains reports whether the position (line, col) falls inside the range.
func (r SourceRange) Contains(line, col int) bool {
	if r.IsZero() {
		return false
	}
	if line < r.StartLine || line > r.EndLine {
		return false
	}
	if line == r.StartLine && col < r.StartColumn {
		return false
	}
	if line == r.EndLine && col >= r.EndColumn {
		return false
	}
	return true
}

// NodeData is the payload of a node. It is one of *ElementData, *TextData or
// *CommentData; consumers switch on the concrete type.
type NodeData interface {
	// IsValid reports whether the node belongs to the valid projection.
	IsValid() bool
	// SourceRange returns where the node was found in the code text.
	SourceRange() SourceRange

	withRange(r SourceRange) NodeData
	clone() NodeData
}

// ElementData is the payload of element nodes and of the document root.
type ElementData struct {
	Attrs []html.Attribute `json:"attrs,omitempty"`
	Range SourceRange      `json:"range"`
	Valid bool             `json:"valid"`
}

// TextData is the payload of a text run.
type TextData struct {
	Text  string      `json:"text"`
	Range SourceRange `json:"range"`
	Valid bool        `json:"valid"`
}

// CommentData holds the text of a comment or a doctype declaration. The
// owning node's Name tells which one it is.
type CommentData struct {
	Text  string      `json:"text"`
	Range SourceRange `json:"range"`
	Valid bool        `json:"valid"`
}

func (d *ElementData) IsValid() bool            { return d.Valid }
func (d *ElementData) SourceRange() SourceRange { return d.Range }
func (d *TextData) IsValid() bool               { return d.Valid }
func (d *TextData) SourceRange() SourceRange    { return d.Range }
func (d *CommentData) IsValid() bool            { return d.Valid }
func (d *CommentData) SourceRange() SourceRange { return d.Range }

func (d *ElementData) withRange(r SourceRange) NodeData {
	c := d.clone().(*ElementData)
	c.Range = r
	return c
}

func (d *TextData) withRange(r SourceRange) NodeData {
	c := *d
	c.Range = r
	return &c
}

func (d *CommentData) withRange(r SourceRange) NodeData {
	c := *d
	c.Range = r
	return &c
}

func (d *ElementData) clone() NodeData {
	c := *d
	c.Attrs = append([]html.Attribute(nil), d.Attrs...)
	return &c
}

func (d *TextData) clone() NodeData    { c := *d; return &c }
func (d *CommentData) clone() NodeData { c := *d; return &c }

// Attr returns the value of the attribute key and whether it is present.
func (d *ElementData) Attr(key string) (string, bool) {
	for _, a := range d.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets key to val, appending the attribute if it is missing.
func (d *ElementData) SetAttr(key, val string) {
	for i, a := range d.Attrs {
		if a.Key == key {
			d.Attrs[i].Val = val
			return
		}
	}
	d.Attrs = append(d.Attrs, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes key. It reports whether the attribute was present.
func (d *ElementData) RemoveAttr(key string) bool {
	for i, a := range d.Attrs {
		if a.Key == key {
			d.Attrs = append(d.Attrs[:i], d.Attrs[i+1:]...)
			return true
		}
	}
	return false
}

// Node is one element, text run or comment of the document.
type Node struct {
	UID       UID      `json:"uid"`
	ParentUID UID      `json:"parent_uid"`
	Name      string   `json:"name"`
	IsEntity  bool     `json:"is_entity"`
	Children  []UID    `json:"children"`
	Data      NodeData `json:"-"`
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	c.Children = append([]UID(nil), n.Children...)
	if n.Data != nil {
		c.Data = n.Data.clone()
	}
	return &c
}

// IsElement reports whether n is a tag element.
func (n *Node) IsElement() bool {
	if n.UID == RootUID || n.Name == DoctypeName {
		return false
	}
	_, ok := n.Data.(*ElementData)
	return ok
}

// childIndex returns the position of uid in n.Children, or -1.
func (n *Node) childIndex(uid UID) int {
	for i, c := range n.Children {
		if c == uid {
			return i
		}
	}
	return -1
}

// NodePosition is a slot in a parent's children list.
type NodePosition struct {
	Parent UID `json:"parent"`
	Index  int `json:"index"`
}

// NodePath represents the traversal steps from the root to a target node.
// Example: [0, 1, 3] means root -> child[0] -> child[1] -> child[3]
type NodePath []int

func (p NodePath) String() string {
	var b strings.Builder
	for i, idx := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

type OpType string

const (
	OpInsertNode OpType = "INSERT_NODE" // Insert a new node
	OpDeleteNode OpType = "DELETE_NODE" // Remove a node
	OpUpdateAttr OpType = "UPDATE_ATTR" // Change/Add an attribute
	OpRemoveAttr OpType = "REMOVE_ATTR" // Remove an attribute
	OpUpdateText OpType = "UPDATE_TEXT" // Replace full text (Atomic)
	OpInsertText OpType = "INSERT_TEXT" // Insert text at position
	OpDeleteText OpType = "DELETE_TEXT" // Delete text at position
)

// Operation represents an atomic change to the document structure. Paths are
// resolved against the tree as left by the preceding operations of the same
// delta.
type Operation struct {
	Type     OpType   `json:"type"`
	Path     NodePath `json:"path"`
	Key      string   `json:"key,omitempty"`       // For Attributes (name of the attribute)
	OldValue string   `json:"old_value,omitempty"` // Previous value (for verification/conflict check)
	NewValue string   `json:"new_value,omitempty"` // New value/Content. For InsertText: text to insert.
	NodeData string   `json:"node_data,omitempty"` // For Insert: The HTML string of the node
	Position int      `json:"position,omitempty"`  // For InsertNode: child index. For InsertText/DeleteText: rune offset.
}

// Delta represents a set of changes applied to a base document.
type Delta struct {
	BaseHash   string      `json:"base_hash"` // Hash of the original document to ensure validity
	Operations []Operation `json:"operations"`
	Timestamp  int64       `json:"timestamp"`
	Author     string      `json:"author"`
}

// Conflict represents a detected conflict between two operations.
type Conflict struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Path        NodePath    `json:"path"`
	Ops         []Operation `json:"ops"`
}
