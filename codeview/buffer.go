// Package codeview is the code-text side of the editor: a buffer that mirrors
// the document text and cursor selection, and syntax highlighting for it.
package codeview

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dannyswat/htmlstage"
)

// Editor receives changes made in the buffer. *htmlstage.Coordinator
// implements it.
type Editor interface {
	TextChanged(text string, typing bool)
	SelectionChanged(r htmlstage.SourceRange) error
}

// Buffer holds the code text shown to the user. It implements
// htmlstage.TextSink. Version increases with every change of text, whether
// it came from the user or from the coordinator.
type Buffer struct {
	mu      sync.Mutex
	text    string
	sel     htmlstage.SourceRange
	version int
	editor  Editor
}

// NewBuffer returns a buffer forwarding user changes to editor, which may be nil.
func NewBuffer(editor Editor) *Buffer {
	return &Buffer{editor: editor}
}

// Attach sets the editor after construction.
func (b *Buffer) Attach(editor Editor) {
	b.mu.Lock()
	b.editor = editor
	b.mu.Unlock()
}

// ShowText implements htmlstage.TextSink.
func (b *Buffer) ShowText(text string, sel htmlstage.SourceRange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if text != b.text {
		b.text = text
		b.version++
	}
	b.sel = sel
}

// Text returns the current text.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Selection returns the current selection.
func (b *Buffer) Selection() htmlstage.SourceRange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sel
}

// Version returns the change counter.
func (b *Buffer) Version() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Edit replaces the text as the user typed it and hands it to the editor.
// typing selects the longer debounce delay.
func (b *Buffer) Edit(text string, typing bool) {
	b.mu.Lock()
	if text == b.text {
		b.mu.Unlock()
		return
	}
	b.text = text
	b.version++
	editor := b.editor
	b.mu.Unlock()

	if editor != nil {
		editor.TextChanged(text, typing)
	}
}

// Select moves the cursor selection and asks the editor to focus the node
// under it.
func (b *Buffer) Select(r htmlstage.SourceRange) error {
	b.mu.Lock()
	b.sel = r
	editor := b.editor
	b.mu.Unlock()

	if editor == nil {
		return nil
	}
	return editor.SelectionChanged(r)
}

// SelectedText returns the text covered by the selection.
func (b *Buffer) SelectedText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sel.IsZero() {
		return ""
	}
	start := offset(b.text, b.sel.StartLine, b.sel.StartColumn)
	end := offset(b.text, b.sel.EndLine, b.sel.EndColumn)
	if start < 0 || end < start {
		return ""
	}
	return b.text[start:end]
}

// offset converts a 1-based line and rune column into a byte offset. It
// returns -1 for a line past the end; a column past the end of its line
// clamps to the line end.
func offset(text string, line, col int) int {
	off := 0
	for l := 1; l < line; l++ {
		i := strings.IndexByte(text[off:], '\n')
		if i < 0 {
			return -1
		}
		off += i + 1
	}
	for c := 1; c < col && off < len(text) && text[off] != '\n'; c++ {
		_, size := utf8.DecodeRuneInString(text[off:])
		off += size
	}
	return off
}
