package htmlstage

import (
	"strings"
	"sync"

	"github.com/atotto/clipboard"

	"github.com/dannyswat/htmlstage/internal/debug"
)

// ClipOp is the operation a clipboard entry was made with.
type ClipOp string

const (
	ClipCut  ClipOp = "cut"
	ClipCopy ClipOp = "copy"
)

// ClipboardEntry holds nodes between a cut or copy and the next paste.
type ClipboardEntry struct {
	SourcePanel   string
	Op            ClipOp
	UIDs          []UID
	Snapshots     []Snapshot
	SourceSession string
}

// SystemClipboard receives the HTML of copied nodes. It is best effort.
type SystemClipboard interface {
	WriteAll(text string) error
}

type osClipboard struct{}

func (osClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return nil
	}
	return clipboard.WriteAll(text)
}

// OSClipboard writes to the operating system clipboard.
var OSClipboard SystemClipboard = osClipboard{}

// Clipboard is shared by every open document of a workspace.
type Clipboard struct {
	mu     sync.Mutex
	entry  *ClipboardEntry
	system SystemClipboard
}

// NewClipboard returns an empty clipboard. system may be nil.
func NewClipboard(system SystemClipboard) *Clipboard {
	return &Clipboard{system: system}
}

// Set replaces the entry and mirrors the rendered nodes to the system
// clipboard.
func (cb *Clipboard) Set(e ClipboardEntry) {
	cb.mu.Lock()
	cb.entry = &e
	system := cb.system
	cb.mu.Unlock()

	if system == nil {
		return
	}
	var parts []string
	for _, s := range e.Snapshots {
		if h, err := RenderSubtree(s.Nodes, s.Root); err == nil {
			parts = append(parts, h)
		}
	}
	if err := system.WriteAll(strings.Join(parts, "")); err != nil {
		debug.Log("clipboard: system write failed: %v", err)
	}
}

// Get returns the current entry.
func (cb *Clipboard) Get() (ClipboardEntry, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.entry == nil {
		return ClipboardEntry{}, false
	}
	return *cb.entry, true
}

// Clear empties the clipboard.
func (cb *Clipboard) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.entry = nil
}

// Cut puts nodes on the clipboard; the next paste in this document moves them.
func (c *Coordinator) Cut(uids []UID) error {
	return c.toClipboard(ClipCut, uids)
}

// Copy puts copies of nodes on the clipboard.
func (c *Coordinator) Copy(uids []UID) error {
	return c.toClipboard(ClipCopy, uids)
}

func (c *Coordinator) toClipboard(op ClipOp, uids []UID) error {
	return c.submit(func() error {
		c.docMu.RLock()
		snaps := CaptureSnapshots(c.doc.tree, uids)
		c.docMu.RUnlock()
		if len(snaps) == 0 {
			return ErrNotFound
		}
		roots := make([]UID, len(snaps))
		for i, s := range snaps {
			roots[i] = s.Root
		}
		c.clipboard.Set(ClipboardEntry{
			SourcePanel:   "node",
			Op:            op,
			UIDs:          roots,
			Snapshots:     snaps,
			SourceSession: c.sessionID,
		})
		debug.Log("clipboard: %s %d nodes", op, len(roots))
		return nil
	})
}

// Paste inserts the clipboard after the focused node. A cut from this
// document becomes a move; anything from another document is copied with
// fresh identifiers. A cut is consumed by the paste.
func (c *Coordinator) Paste() error {
	return c.submit(func() error {
		e, ok := c.clipboard.Get()
		if !ok {
			return nil
		}
		target := c.pasteTarget()
		local := e.SourceSession == c.sessionID

		var err error
		switch {
		case e.Op == ClipCut && local:
			err = c.runEdit("paste (move)", func(t Tree, alloc *Allocator, _ UID) EditResult {
				return MoveNodes(t, alloc, e.UIDs, target)
			}, func(res EditResult) Action {
				return &NodeCut{From: res.Before, To: res.After}
			})
		case local:
			err = c.runEdit("paste", func(t Tree, alloc *Allocator, _ UID) EditResult {
				return CopyNodes(t, alloc, e.UIDs, target)
			}, copyAction)
		default:
			err = c.runEdit("paste external", func(t Tree, alloc *Allocator, _ UID) EditResult {
				return CopyExternal(t, alloc, e.Snapshots, target)
			}, copyAction)
		}
		if e.Op == ClipCut && err == nil {
			c.clipboard.Clear()
		}
		return err
	})
}

// pasteTarget is the slot right after the focused node, or the end of the
// document when nothing is focused.
func (c *Coordinator) pasteTarget() Target {
	pos, ok := c.doc.tree.Position(c.view.Focused)
	if !ok {
		return Target{Parent: RootUID}
	}
	return Target{Parent: pos.Parent, Index: pos.Index + 1, Between: true}
}
