package htmlstage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dannyswat/htmlstage/internal/debug"
)

// ActionKind names the kind of a recorded action.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionRename ActionKind = "rename"
	ActionCut    ActionKind = "cut"
	ActionCopy   ActionKind = "copy"
	ActionDelete ActionKind = "delete"
)

// Action is a committed structural action in a form that can be replayed.
// Inverse returns the action that undoes it.
type Action interface {
	Kind() ActionKind
	Inverse() Action
}

// Replayer performs an action through the same operations a user action
// goes through.
type Replayer interface {
	Replay(ctx context.Context, a Action) error
}

// History is a linear undo log. Entries before the cursor can be undone,
// entries from the cursor on can be redone. Undone entries stay available
// until a new action is recorded, which discards them.
type History struct {
	mu       sync.Mutex
	entries  []Action
	cursor   int
	limit    int
	replayer Replayer
}

// NewHistory returns an empty log. limit caps the number of entries kept;
// zero means unbounded.
func NewHistory(r Replayer, limit int) *History {
	return &History{replayer: r, limit: limit}
}

// Record appends a and discards every redo entry.
func (h *History) Record(a Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries[:h.cursor], a)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = append([]Action(nil), h.entries[len(h.entries)-h.limit:]...)
	}
	h.cursor = len(h.entries)
	debug.Log("history: record %s (%d entries)", a.Kind(), len(h.entries))
}

// Undo replays the inverse of the entry before the cursor and moves the
// cursor back. When the replay fails the cursor stays where it was.
func (h *History) Undo(ctx context.Context) (Action, error) {
	h.mu.Lock()
	if h.cursor == 0 {
		h.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	a := h.entries[h.cursor-1]
	h.mu.Unlock()

	// The replayer may call back into the session; the lock is not held.
	if err := h.replayer.Replay(ctx, a.Inverse()); err != nil {
		return nil, fmt.Errorf("undo %s: %w", a.Kind(), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor > 0 && h.entries[h.cursor-1] == a {
		h.cursor--
	}
	debug.Log("history: undo %s (cursor %d)", a.Kind(), h.cursor)
	return a, nil
}

// Redo replays the entry at the cursor and advances it.
func (h *History) Redo(ctx context.Context) (Action, error) {
	h.mu.Lock()
	if h.cursor >= len(h.entries) {
		h.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	a := h.entries[h.cursor]
	h.mu.Unlock()

	if err := h.replayer.Replay(ctx, a); err != nil {
		return nil, fmt.Errorf("redo %s: %w", a.Kind(), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor < len(h.entries) && h.entries[h.cursor] == a {
		h.cursor++
	}
	debug.Log("history: redo %s (cursor %d)", a.Kind(), h.cursor)
	return a, nil
}

// CanUndo reports whether Undo has an entry to work on.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor > 0
}

// CanRedo reports whether Redo has an entry to work on.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor < len(h.entries)
}

// Len returns the number of entries, undone ones included.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.cursor = 0
}

// Node actions. Each carries enough to be replayed against the document it
// was recorded on.

// NodeCreate re-inserts created nodes with their identifiers and positions.
type NodeCreate struct {
	Nodes []Snapshot
}

func (a *NodeCreate) Kind() ActionKind { return ActionCreate }
func (a *NodeCreate) Inverse() Action  { return &NodeDelete{Nodes: a.Nodes} }

// NodeCopy is a paste of copied nodes. It replays like NodeCreate.
type NodeCopy struct {
	Nodes []Snapshot
}

func (a *NodeCopy) Kind() ActionKind { return ActionCopy }
func (a *NodeCopy) Inverse() Action  { return &NodeDelete{Nodes: a.Nodes} }

// NodeDelete removes nodes. The snapshots let its inverse bring them back.
type NodeDelete struct {
	Nodes []Snapshot
}

func (a *NodeDelete) Kind() ActionKind { return ActionDelete }
func (a *NodeDelete) Inverse() Action  { return &NodeCreate{Nodes: a.Nodes} }

// UIDs returns the roots the action deletes.
func (a *NodeDelete) UIDs() []UID {
	out := make([]UID, len(a.Nodes))
	for i, s := range a.Nodes {
		out[i] = s.Root
	}
	return out
}

// NodeCut moves nodes from the From placements to the To placements.
type NodeCut struct {
	From []Placement
	To   []Placement
}

func (a *NodeCut) Kind() ActionKind { return ActionCut }
func (a *NodeCut) Inverse() Action  { return &NodeCut{From: a.To, To: a.From} }

// NodeRename changes the tag of an element.
type NodeRename struct {
	UID  UID
	From string
	To   string
}

func (a *NodeRename) Kind() ActionKind { return ActionRename }
func (a *NodeRename) Inverse() Action  { return &NodeRename{UID: a.UID, From: a.To, To: a.From} }
