package htmlstage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dannyswat/htmlstage/internal/debug"
)

// Origin tags which view an update cycle started from.
type Origin string

const (
	// FromNode is a tree-view edit: text is regenerated from the tree.
	FromNode Origin = "node"
	// FromCode is a code-text edit: the text is parsed into a new tree.
	FromCode Origin = "code"
	// FromFileSystem is a load from disk: parse and reset all view state.
	FromFileSystem Origin = "fs"
	// FromStage is a preview interaction; it changes view state only.
	FromStage Origin = "stage"
)

// CycleState is the state of the coordinator's edit cycle.
type CycleState int32

const (
	Idle CycleState = iota
	EditApplied
	Propagating
)

func (s CycleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case EditApplied:
		return "edit-applied"
	case Propagating:
		return "propagating"
	default:
		return fmt.Sprintf("CycleState(%d)", int32(s))
	}
}

// TreeUpdate is what the tree view receives after a cycle.
type TreeUpdate struct {
	Origin Origin
	Tree   Tree
	Valid  Tree
	View   ViewState
}

// StageUpdate is what the preview receives after a cycle. Delta transforms
// the previously rendered valid tree into Valid; it is nil when no previous
// render exists or the diff failed, in which case clients use Valid.
type StageUpdate struct {
	Origin  Origin
	Tree    Tree
	Valid   Tree
	Delta   *Delta
	Focused UID
	Hovered UID
}

// TreeSink displays the node tree.
type TreeSink interface {
	ShowTree(u TreeUpdate)
}

// TextSink displays code text. sel is the source range of the focused node,
// zero when nothing is focused.
type TextSink interface {
	ShowText(text string, sel SourceRange)
}

// StageSink renders the preview. A returned error is logged; the cycle
// still completes.
type StageSink interface {
	Render(u StageUpdate) error
}

// NoticeLevel grades a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
	NoticeError
)

// Notice is a user-visible message.
type Notice struct {
	Level   NoticeLevel
	Message string
	Err     error
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// DocumentStore reads and writes the text of the open document.
type DocumentStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, text string) error
}

// MsgPartialBatch is the single warning shown for a partially failed batch.
const MsgPartialBatch = "some items could not be processed"

// Default debounce delays for code text.
const (
	DefaultSyncDelay   = 300 * time.Millisecond
	DefaultTypingDelay = 1200 * time.Millisecond
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithParser sets the parser; HTMLParser is the default.
func WithParser(p Parser) Option { return func(c *Coordinator) { c.parser = p } }

// WithCatalog sets the reference data consulted by AddNode.
func WithCatalog(cat ElementCatalog) Option { return func(c *Coordinator) { c.catalog = cat } }

// WithTreeSink sets the tree view.
func WithTreeSink(s TreeSink) Option { return func(c *Coordinator) { c.treeSink = s } }

// WithTextSink sets the code view.
func WithTextSink(s TextSink) Option { return func(c *Coordinator) { c.textSink = s } }

// WithStageSink sets the preview.
func WithStageSink(s StageSink) Option { return func(c *Coordinator) { c.stageSink = s } }

// WithNotifier sets where user-visible notices go.
func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

// WithStore sets the document store used by Open and Save.
func WithStore(s DocumentStore) Option { return func(c *Coordinator) { c.store = s } }

// WithDelays sets the code-text debounce delays. typing applies while the
// user is actively typing.
func WithDelays(syncDelay, typing time.Duration) Option {
	return func(c *Coordinator) {
		c.syncDelay = syncDelay
		c.typingDelay = typing
	}
}

// WithHistoryLimit caps the undo log; zero is unbounded.
func WithHistoryLimit(n int) Option { return func(c *Coordinator) { c.historyLimit = n } }

// WithClipboard shares a clipboard between documents.
func WithClipboard(cb *Clipboard) Option { return func(c *Coordinator) { c.clipboard = cb } }

// WithSessionID sets the identifier used to tell this document's clipboard
// entries from other documents'.
func WithSessionID(id string) Option { return func(c *Coordinator) { c.sessionID = id } }

// document is the state of the open document. It is written only by cycles,
// under docMu.
type document struct {
	tree      Tree
	valid     Tree
	text      string
	savedText string
	alloc     *Allocator
	// unsynced is set when the code text failed to parse; tree holds the
	// last tree that parsed.
	unsynced bool
	unsaved  bool
	loaded   bool
}

// DocumentState is a read-only copy of the open document.
type DocumentState struct {
	Tree     Tree
	Valid    Tree
	Text     string
	View     ViewState
	MaxUID   int
	Unsynced bool
	Unsaved  bool
}

// Coordinator owns one open document and sequences every change to it. Events
// run one at a time: an event that arrives while a cycle runs, including one
// raised by a sink during propagation, is queued and runs once the current
// cycle is back to Idle.
type Coordinator struct {
	parser       Parser
	catalog      ElementCatalog
	treeSink     TreeSink
	textSink     TextSink
	stageSink    StageSink
	notifier     Notifier
	store        DocumentStore
	clipboard    *Clipboard
	sessionID    string
	syncDelay    time.Duration
	typingDelay  time.Duration
	historyLimit int

	history   *History
	debouncer *Debouncer
	state     atomic.Int32

	qmu     sync.Mutex
	queue   []func() error
	running bool
	pending *string

	docMu        sync.RWMutex
	doc          document
	view         ViewState
	lastRendered Tree
}

// NewCoordinator returns a coordinator with an empty document.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		parser:      HTMLParser{},
		syncDelay:   DefaultSyncDelay,
		typingDelay: DefaultTypingDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.syncDelay <= 0 {
		c.syncDelay = DefaultSyncDelay
	}
	if c.typingDelay <= 0 {
		c.typingDelay = c.syncDelay
	}
	if c.clipboard == nil {
		c.clipboard = NewClipboard(nil)
	}
	c.debouncer = NewDebouncer(c.syncDelay)
	c.history = NewHistory(replayer{c}, c.historyLimit)
	c.doc = document{tree: NewTree(), alloc: NewAllocator(0)}
	c.doc.valid = c.doc.tree.DeriveValid()
	return c
}

// State returns the current cycle state.
func (c *Coordinator) State() CycleState {
	return CycleState(c.state.Load())
}

// History returns the undo log of the open document.
func (c *Coordinator) History() *History {
	return c.history
}

// Document returns a copy of the open document and its view state.
func (c *Coordinator) Document() DocumentState {
	c.docMu.RLock()
	defer c.docMu.RUnlock()
	return DocumentState{
		Tree:     c.doc.tree.Clone(),
		Valid:    c.doc.valid.Clone(),
		Text:     c.doc.text,
		View:     c.view.Clone(),
		MaxUID:   c.doc.alloc.Max(),
		Unsynced: c.doc.unsynced,
		Unsaved:  c.doc.unsaved,
	}
}

// View returns a copy of the node tree's view state.
func (c *Coordinator) View() ViewState {
	c.docMu.RLock()
	defer c.docMu.RUnlock()
	return c.view.Clone()
}

// submit runs ev, or queues it when a cycle is already running. The error of
// ev is returned when it ran right away; a queued event reports failures
// through the notifier only and submit returns nil.
func (c *Coordinator) submit(ev func() error) error {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	if c.running {
		c.qmu.Unlock()
		debug.Log("coordinator: event queued (%d pending)", len(c.queue))
		return nil
	}
	c.running = true

	var first error
	ranFirst := false
	for len(c.queue) > 0 {
		fn := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()
		err := c.guard(fn)
		if !ranFirst {
			first, ranFirst = err, true
		} else if err != nil {
			c.notify(NoticeError, err.Error(), err)
		}
		c.qmu.Lock()
	}
	c.running = false
	c.qmu.Unlock()
	return first
}

// guard runs one event and always returns the coordinator to Idle.
func (c *Coordinator) guard(fn func() error) error {
	defer c.setState(Idle)
	return fn()
}

// busy reports whether a cycle is running.
func (c *Coordinator) busy() bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.running
}

func (c *Coordinator) setState(s CycleState) {
	c.state.Store(int32(s))
}

func (c *Coordinator) notify(level NoticeLevel, msg string, err error) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(Notice{Level: level, Message: msg, Err: err})
}

// reportBatch turns per-item failures into one warning.
func (c *Coordinator) reportBatch(op string, b BatchResult) {
	if !b.Partial() {
		return
	}
	for _, f := range b.Failures {
		debug.Log("coordinator: %s: %v", op, f)
	}
	c.notify(NoticeWarning, MsgPartialBatch, b.Err())
}

// LoadDocument replaces the open document with text read from disk. View
// state, identifiers and history start over.
func (c *Coordinator) LoadDocument(text string) error {
	return c.submit(func() error {
		defer debug.LogEnterExit("coordinator: load")()
		c.setState(EditApplied)
		c.debouncer.Cancel()
		c.clearPending()
		c.history.Clear()

		alloc := NewAllocator(0)
		next := document{text: text, savedText: text, alloc: alloc, loaded: true}
		res, err := c.parser.Parse(text, 0)
		if err != nil {
			next.tree = NewTree()
			next.unsynced = true
			c.notify(NoticeError, fmt.Sprintf("could not parse document: %v", err), err)
		} else {
			alloc.Observe(res.MaxUID)
			next.tree = res.Tree
		}
		next.valid = next.tree.DeriveValid()

		c.docMu.Lock()
		c.doc = next
		c.view.Clear()
		c.lastRendered = nil
		c.docMu.Unlock()

		c.propagate(FromFileSystem, true)
		return err
	})
}

// Open loads the document through the store.
func (c *Coordinator) Open(ctx context.Context) error {
	if c.store == nil {
		return ErrNoDocument
	}
	text, err := c.store.Load(ctx)
	if err != nil {
		c.notify(NoticeError, fmt.Sprintf("could not open document: %v", err), err)
		return err
	}
	return c.LoadDocument(text)
}

// Save flushes pending code text and writes the document through the store.
func (c *Coordinator) Save(ctx context.Context) error {
	if c.store == nil {
		return ErrNoDocument
	}
	if c.busy() {
		return ErrBusy
	}
	c.FlushText()
	c.docMu.RLock()
	text := c.doc.text
	c.docMu.RUnlock()

	if err := c.store.Save(ctx, text); err != nil {
		c.notify(NoticeError, fmt.Sprintf("could not save document: %v", err), err)
		return err
	}
	return c.submit(func() error {
		c.docMu.Lock()
		c.doc.savedText = text
		c.doc.unsaved = c.doc.text != text
		c.docMu.Unlock()
		debug.Log("coordinator: saved %d bytes", len(text))
		return nil
	})
}

// TextChanged reports an edit in the code view. Rapid changes are coalesced:
// only the latest text is parsed, after the sync delay, or after the longer
// typing delay while the user is actively typing.
func (c *Coordinator) TextChanged(text string, typing bool) {
	c.qmu.Lock()
	c.pending = &text
	c.qmu.Unlock()

	delay := c.syncDelay
	if typing {
		delay = c.typingDelay
	}
	c.debouncer.TriggerAfter(delay, func() {
		c.submit(c.applyPending)
	})
}

// FlushText applies pending code text now instead of waiting for the delay.
func (c *Coordinator) FlushText() error {
	c.debouncer.Cancel()
	return c.submit(c.applyPending)
}

func (c *Coordinator) clearPending() {
	c.qmu.Lock()
	c.pending = nil
	c.qmu.Unlock()
}

func (c *Coordinator) applyPending() error {
	c.qmu.Lock()
	p := c.pending
	c.pending = nil
	c.qmu.Unlock()
	if p == nil {
		return nil
	}
	return c.applyCode(*p, FromCode)
}

// applyCode parses text into a new tree and remaps view state onto it. On a
// parse failure the last parsed tree stays and the document is flagged
// unsynced.
func (c *Coordinator) applyCode(text string, origin Origin) error {
	defer debug.LogEnterExit("coordinator: code")()
	c.setState(EditApplied)

	res, err := c.parser.Parse(text, c.doc.alloc.Max())
	if err != nil {
		c.docMu.Lock()
		c.doc.text = text
		c.doc.unsynced = true
		c.doc.unsaved = text != c.doc.savedText
		c.docMu.Unlock()
		c.notify(NoticeError, fmt.Sprintf("code could not be parsed: %v", err), err)
		return err
	}

	mapping, removed := MatchIdentifiers(c.doc.tree, res.Tree)
	debug.Log("coordinator: reparse mapped %d ids, dropped %d", len(mapping), len(removed))
	// Recorded actions name identifiers of the replaced tree.
	c.history.Clear()

	c.docMu.Lock()
	c.doc.alloc.Observe(res.MaxUID)
	c.doc.tree = res.Tree
	c.doc.valid = res.Tree.DeriveValid()
	c.doc.text = text
	c.doc.unsynced = false
	c.doc.unsaved = text != c.doc.savedText
	c.view.Reconcile(mapping, removed)
	c.docMu.Unlock()

	c.propagate(origin, true)
	return nil
}

// ExternalChange handles new disk content for the open document. Without
// unsaved edits the disk text replaces the document. With unsaved edits the
// two sides are merged against the last saved text; on conflict the local
// document is kept.
func (c *Coordinator) ExternalChange(text string) error {
	return c.submit(func() error {
		c.docMu.RLock()
		saved, local, unsaved := c.doc.savedText, c.doc.text, c.doc.unsaved
		c.docMu.RUnlock()

		if text == saved {
			return nil
		}
		if !unsaved {
			c.docMu.Lock()
			c.doc.savedText = text
			c.docMu.Unlock()
			return c.applyCode(text, FromFileSystem)
		}

		merged, err := mergeTexts(saved, local, text)
		if err != nil {
			c.notify(NoticeWarning, "file changed on disk; keeping local edits", err)
			return err
		}
		c.docMu.Lock()
		c.doc.savedText = text
		c.docMu.Unlock()
		return c.applyCode(merged, FromFileSystem)
	})
}

// errMergeConflict is returned by mergeTexts when the two sides collide.
var errMergeConflict = errors.New("merge conflict")

func mergeTexts(base, local, disk string) (string, error) {
	diskDelta, err := Diff(base, disk, "disk")
	if err != nil {
		return "", err
	}
	localDelta, err := Diff(base, local, "local")
	if err != nil {
		return "", err
	}
	merged, _, conflicts, err := Merge(base, diskDelta, localDelta)
	if err != nil {
		return "", err
	}
	if len(conflicts) > 0 {
		return "", fmt.Errorf("%d conflicts: %w", len(conflicts), errMergeConflict)
	}
	return merged, nil
}

// editFunc computes an edit against the current tree.
type editFunc func(t Tree, alloc *Allocator, focused UID) EditResult

// runEdit applies a tree-view edit: the result tree replaces the document,
// view state is reconciled, the text is regenerated and the action is
// recorded unless record is nil.
func (c *Coordinator) runEdit(name string, edit editFunc, record func(EditResult) Action) error {
	defer debug.LogEnterExit("coordinator: " + name)()
	c.setState(EditApplied)

	// Edits draw from a scratch allocator; commitTree raises the document's.
	res := edit(c.doc.tree, NewAllocator(c.doc.alloc.Max()), c.view.Focused)
	c.reportBatch(name, res.Batch)
	if len(res.Batch.Processed) == 0 {
		// Nothing applied: complete the cycle with the unchanged tree.
		c.propagate(FromNode, false)
		return res.Batch.Err()
	}
	if err := c.commitTree(res); err != nil {
		return err
	}
	if record != nil {
		if a := record(res); a != nil {
			c.history.Record(a)
		}
	}
	c.propagate(FromNode, true)
	return nil
}

// commitTree swaps in an edited tree and regenerates the text from it.
func (c *Coordinator) commitTree(res EditResult) error {
	tree := res.Tree
	text, err := c.parser.Serialize(tree)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	if fresh, err := c.parser.Parse(text, 0); err == nil {
		tree = SyncRanges(tree, fresh.Tree)
	} else {
		debug.Log("coordinator: range refresh failed: %v", err)
	}

	c.docMu.Lock()
	defer c.docMu.Unlock()
	c.doc.alloc.Observe(res.MaxUID)
	c.doc.alloc.Observe(tree.MaxUID())
	c.doc.tree = tree
	c.doc.valid = tree.DeriveValid()
	c.doc.text = text
	c.doc.unsynced = false
	c.doc.unsaved = text != c.doc.savedText

	c.view.ReconcileDeleted(res.Removed)
	if res.Focus != "" {
		c.view.Focus(res.Focus)
	}
	if len(res.Added) > 0 {
		c.view.SelectMany(res.Added, tree.Has)
	} else if res.Focus != "" && len(res.Removed) > 0 {
		c.view.SelectMany([]UID{res.Focus}, tree.Has)
	}
	return nil
}

// propagate dispatches the document to the views that did not originate the
// cycle. treeChanged is false for view-state-only cycles.
func (c *Coordinator) propagate(origin Origin, treeChanged bool) {
	c.setState(Propagating)
	start := time.Now()

	c.docMu.RLock()
	tree, valid, text := c.doc.tree, c.doc.valid, c.doc.text
	view := c.view.Clone()
	var sel SourceRange
	if n, ok := tree[view.Focused]; ok && n.Data != nil {
		sel = n.Data.SourceRange()
	}
	last := c.lastRendered
	c.docMu.RUnlock()

	if c.treeSink != nil {
		c.treeSink.ShowTree(TreeUpdate{Origin: origin, Tree: tree, Valid: valid, View: view})
	}
	if c.textSink != nil && origin != FromCode {
		c.textSink.ShowText(text, sel)
	}
	if c.stageSink != nil && origin != FromStage {
		u := StageUpdate{
			Origin:  origin,
			Tree:    tree,
			Valid:   valid,
			Focused: view.Focused,
			Hovered: view.Hovered,
		}
		if last != nil && treeChanged {
			if d, err := DiffTrees(last, valid, string(origin)); err == nil {
				u.Delta = d
			} else {
				debug.Log("coordinator: stage diff failed: %v", err)
			}
		} else if last != nil {
			u.Delta = &Delta{}
		}
		if err := c.stageSink.Render(u); err != nil {
			debug.Log("coordinator: stage render failed: %v", err)
		} else {
			c.docMu.Lock()
			c.lastRendered = valid
			c.docMu.Unlock()
		}
	}
	debug.LogTiming("coordinator: propagate "+string(origin), time.Since(start))
}

// viewCycle runs a view-state-only change. Nothing is propagated when fn
// reports no change.
func (c *Coordinator) viewCycle(origin Origin, fn func(v *ViewState, t Tree) bool) error {
	return c.submit(func() error {
		c.setState(EditApplied)
		c.docMu.Lock()
		changed := fn(&c.view, c.doc.valid)
		c.docMu.Unlock()
		if changed {
			c.propagate(origin, false)
		}
		return nil
	})
}

// AddNode adds a tag element (or "#text" / "#comment") after the focused
// node, or at the end of the document when nothing is focused.
func (c *Coordinator) AddNode(tag string) error {
	return c.submit(func() error {
		return c.runEdit("add "+tag, func(t Tree, alloc *Allocator, focused UID) EditResult {
			return AddNode(t, alloc, c.catalog, focused, tag)
		}, createAction)
	})
}

// RemoveNodes removes nodes with their subtrees.
func (c *Coordinator) RemoveNodes(uids []UID) error {
	return c.submit(func() error {
		return c.runEdit("remove", func(t Tree, alloc *Allocator, focused UID) EditResult {
			return RemoveNodes(t, alloc, uids, focused)
		}, func(res EditResult) Action {
			return &NodeDelete{Nodes: res.Captured}
		})
	})
}

// DuplicateNodes clones nodes next to themselves.
func (c *Coordinator) DuplicateNodes(uids []UID) error {
	return c.submit(func() error {
		return c.runEdit("duplicate", func(t Tree, alloc *Allocator, _ UID) EditResult {
			return DuplicateNodes(t, alloc, uids)
		}, createAction)
	})
}

// CopyNodes copies nodes of this document to target.
func (c *Coordinator) CopyNodes(uids []UID, target Target) error {
	return c.submit(func() error {
		return c.runEdit("copy", func(t Tree, alloc *Allocator, _ UID) EditResult {
			return CopyNodes(t, alloc, uids, target)
		}, copyAction)
	})
}

// CopyExternal copies snapshots taken from another document to target.
func (c *Coordinator) CopyExternal(snaps []Snapshot, target Target) error {
	return c.submit(func() error {
		return c.runEdit("copy external", func(t Tree, alloc *Allocator, _ UID) EditResult {
			return CopyExternal(t, alloc, snaps, target)
		}, copyAction)
	})
}

// MoveNodes moves nodes to target.
func (c *Coordinator) MoveNodes(uids []UID, target Target) error {
	return c.submit(func() error {
		return c.runEdit("move", func(t Tree, alloc *Allocator, _ UID) EditResult {
			return MoveNodes(t, alloc, uids, target)
		}, func(res EditResult) Action {
			return &NodeCut{From: res.Before, To: res.After}
		})
	})
}

// RenameNode turns an element into another tag.
func (c *Coordinator) RenameNode(uid UID, tag string) error {
	return c.submit(func() error {
		var from string
		if n, ok := c.doc.tree[uid]; ok {
			from = n.Name
		}
		return c.runEdit("rename", func(t Tree, alloc *Allocator, _ UID) EditResult {
			return RenameNode(t, alloc, uid, tag)
		}, func(res EditResult) Action {
			return &NodeRename{UID: uid, From: from, To: res.Tree[uid].Name}
		})
	})
}

func createAction(res EditResult) Action {
	return &NodeCreate{Nodes: CaptureSnapshots(res.Tree, res.Added)}
}

func copyAction(res EditResult) Action {
	return &NodeCopy{Nodes: CaptureSnapshots(res.Tree, res.Added)}
}

// Undo reverts the last recorded action. It is refused with ErrBusy while a
// cycle runs.
func (c *Coordinator) Undo(ctx context.Context) error {
	if c.busy() {
		return ErrBusy
	}
	return c.submit(func() error {
		_, err := c.history.Undo(ctx)
		return err
	})
}

// Redo reapplies the last undone action. It is refused with ErrBusy while a
// cycle runs.
func (c *Coordinator) Redo(ctx context.Context) error {
	if c.busy() {
		return ErrBusy
	}
	return c.submit(func() error {
		_, err := c.history.Redo(ctx)
		return err
	})
}

// replayer runs history actions inside the cycle that called Undo or Redo.
type replayer struct{ c *Coordinator }

func (r replayer) Replay(ctx context.Context, a Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var edit editFunc
	switch a := a.(type) {
	case *NodeCreate:
		edit = func(t Tree, alloc *Allocator, _ UID) EditResult { return RestoreNodes(t, alloc, a.Nodes) }
	case *NodeCopy:
		edit = func(t Tree, alloc *Allocator, _ UID) EditResult { return RestoreNodes(t, alloc, a.Nodes) }
	case *NodeDelete:
		edit = func(t Tree, alloc *Allocator, focused UID) EditResult {
			return RemoveNodes(t, alloc, a.UIDs(), focused)
		}
	case *NodeCut:
		edit = func(t Tree, alloc *Allocator, _ UID) EditResult { return RelocateNodes(t, alloc, a.To) }
	case *NodeRename:
		edit = func(t Tree, alloc *Allocator, _ UID) EditResult { return RenameNode(t, alloc, a.UID, a.To) }
	default:
		return fmt.Errorf("replay %s %T: unsupported action", a.Kind(), a)
	}
	return r.c.replayEdit(string(a.Kind()), edit)
}

// replayEdit applies a history edit all or nothing: any per-item failure
// leaves the document untouched.
func (c *Coordinator) replayEdit(name string, edit editFunc) error {
	defer debug.LogEnterExit("coordinator: replay " + name)()
	c.setState(EditApplied)
	res := edit(c.doc.tree, NewAllocator(c.doc.alloc.Max()), c.view.Focused)
	if err := res.Batch.Err(); err != nil {
		return err
	}
	if err := c.commitTree(res); err != nil {
		return err
	}
	c.propagate(FromNode, true)
	return nil
}

// Focus focuses a node of the valid tree.
func (c *Coordinator) Focus(uid UID) error {
	return c.viewCycle(FromNode, func(v *ViewState, t Tree) bool {
		if uid != "" && !t.Has(uid) {
			return false
		}
		return v.Focus(uid)
	})
}

// SelectMany replaces the selection. Same membership is a no-op.
func (c *Coordinator) SelectMany(uids []UID) error {
	return c.viewCycle(FromNode, func(v *ViewState, t Tree) bool {
		return v.SelectMany(uids, t.Has)
	})
}

// SetExpanded expands or collapses a node in the tree view.
func (c *Coordinator) SetExpanded(uid UID, expanded bool) error {
	return c.viewCycle(FromNode, func(v *ViewState, t Tree) bool {
		if expanded {
			return t.Has(uid) && v.Expand(uid)
		}
		return v.Collapse(uid)
	})
}

// StageEventKind is the kind of a preview interaction.
type StageEventKind string

const (
	StageClick       StageEventKind = "click"
	StageDoubleClick StageEventKind = "doubleClick"
	StageHover       StageEventKind = "hover"
)

// StageEvent is an interaction reported by the preview.
type StageEvent struct {
	Kind  StageEventKind `json:"kind"`
	UID   UID            `json:"uid"`
	Shift bool           `json:"shift,omitempty"`
}

// HandleStageEvent applies a preview interaction to the view state.
func (c *Coordinator) HandleStageEvent(ev StageEvent) error {
	return c.viewCycle(FromStage, func(v *ViewState, t Tree) bool {
		switch ev.Kind {
		case StageHover:
			if ev.UID != "" && !t.Has(ev.UID) {
				return false
			}
			return v.Hover(ev.UID)
		case StageClick, StageDoubleClick:
			if !t.Has(ev.UID) || ev.UID == RootUID {
				return false
			}
			changed := false
			if ev.Shift && ev.Kind == StageClick {
				changed = v.ToggleSelect(ev.UID)
			} else {
				changed = v.SelectMany([]UID{ev.UID}, t.Has)
			}
			if v.Focus(ev.UID) {
				changed = true
			}
			if expandAncestors(v, t, ev.UID) {
				changed = true
			}
			// A double-click always re-sends the focused range to the code view.
			return changed || ev.Kind == StageDoubleClick
		default:
			debug.Log("coordinator: unknown stage event %q", ev.Kind)
			return false
		}
	})
}

// SelectionChanged maps a code cursor to the deepest valid node under it and
// focuses that node.
func (c *Coordinator) SelectionChanged(r SourceRange) error {
	return c.viewCycle(FromCode, func(v *ViewState, t Tree) bool {
		uid := NodeAt(t, r.StartLine, r.StartColumn)
		if uid == "" {
			return false
		}
		changed := v.Focus(uid)
		if v.SelectMany([]UID{uid}, t.Has) {
			changed = true
		}
		if expandAncestors(v, t, uid) {
			changed = true
		}
		return changed
	})
}

func expandAncestors(v *ViewState, t Tree, uid UID) bool {
	changed := false
	n, ok := t[uid]
	for ok && n.ParentUID != "" && n.ParentUID != RootUID {
		if v.Expand(n.ParentUID) {
			changed = true
		}
		n, ok = t[n.ParentUID]
	}
	return changed
}
