package htmlstage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder stands in for the tree view, the code view, the preview and the
// notifier.
type recorder struct {
	mu      sync.Mutex
	trees   []TreeUpdate
	texts   []string
	sels    []SourceRange
	stages  []StageUpdate
	notices []Notice

	onTree func(TreeUpdate)
}

func (r *recorder) ShowTree(u TreeUpdate) {
	r.mu.Lock()
	r.trees = append(r.trees, u)
	hook := r.onTree
	r.mu.Unlock()
	if hook != nil {
		hook(u)
	}
}

func (r *recorder) ShowText(text string, sel SourceRange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.sels = append(r.sels, sel)
}

func (r *recorder) Render(u StageUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, u)
	return nil
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) counts() (trees, texts, stages int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trees), len(r.texts), len(r.stages)
}

func (r *recorder) lastText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

func (r *recorder) lastStage() StageUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stages[len(r.stages)-1]
}

func (r *recorder) noticeCount(level NoticeLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Level == level {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *recorder) {
	t.Helper()
	r := &recorder{}
	opts = append([]Option{
		WithTreeSink(r),
		WithTextSink(r),
		WithStageSink(r),
		WithNotifier(r),
		WithDelays(20*time.Millisecond, 40*time.Millisecond),
	}, opts...)
	return NewCoordinator(opts...), r
}

func load(t *testing.T, c *Coordinator, text string) {
	t.Helper()
	if err := c.LoadDocument(text); err != nil {
		t.Fatalf("load: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type countingParser struct {
	HTMLParser
	parses atomic.Int32
}

func (p *countingParser) Parse(text string, after int) (*ParseResult, error) {
	p.parses.Add(1)
	return p.HTMLParser.Parse(text, after)
}

func TestCoordinatorEditScenario(t *testing.T) {
	c, r := newTestCoordinator(t)

	if err := c.AddNode("div"); err != nil {
		t.Fatal(err)
	}
	doc := c.Document()
	if got := children(doc.Tree, RootUID); got != "1" {
		t.Fatalf("root children = %q, want 1", got)
	}
	if doc.Text != "<div></div>" {
		t.Errorf("text = %q", doc.Text)
	}
	if doc.View.Focused != "1" || !doc.View.Selected.Has("1") {
		t.Errorf("new node should be focused and selected: %+v", doc.View)
	}
	if r.lastText() != "<div></div>" {
		t.Errorf("code view shows %q", r.lastText())
	}

	if err := c.DuplicateNodes([]UID{"1"}); err != nil {
		t.Fatal(err)
	}
	if got := children(c.Document().Tree, RootUID); got != "1,2" {
		t.Fatalf("root children = %q, want 1,2", got)
	}

	if err := c.RemoveNodes([]UID{"1"}); err != nil {
		t.Fatal(err)
	}
	doc = c.Document()
	if got := children(doc.Tree, RootUID); got != "2" {
		t.Fatalf("root children = %q, want 2", got)
	}
	if doc.View.Selected.Has("1") || doc.View.Focused == "1" {
		t.Errorf("removed node still in view state: %+v", doc.View)
	}
	if c.State() != Idle {
		t.Errorf("state = %s after the cycle", c.State())
	}
	if !doc.Unsaved {
		t.Error("edits should mark the document unsaved")
	}
}

func TestCoordinatorAllocatesFreshUIDsAcrossEdits(t *testing.T) {
	c, _ := newTestCoordinator(t)
	load(t, c, "")

	if err := c.AddNode("div"); err != nil {
		t.Fatal(err)
	}
	if err := c.DuplicateNodes([]UID{"1"}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddNode("p"); err != nil {
		t.Fatal(err)
	}
	doc := c.Document()
	if got := children(doc.Tree, RootUID); got != "1,2,3" {
		t.Errorf("root children = %q, want 1,2,3", got)
	}
	if doc.MaxUID != 3 {
		t.Errorf("MaxUID = %d, want 3", doc.MaxUID)
	}
	if err := doc.Tree.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestCoordinatorStageDelta(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<p>a</p>")

	if got := r.lastStage(); got.Delta != nil {
		t.Errorf("first render should carry no delta, got %+v", got.Delta)
	}
	if err := c.AddNode("span"); err != nil {
		t.Fatal(err)
	}
	u := r.lastStage()
	if u.Delta == nil || len(u.Delta.Operations) != 1 || u.Delta.Operations[0].Type != OpInsertNode {
		t.Fatalf("delta = %+v, want one insert", u.Delta)
	}
	if u.Origin != FromNode {
		t.Errorf("origin = %s", u.Origin)
	}
}

func TestCoordinatorCodeChange(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<p>a</p>")
	// p=1 "a"=2
	if err := c.Focus("1"); err != nil {
		t.Fatal(err)
	}
	_, textsBefore, stagesBefore := r.counts()

	c.TextChanged("<p>b</p><div></div>", false)
	if err := c.FlushText(); err != nil {
		t.Fatal(err)
	}

	doc := c.Document()
	if doc.Text != "<p>b</p><div></div>" {
		t.Errorf("text = %q", doc.Text)
	}
	// The reparse allocates after the previous maximum: p=3 "b"=4 div=5.
	if got := children(doc.Tree, RootUID); got != "3,5" {
		t.Errorf("root children = %q, want 3,5", got)
	}
	if doc.View.Focused != "3" {
		t.Errorf("focus = %q, want the remapped 3", doc.View.Focused)
	}
	_, texts, stages := r.counts()
	if texts != textsBefore {
		t.Error("the code view must not be sent its own edit back")
	}
	if stages != stagesBefore+1 {
		t.Errorf("stage renders = %d, want %d", stages, stagesBefore+1)
	}
}

func TestCoordinatorParseFailureKeepsTree(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<p>a</p>")

	c.TextChanged("<p>a</p><div", false)
	if err := c.FlushText(); !errors.Is(err, ErrParseFailure) {
		t.Fatalf("flush error = %v, want a parse failure", err)
	}
	doc := c.Document()
	if !doc.Unsynced {
		t.Error("document should be flagged unsynced")
	}
	if !doc.Tree.Has("1") || doc.Text != "<p>a</p><div" {
		t.Errorf("tree should be kept and text updated: %q", doc.Text)
	}
	if r.noticeCount(NoticeError) != 1 {
		t.Errorf("error notices = %d, want 1", r.noticeCount(NoticeError))
	}

	c.TextChanged("<p>a</p><div></div>", false)
	if err := c.FlushText(); err != nil {
		t.Fatal(err)
	}
	if c.Document().Unsynced {
		t.Error("a good parse should clear the unsynced flag")
	}
}

func TestCoordinatorDebouncesCodeText(t *testing.T) {
	p := &countingParser{}
	c, _ := newTestCoordinator(t, WithParser(p))
	load(t, c, "<p>a</p>")
	base := p.parses.Load()

	for _, text := range []string{"<p>ab</p>", "<p>abc</p>", "<p>abcd</p>"} {
		c.TextChanged(text, true)
		time.Sleep(2 * time.Millisecond)
	}
	waitFor(t, func() bool { return c.Document().Text == "<p>abcd</p>" })
	time.Sleep(60 * time.Millisecond)

	if got := p.parses.Load() - base; got != 1 {
		t.Errorf("parses = %d, want only the latest text parsed", got)
	}
}

func TestCoordinatorQueuesReentrantEvents(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<p>a</p><p>b</p>")
	// p=1 "a"=2 p=3 "b"=4

	var (
		once        sync.Once
		stateSeen   CycleState
		submitErr   error
		focusDuring UID
	)
	r.mu.Lock()
	r.onTree = func(u TreeUpdate) {
		if u.Origin != FromNode {
			return
		}
		once.Do(func() {
			stateSeen = c.State()
			submitErr = c.Focus("3")
			focusDuring = c.View().Focused
		})
	}
	r.mu.Unlock()

	if err := c.RenameNode("1", "h1"); err != nil {
		t.Fatal(err)
	}
	if stateSeen != Propagating {
		t.Errorf("sink saw state %s, want propagating", stateSeen)
	}
	if submitErr != nil {
		t.Errorf("queued event returned %v", submitErr)
	}
	if focusDuring != "1" {
		t.Errorf("queued focus ran before the cycle ended: focus %q", focusDuring)
	}
	if got := c.View().Focused; got != "3" {
		t.Errorf("focus = %q, want the queued 3", got)
	}
	if c.State() != Idle {
		t.Errorf("state = %s", c.State())
	}
}

func TestCoordinatorBusyRefusesUndo(t *testing.T) {
	c, r := newTestCoordinator(t)
	if err := c.AddNode("div"); err != nil {
		t.Fatal(err)
	}

	var undoErr error
	var once sync.Once
	r.mu.Lock()
	r.onTree = func(TreeUpdate) {
		once.Do(func() { undoErr = c.Undo(context.Background()) })
	}
	r.mu.Unlock()

	if err := c.AddNode("p"); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(undoErr, ErrBusy) {
		t.Errorf("undo during a cycle = %v, want ErrBusy", undoErr)
	}
}

func TestCoordinatorSelectManyShortCircuit(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<p>a</p><p>b</p>")

	if err := c.SelectMany([]UID{"1", "3"}); err != nil {
		t.Fatal(err)
	}
	trees, _, _ := r.counts()
	if err := c.SelectMany([]UID{"3", "1"}); err != nil {
		t.Fatal(err)
	}
	if after, _, _ := r.counts(); after != trees {
		t.Error("same membership must not start a cycle")
	}
}

func TestCoordinatorStageEvents(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<div>\n<p>Hi</p>\n</div>")
	// div=1 "\n"=2 p=3 "Hi"=4 "\n"=5
	_, _, stages := r.counts()

	if err := c.HandleStageEvent(StageEvent{Kind: StageClick, UID: "3"}); err != nil {
		t.Fatal(err)
	}
	v := c.View()
	if v.Focused != "3" || !sameOrder(v.Selected.Items(), uids("3")) || !v.Expanded.Has("1") {
		t.Errorf("after click: %+v", v)
	}
	r.mu.Lock()
	sel := r.sels[len(r.sels)-1]
	r.mu.Unlock()
	if sel.StartLine != 2 || sel.StartColumn != 1 {
		t.Errorf("code view selection = %+v, want the p element", sel)
	}

	if err := c.HandleStageEvent(StageEvent{Kind: StageClick, UID: "1", Shift: true}); err != nil {
		t.Fatal(err)
	}
	v = c.View()
	if got := v.Selected.Items(); !sameOrder(got, uids("3", "1")) {
		t.Errorf("shift-click selection = %v", got)
	}

	if err := c.HandleStageEvent(StageEvent{Kind: StageHover, UID: "4"}); err != nil {
		t.Fatal(err)
	}
	if c.View().Hovered != "4" {
		t.Errorf("hovered = %q", c.View().Hovered)
	}

	trees, _, _ := r.counts()
	if err := c.HandleStageEvent(StageEvent{Kind: StageClick, UID: "2"}); err != nil {
		t.Fatal(err)
	}
	if after, _, _ := r.counts(); after != trees {
		t.Error("clicking a node outside the valid tree must not start a cycle")
	}
	if _, _, after := r.counts(); after != stages {
		t.Error("the preview must not be sent its own interactions back")
	}
}

func TestCoordinatorSelectionChanged(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<div>\n<p>Hi</p>\n</div>")
	_, texts, _ := r.counts()

	if err := c.SelectionChanged(SourceRange{StartLine: 2, StartColumn: 5}); err != nil {
		t.Fatal(err)
	}
	v := c.View()
	if v.Focused != "4" {
		t.Errorf("focus = %q, want the text under the cursor", v.Focused)
	}
	if !v.Expanded.Has("3") || !v.Expanded.Has("1") {
		t.Errorf("ancestors not expanded: %v", v.Expanded.Items())
	}
	if _, after, _ := r.counts(); after != texts {
		t.Error("cursor moves must not rewrite the code view")
	}
}

func TestCoordinatorUndoRedoCreate(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if err := c.AddNode("div"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddNode("p"); err != nil {
		t.Fatal(err)
	}
	if got := children(c.Document().Tree, RootUID); got != "1,2" {
		t.Fatalf("root children = %q", got)
	}

	if err := c.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if got := children(c.Document().Tree, RootUID); got != "1" {
		t.Fatalf("after undo = %q, want 1", got)
	}
	if err := c.Redo(ctx); err != nil {
		t.Fatal(err)
	}
	doc := c.Document()
	if got := children(doc.Tree, RootUID); got != "1,2" {
		t.Fatalf("after redo = %q, want the same uid at the same position", got)
	}
	if doc.Text != "<div></div><p></p>" {
		t.Errorf("text = %q", doc.Text)
	}

	for i := 0; i < 2; i++ {
		if err := c.Undo(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Undo(ctx); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("undo past the start = %v", err)
	}
	if err := c.AddNode("span"); err != nil {
		t.Fatal(err)
	}
	if got := children(c.Document().Tree, RootUID); got != "3" {
		t.Errorf("identifiers must not be reused: root children %q", got)
	}
}

func TestCoordinatorUndoMoveAndRename(t *testing.T) {
	c, _ := newTestCoordinator(t)
	load(t, c, "<ul><li>a</li><li>b</li></ul><div></div>")
	// ul=1 li=2 "a"=3 li=4 "b"=5 div=6
	ctx := context.Background()
	before := c.Document().Text

	if err := c.MoveNodes([]UID{"2", "4"}, Target{Parent: "6"}); err != nil {
		t.Fatal(err)
	}
	if err := c.RenameNode("6", "section"); err != nil {
		t.Fatal(err)
	}
	if got := c.Document().Text; got != "<ul></ul><section><li>a</li><li>b</li></section>" {
		t.Fatalf("text = %q", got)
	}

	for i := 0; i < 2; i++ {
		if err := c.Undo(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.Document().Text; got != before {
		t.Errorf("after undo = %q, want %q", got, before)
	}
}

func TestCoordinatorPartialBatchWarns(t *testing.T) {
	c, r := newTestCoordinator(t)
	load(t, c, "<p>a</p>")

	if err := c.RemoveNodes([]UID{"1", "99"}); err != nil {
		t.Fatal(err)
	}
	if c.Document().Tree.Has("1") {
		t.Error("valid item was not removed")
	}
	if r.noticeCount(NoticeWarning) != 1 {
		t.Fatalf("warnings = %d, want 1", r.noticeCount(NoticeWarning))
	}
	r.mu.Lock()
	msg := r.notices[len(r.notices)-1].Message
	r.mu.Unlock()
	if msg != MsgPartialBatch {
		t.Errorf("warning = %q", msg)
	}

	if err := c.RemoveNodes([]UID{"99"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("all-failed batch = %v", err)
	}
}

type memStore struct {
	mu   sync.Mutex
	text string
	err  error
}

func (s *memStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, s.err
}

func (s *memStore) Save(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.text = text
	return nil
}

func TestCoordinatorOpenSave(t *testing.T) {
	store := &memStore{text: "<p>a</p>"}
	c, _ := newTestCoordinator(t, WithStore(store))
	ctx := context.Background()

	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.AddNode("hr"); err != nil {
		t.Fatal(err)
	}
	if !c.Document().Unsaved {
		t.Fatal("expected unsaved edits")
	}
	if err := c.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if store.text != "<p>a</p><hr/>" {
		t.Errorf("saved %q", store.text)
	}
	if c.Document().Unsaved {
		t.Error("document still unsaved after save")
	}

	if err := NewCoordinator().Save(ctx); !errors.Is(err, ErrNoDocument) {
		t.Errorf("save without a store = %v", err)
	}
}

func TestCoordinatorSaveFlushesPendingText(t *testing.T) {
	store := &memStore{text: "<p>a</p>"}
	c, _ := newTestCoordinator(t, WithStore(store), WithDelays(time.Hour, time.Hour))
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	c.TextChanged("<p>typed</p>", true)
	if err := c.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if store.text != "<p>typed</p>" {
		t.Errorf("saved %q, want the pending text", store.text)
	}
}

func TestCoordinatorExternalChange(t *testing.T) {
	const base = "<ul><li>A</li><li>B</li></ul>"

	t.Run("clean document takes the disk text", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		load(t, c, base)
		if err := c.ExternalChange("<ul><li>A</li></ul>"); err != nil {
			t.Fatal(err)
		}
		doc := c.Document()
		if doc.Text != "<ul><li>A</li></ul>" || doc.Unsaved {
			t.Errorf("doc = %q unsaved=%v", doc.Text, doc.Unsaved)
		}
	})

	t.Run("unsaved edits are merged", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		load(t, c, base)
		c.TextChanged("<ul><li>X</li><li>A</li><li>B</li></ul>", false)
		if err := c.FlushText(); err != nil {
			t.Fatal(err)
		}
		if err := c.ExternalChange("<ul><li>A</li><li>B</li><li>Y</li></ul>"); err != nil {
			t.Fatal(err)
		}
		doc := c.Document()
		if !strings.Contains(doc.Text, "<li>X</li>") || !strings.Contains(doc.Text, "<li>Y</li>") {
			t.Errorf("merged text = %q", doc.Text)
		}
		if !doc.Unsaved {
			t.Error("merged local edits are still unsaved")
		}
	})

	t.Run("conflict keeps local edits", func(t *testing.T) {
		c, r := newTestCoordinator(t)
		load(t, c, "<div>Text</div>")
		c.TextChanged("<div>A</div>", false)
		if err := c.FlushText(); err != nil {
			t.Fatal(err)
		}
		if err := c.ExternalChange("<div>B</div>"); !errors.Is(err, errMergeConflict) {
			t.Fatalf("external change = %v, want a merge conflict", err)
		}
		if got := c.Document().Text; got != "<div>A</div>" {
			t.Errorf("local text replaced: %q", got)
		}
		if r.noticeCount(NoticeWarning) != 1 {
			t.Error("expected a warning about the conflict")
		}
	})
}

func TestCoordinatorLoadResetsState(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if err := c.AddNode("div"); err != nil {
		t.Fatal(err)
	}
	load(t, c, "<p>fresh</p>")

	doc := c.Document()
	if doc.View.Focused != "" || doc.View.Selected.Len() != 0 {
		t.Errorf("view state survived the load: %+v", doc.View)
	}
	if c.History().CanUndo() {
		t.Error("history survived the load")
	}
	if doc.MaxUID != 2 {
		t.Errorf("max uid = %d, want numbering to start over", doc.MaxUID)
	}
}
