package htmlstage

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeSystemClipboard struct {
	mu   sync.Mutex
	text string
}

func (f *fakeSystemClipboard) WriteAll(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	return nil
}

func openTestSession(t *testing.T, text string, cb *Clipboard) *Session {
	t.Helper()
	s, err := OpenSession(context.Background(), "test.html", &memStore{text: text}, WithClipboard(cb))
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestPasteAcrossSessions(t *testing.T) {
	sys := &fakeSystemClipboard{}
	cb := NewClipboard(sys)
	a := openTestSession(t, `<p class="x">copied</p>`, cb)
	b := openTestSession(t, `<div><i>a</i></div>`, cb)
	if a.ID == b.ID {
		t.Fatal("sessions share an id")
	}

	if err := a.Copy([]UID{"1"}); err != nil {
		t.Fatal(err)
	}
	if sys.text != `<p class="x">copied</p>` {
		t.Errorf("system clipboard = %q", sys.text)
	}

	if err := b.Focus("1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Paste(); err != nil {
		t.Fatal(err)
	}
	doc := b.Document()
	if got := children(doc.Tree, RootUID); got != "1,4" {
		t.Errorf("root children = %q, want the copy as 4 after the focused div", got)
	}
	if doc.Text != `<div><i>a</i></div><p class="x">copied</p>` {
		t.Errorf("text = %q", doc.Text)
	}
	if _, ok := cb.Get(); !ok {
		t.Error("a copy stays on the clipboard")
	}
	if got := children(a.Document().Tree, RootUID); got != "1" {
		t.Errorf("source document changed: %q", got)
	}
}

func TestCutPasteMovesWithinSession(t *testing.T) {
	cb := NewClipboard(nil)
	s := openTestSession(t, `<p>x</p><div></div>`, cb)
	// p=1 "x"=2 div=3

	if err := s.Cut([]UID{"1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Focus("3"); err != nil {
		t.Fatal(err)
	}
	if err := s.Paste(); err != nil {
		t.Fatal(err)
	}

	doc := s.Document()
	if got := children(doc.Tree, RootUID); got != "3,1" {
		t.Errorf("root children = %q, want the same node moved after the div", got)
	}
	if _, ok := cb.Get(); ok {
		t.Error("a cut is consumed by the paste")
	}

	if err := s.Undo(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := children(s.Document().Tree, RootUID); got != "1,3" {
		t.Errorf("after undo = %q, want 1,3", got)
	}
}

func TestCopyPasteWithinSession(t *testing.T) {
	s := openTestSession(t, `<ul><li>a</li></ul>`, NewClipboard(nil))
	// ul=1 li=2 "a"=3

	if err := s.Copy([]UID{"2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Focus("2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Paste(); err != nil {
		t.Fatal(err)
	}
	if got := children(s.Document().Tree, "1"); got != "2,4" {
		t.Errorf("ul children = %q, want 2,4", got)
	}
	if err := s.Paste(); err != nil {
		t.Fatal(err)
	}
	if got := children(s.Document().Tree, "1"); got != "2,4,6" {
		t.Errorf("second paste: ul children = %q, want 2,4,6", got)
	}
}

func TestFailedCutPasteKeepsClipboard(t *testing.T) {
	cb := NewClipboard(nil)
	s := openTestSession(t, `<p>x</p><div></div>`, cb)
	// p=1 "x"=2 div=3

	if err := s.Cut([]UID{"1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveNodes([]UID{"1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Focus("3"); err != nil {
		t.Fatal(err)
	}
	if err := s.Paste(); !errors.Is(err, ErrNotFound) {
		t.Errorf("paste of a removed node = %v, want ErrNotFound", err)
	}
	if _, ok := cb.Get(); !ok {
		t.Error("a cut that moved nothing must stay on the clipboard")
	}
}

func TestCopyUnknownNodes(t *testing.T) {
	s := openTestSession(t, `<p>x</p>`, NewClipboard(nil))
	if err := s.Copy([]UID{"42"}); err == nil {
		t.Error("copying nothing should fail")
	}
	if err := s.Paste(); err != nil {
		t.Errorf("paste with an empty clipboard = %v", err)
	}
}
