package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dannyswat/htmlstage"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(p, 0o755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func newTestWorkspace(t *testing.T, files map[string]string) (*Workspace, string) {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, files)
	fsys, err := NewLocalFS(root)
	if err != nil {
		t.Fatal(err)
	}
	ws := New(fsys, 0)
	if _, err := ws.Import(context.Background()); err != nil {
		t.Fatalf("import: %v", err)
	}
	return ws, root
}

func childNames(t *testing.T, tree *FileTree, uid htmlstage.UID) string {
	t.Helper()
	n, ok := tree.Node(uid)
	if !ok {
		t.Fatalf("%s not in tree", uid)
	}
	names := make([]string, len(n.Children))
	for i, c := range n.Children {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

func TestImportReadsExpandedOnly(t *testing.T) {
	ws, root := newTestWorkspace(t, map[string]string{
		"index.html":   "<p>hi</p>",
		"a.txt":        "a",
		"css/site.css": "p{}",
		"b/":           "",
	})
	tree := ws.Tree()

	if got := childNames(t, tree, htmlstage.RootUID); got != "b,css,a.txt,index.html" {
		t.Errorf("root children = %q, want directories first", got)
	}
	if got := childNames(t, tree, "css"); got != "" {
		t.Errorf("collapsed directory was read: %q", got)
	}

	if !tree.Expand("css") {
		t.Fatal("expand css")
	}
	if _, err := ws.Import(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := childNames(t, tree, "css"); got != "css/site.css" {
		t.Errorf("css children = %q", got)
	}

	tree.Select([]htmlstage.UID{"css/site.css", "a.txt"})
	tree.Focus("css/site.css")
	if err := os.Remove(filepath.Join(root, "css", "site.css")); err != nil {
		t.Fatal(err)
	}
	deleted, err := ws.Import(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "css/site.css" {
		t.Errorf("deleted = %v", deleted)
	}
	v := tree.View()
	if v.Focused != "" || v.Selected.Has("css/site.css") || !v.Selected.Has("a.txt") {
		t.Errorf("view not reconciled: focus %q selected %v", v.Focused, v.Selected.Items())
	}
}

func TestImportKeepsCollapsedSubtree(t *testing.T) {
	ws, _ := newTestWorkspace(t, map[string]string{"css/site.css": ""})
	tree := ws.Tree()
	tree.Expand("css")
	if _, err := ws.Import(context.Background()); err != nil {
		t.Fatal(err)
	}
	tree.Collapse("css")
	deleted, err := ws.Import(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 0 || !tree.Has("css/site.css") {
		t.Errorf("collapsing dropped known children: deleted %v", deleted)
	}
}

func TestFileActionsUndoRedo(t *testing.T) {
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		ws, root := newTestWorkspace(t, nil)
		uid, err := ws.Create(ctx, htmlstage.RootUID, "new.html", false)
		if err != nil {
			t.Fatal(err)
		}
		if uid != "new.html" || !ws.Tree().Has(uid) || ws.Tree().View().Focused != uid {
			t.Fatalf("created %q, tree has it: %v", uid, ws.Tree().Has(uid))
		}
		if _, err := ws.Create(ctx, htmlstage.RootUID, "new.html", false); !errors.Is(err, ErrExists) {
			t.Errorf("duplicate create: %v", err)
		}
		if err := ws.Undo(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Join(root, "new.html")); !os.IsNotExist(err) {
			t.Error("undo did not remove the file")
		}
		if err := ws.Redo(ctx); err != nil {
			t.Fatal(err)
		}
		if !ws.Tree().Has("new.html") {
			t.Error("redo did not recreate the file")
		}
	})

	t.Run("delete restores content", func(t *testing.T) {
		ws, root := newTestWorkspace(t, map[string]string{
			"site/index.html":   "<h1>x</h1>",
			"site/img/logo.svg": "<svg/>",
			"keep.txt":          "k",
		})
		res := ws.Delete(ctx, []htmlstage.UID{"site", "site/index.html", "missing"})
		if len(res.Processed) != 1 || len(res.Failures) != 1 {
			t.Fatalf("result = %+v", res)
		}
		if ws.Tree().Has("site") {
			t.Error("site still in tree")
		}
		if err := ws.Undo(ctx); err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, root, "site/img/logo.svg"); got != "<svg/>" {
			t.Errorf("restored logo = %q", got)
		}
		if got := readFile(t, root, "site/index.html"); got != "<h1>x</h1>" {
			t.Errorf("restored index = %q", got)
		}
	})

	t.Run("rename keeps view state", func(t *testing.T) {
		ws, root := newTestWorkspace(t, map[string]string{"old/a.html": "a"})
		ws.Tree().Expand("old")
		ws.Import(ctx)
		ws.Tree().Select([]htmlstage.UID{"old/a.html"})

		uid, err := ws.Rename(ctx, "old", "new")
		if err != nil {
			t.Fatal(err)
		}
		if uid != "new" {
			t.Errorf("uid = %q", uid)
		}
		v := ws.Tree().View()
		if !v.Expanded.Has("new") || !v.Selected.Has("new/a.html") {
			t.Errorf("view = expanded %v selected %v", v.Expanded.Items(), v.Selected.Items())
		}
		if !ws.Tree().Has("new/a.html") {
			t.Error("renamed directory was not re-read")
		}
		if err := ws.Undo(ctx); err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, root, "old/a.html"); got != "a" {
			t.Errorf("after undo = %q", got)
		}
		if _, err := ws.Rename(ctx, "old", "a/b"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("rename with a separator: %v", err)
		}
	})

	t.Run("move", func(t *testing.T) {
		ws, root := newTestWorkspace(t, map[string]string{"a.html": "a", "dir/": "", "dir/a.html": "taken"})
		res := ws.Move(ctx, []htmlstage.UID{"a.html", "dir"}, "dir")
		if len(res.Failures) != 2 {
			t.Fatalf("failures = %v, want a name clash and a cycle", res.Failures)
		}
		if !errors.Is(res.Err(), ErrExists) || !errors.Is(res.Err(), htmlstage.ErrCycleRejected) {
			t.Errorf("err = %v", res.Err())
		}

		writeFiles(t, root, map[string]string{"b.html": "b"})
		ws.Import(ctx)
		res = ws.Move(ctx, []htmlstage.UID{"b.html"}, "dir")
		if res.Partial() {
			t.Fatal(res.Err())
		}
		if got := readFile(t, root, "dir/b.html"); got != "b" {
			t.Errorf("moved = %q", got)
		}
		if err := ws.Undo(ctx); err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, root, "b.html"); got != "b" {
			t.Errorf("after undo = %q", got)
		}
	})

	t.Run("copy", func(t *testing.T) {
		ws, root := newTestWorkspace(t, map[string]string{"index.html": "i"})
		res := ws.Copy(ctx, []htmlstage.UID{"index.html", "index.html"}, htmlstage.RootUID)
		if res.Partial() {
			t.Fatal(res.Err())
		}
		if got := readFile(t, root, "index copy.html"); got != "i" {
			t.Errorf("copy = %q", got)
		}
		res = ws.Copy(ctx, []htmlstage.UID{"index.html"}, htmlstage.RootUID)
		if res.Partial() {
			t.Fatal(res.Err())
		}
		if got := readFile(t, root, "index copy 2.html"); got != "i" {
			t.Errorf("second copy = %q", got)
		}
		if err := ws.Undo(ctx); err != nil {
			t.Fatal(err)
		}
		if ws.Tree().Has("index copy 2.html") {
			t.Error("undo did not remove the copy")
		}
		if err := ws.Redo(ctx); err != nil {
			t.Fatal(err)
		}
		if !ws.Tree().Has("index copy 2.html") {
			t.Error("redo did not copy again")
		}
	})
}

// denyFS refuses writes below a prefix.
type denyFS struct {
	FS
	prefix string
}

func (d denyFS) Access(name string, write bool) error {
	if write && strings.HasPrefix(name, d.prefix) {
		return htmlstage.ErrPermissionDenied
	}
	return d.FS.Access(name, write)
}

func TestPermissionDenied(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"locked/a.html": "a", "open/": ""})
	local, err := NewLocalFS(root)
	if err != nil {
		t.Fatal(err)
	}
	ws := New(denyFS{FS: local, prefix: "locked"}, 0)
	ctx := context.Background()
	if _, err := ws.Import(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := ws.Create(ctx, "locked", "b.html", false); !errors.Is(err, htmlstage.ErrPermissionDenied) {
		t.Errorf("create in locked dir: %v", err)
	}
	ws.Tree().Expand("locked")
	ws.Import(ctx)
	res := ws.Move(ctx, []htmlstage.UID{"locked/a.html"}, "open")
	if !errors.Is(res.Err(), htmlstage.ErrPermissionDenied) {
		t.Errorf("move out of locked dir: %v", res.Err())
	}
	if got := readFile(t, root, "locked/a.html"); got != "a" {
		t.Error("denied move touched the file")
	}
	if ws.History().CanUndo() {
		t.Error("failed actions must not be recorded")
	}
}

func TestLocalFSRejectsEscapes(t *testing.T) {
	fsys, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"../x", "a/../../x", "/etc/passwd"} {
		if _, err := fsys.ReadFile(p); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("ReadFile(%q) = %v", p, err)
		}
	}
	if err := fsys.RemoveAll(""); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("RemoveAll(root) = %v", err)
	}
}

func TestFileStore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.html": "<p>a</p>"})
	fsys, _ := NewLocalFS(root)
	store := NewFileStore(fsys, "index.html")
	ctx := context.Background()

	text, err := store.Load(ctx)
	if err != nil || text != "<p>a</p>" {
		t.Fatalf("load = %q, %v", text, err)
	}
	if _, changed, _ := store.CheckExternal(); changed {
		t.Error("nothing changed yet")
	}
	if err := store.Save(ctx, "<p>b</p>"); err != nil {
		t.Fatal(err)
	}
	if _, changed, _ := store.CheckExternal(); changed {
		t.Error("our own save reported as an outside change")
	}

	writeFiles(t, root, map[string]string{"index.html": "<p>outside edit</p>"})
	text, changed, err := store.CheckExternal()
	if err != nil || !changed || text != "<p>outside edit</p>" {
		t.Errorf("check = %q %v %v", text, changed, err)
	}
}

func TestStoreDrivesSession(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"index.html": "<p>a</p>"})
	fsys, _ := NewLocalFS(root)
	s, err := htmlstage.OpenSession(context.Background(), "index.html", NewFileStore(fsys, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.RenameNode("1", "h1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, root, "index.html"); got != "<h1>a</h1>" {
		t.Errorf("saved = %q", got)
	}
}

func TestWatcherPolling(t *testing.T) {
	ws, root := newTestWorkspace(t, map[string]string{"index.html": "<p>a</p>"})
	store := NewFileStore(ws.FS(), "index.html")
	if _, err := store.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var docs []string
	w := NewWatcher(ws, root,
		WithForcePoll(true),
		WithPollInterval(10*time.Millisecond),
		WithDocument(store, func(text string) error {
			mu.Lock()
			docs = append(docs, text)
			mu.Unlock()
			return nil
		}),
	)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if !w.IsPolling() {
		t.Error("force poll ignored")
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start: %v", err)
	}

	writeFiles(t, root, map[string]string{"new.css": "", "index.html": "<p>changed outside</p>"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(docs)
		mu.Unlock()
		if ws.Tree().Has("new.css") && n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not pick up changes (docs %d)", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if docs[0] != "<p>changed outside</p>" {
		t.Errorf("document change = %q", docs[0])
	}
}

func TestWatcherSkipsConcurrentRefresh(t *testing.T) {
	ws, _ := newTestWorkspace(t, nil)
	w := NewWatcher(ws, "")
	if !w.sem.TryAcquire(1) {
		t.Fatal("semaphore busy")
	}
	if w.Refresh(context.Background()) {
		t.Error("refresh ran while another held the slot")
	}
	w.sem.Release(1)
	if !w.Refresh(context.Background()) {
		t.Error("refresh skipped with a free slot")
	}
}

func TestWatcherSkipsDuringFileAction(t *testing.T) {
	ws, _ := newTestWorkspace(t, nil)
	w := NewWatcher(ws, "")

	ws.mu.Lock()
	done := make(chan bool, 1)
	go func() { done <- w.Refresh(context.Background()) }()
	select {
	case ran := <-done:
		if ran {
			t.Error("refresh ran while a file action was pending")
		}
	case <-time.After(time.Second):
		t.Fatal("refresh waited for the pending file action")
	}
	ws.mu.Unlock()

	if !w.Refresh(context.Background()) {
		t.Error("refresh skipped with no action pending")
	}
}
