package workspace

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/dannyswat/htmlstage"
	"github.com/dannyswat/htmlstage/internal/debug"
)

// ErrInvalidName indicates an empty name or one containing a path separator.
var ErrInvalidName = errors.New("invalid file name")

// Workspace runs file actions against the disk and keeps the file tree and
// its undo log in step. Actions are serialized.
type Workspace struct {
	fs      FS
	tree    *FileTree
	history *htmlstage.History

	mu sync.Mutex
}

// New returns a workspace over fsys. historyLimit bounds the undo log; zero
// means unbounded.
func New(fsys FS, historyLimit int) *Workspace {
	w := &Workspace{fs: fsys, tree: NewFileTree(fsys)}
	w.history = htmlstage.NewHistory(w, historyLimit)
	return w
}

// Tree returns the file tree.
func (w *Workspace) Tree() *FileTree { return w.tree }

// History returns the file-action undo log.
func (w *Workspace) History() *htmlstage.History { return w.history }

// FS returns the file system.
func (w *Workspace) FS() FS { return w.fs }

// Import re-reads the tree from disk.
func (w *Workspace) Import(ctx context.Context) ([]htmlstage.UID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree.Import(ctx)
}

// TryImport is Import unless a file action is pending, in which case it does
// nothing and reports false.
func (w *Workspace) TryImport(ctx context.Context) ([]htmlstage.UID, bool, error) {
	if !w.mu.TryLock() {
		return nil, false, nil
	}
	defer w.mu.Unlock()
	deleted, err := w.tree.Import(ctx)
	return deleted, true, err
}

// Undo reverts the last file action.
func (w *Workspace) Undo(ctx context.Context) error {
	_, err := w.history.Undo(ctx)
	return err
}

// Redo re-applies the last undone file action.
func (w *Workspace) Redo(ctx context.Context) error {
	_, err := w.history.Redo(ctx)
	return err
}

// Replay implements htmlstage.Replayer.
func (w *Workspace) Replay(ctx context.Context, a htmlstage.Action) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.apply(ctx, a)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// dirOf returns the directory to create children in: uid itself when it is a
// directory, its parent otherwise.
func (w *Workspace) dirOf(uid htmlstage.UID) (htmlstage.UID, error) {
	n, ok := w.tree.Node(uid)
	if !ok {
		return "", fmt.Errorf("%s: %w", uid, htmlstage.ErrNotFound)
	}
	if n.IsDir {
		return uid, nil
	}
	return n.Parent, nil
}

// Create makes an empty file or directory named name inside parent (or next
// to parent when it is a file).
func (w *Workspace) Create(ctx context.Context, parent htmlstage.UID, name string, dir bool) (htmlstage.UID, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	p, err := w.dirOf(parent)
	if err != nil {
		return "", err
	}
	target := path.Join(FilePath(p), name)
	if exists(w.fs, target) {
		return "", fmt.Errorf("%s: %w", target, ErrExists)
	}
	a := &FileCreate{Entries: []Captured{{Path: target, IsDir: dir}}}
	if err := w.apply(ctx, a); err != nil {
		return "", err
	}
	w.history.Record(a)
	uid := FileUID(target)
	w.tree.Focus(uid)
	return uid, nil
}

// Delete removes entries. Their content is captured first so that undo can
// restore it.
func (w *Workspace) Delete(ctx context.Context, uids []htmlstage.UID) htmlstage.BatchResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	var res htmlstage.BatchResult
	a := &FileDelete{}
	for _, uid := range topLevel(uids) {
		if uid == htmlstage.RootUID {
			res.Failures = append(res.Failures, htmlstage.ItemError{UID: uid, Err: ErrOutsideRoot})
			continue
		}
		caps, err := capture(w.fs, FilePath(uid))
		if err != nil {
			res.Failures = append(res.Failures, htmlstage.ItemError{UID: uid, Err: err})
			continue
		}
		one := &FileDelete{Entries: caps}
		if err := w.apply(ctx, one); err != nil {
			res.Failures = append(res.Failures, htmlstage.ItemError{UID: uid, Err: err})
			continue
		}
		a.Entries = append(a.Entries, caps...)
		res.Processed = append(res.Processed, uid)
	}
	if len(res.Processed) > 0 {
		w.history.Record(a)
	}
	return res
}

// Rename gives uid a new name in the same directory.
func (w *Workspace) Rename(ctx context.Context, uid htmlstage.UID, name string) (htmlstage.UID, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	n, ok := w.tree.Node(uid)
	if !ok || uid == htmlstage.RootUID {
		return "", fmt.Errorf("%s: %w", uid, htmlstage.ErrNotFound)
	}
	if n.Name == name {
		return uid, nil
	}
	a := &FileRename{From: FilePath(uid), To: path.Join(FilePath(n.Parent), name)}
	if err := w.apply(ctx, a); err != nil {
		return "", err
	}
	w.history.Record(a)
	return FileUID(a.To), nil
}

// Move cuts entries and pastes them into target.
func (w *Workspace) Move(ctx context.Context, uids []htmlstage.UID, target htmlstage.UID) htmlstage.BatchResult {
	return w.relocate(ctx, uids, target, false)
}

// Copy copies entries into target. A name that is taken gets a " copy"
// suffix.
func (w *Workspace) Copy(ctx context.Context, uids []htmlstage.UID, target htmlstage.UID) htmlstage.BatchResult {
	return w.relocate(ctx, uids, target, true)
}

func (w *Workspace) relocate(ctx context.Context, uids []htmlstage.UID, target htmlstage.UID, copying bool) htmlstage.BatchResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	var res htmlstage.BatchResult
	fail := func(uid htmlstage.UID, err error) {
		res.Failures = append(res.Failures, htmlstage.ItemError{UID: uid, Err: err})
	}
	dir, err := w.dirOf(target)
	if err != nil {
		for _, uid := range uids {
			fail(uid, err)
		}
		return res
	}

	var moves []Move
	for _, uid := range topLevel(uids) {
		n, ok := w.tree.Node(uid)
		switch {
		case !ok || uid == htmlstage.RootUID:
			fail(uid, htmlstage.ErrNotFound)
			continue
		case isWithin(FilePath(dir), FilePath(uid)) && n.IsDir:
			fail(uid, htmlstage.ErrCycleRejected)
			continue
		case !copying && n.Parent == dir:
			// Already there.
			res.Processed = append(res.Processed, uid)
			continue
		}
		to := path.Join(FilePath(dir), n.Name)
		if copying {
			to = w.freeName(to, moves)
		} else if exists(w.fs, to) {
			fail(uid, fmt.Errorf("%s: %w", to, ErrExists))
			continue
		}
		moves = append(moves, Move{From: FilePath(uid), To: to})
		res.Processed = append(res.Processed, uid)
	}
	if len(moves) == 0 {
		return res
	}

	var a htmlstage.Action
	if copying {
		a = &FileCopy{Moves: moves}
	} else {
		a = &FileMove{Moves: moves}
	}
	if err := w.apply(ctx, a); err != nil {
		res.Processed = nil
		for _, m := range moves {
			fail(FileUID(m.From), err)
		}
		return res
	}
	w.history.Record(a)
	return res
}

// freeName returns p, or p with a " copy" suffix before the extension when p
// is taken on disk or by an earlier move of the same batch.
func (w *Workspace) freeName(p string, pending []Move) string {
	taken := func(c string) bool {
		if exists(w.fs, c) {
			return true
		}
		for _, m := range pending {
			if m.To == c {
				return true
			}
		}
		return false
	}
	if !taken(p) {
		return p
	}
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		c := base + " copy" + ext
		if i > 1 {
			c = fmt.Sprintf("%s copy %d%s", base, i, ext)
		}
		if !taken(c) {
			return c
		}
	}
}

// apply performs a on disk, then updates the tree. The caller holds w.mu.
func (w *Workspace) apply(ctx context.Context, a htmlstage.Action) error {
	defer debug.LogEnterExit("workspace: " + string(a.Kind()))()

	var remap []Move
	switch a := a.(type) {
	case *FileCreate:
		for _, e := range a.Entries {
			if err := w.writable(path.Dir(e.Path)); err != nil {
				return err
			}
			var err error
			if e.IsDir {
				err = w.fs.Mkdir(e.Path)
			} else if exists(w.fs, e.Path) {
				err = fmt.Errorf("%s: %w", e.Path, ErrExists)
			} else {
				err = w.fs.WriteFile(e.Path, e.Data)
			}
			if err != nil {
				return fmt.Errorf("create %s: %w", e.Path, err)
			}
		}
	case *FileDelete:
		for _, root := range a.Roots() {
			if err := w.writable(path.Dir(root)); err != nil {
				return err
			}
			if err := w.fs.RemoveAll(root); err != nil {
				return fmt.Errorf("delete %s: %w", root, err)
			}
		}
	case *FileRename:
		if err := w.move(a.From, a.To); err != nil {
			return err
		}
		remap = []Move{{From: a.From, To: a.To}}
	case *FileMove:
		for _, m := range a.Moves {
			if err := w.move(m.From, m.To); err != nil {
				return err
			}
		}
		remap = a.Moves
	case *FileCopy:
		a.Copies = nil
		for _, m := range a.Moves {
			if err := w.writable(path.Dir(m.To)); err != nil {
				return err
			}
			if err := copyTree(w.fs, m.From, m.To); err != nil {
				return fmt.Errorf("copy %s: %w", m.From, err)
			}
			caps, err := capture(w.fs, m.To)
			if err != nil {
				return err
			}
			a.Copies = append(a.Copies, caps...)
		}
	default:
		return fmt.Errorf("workspace: unsupported action %T", a)
	}

	if len(remap) > 0 {
		w.tree.remap(remap)
	}
	_, err := w.tree.Import(ctx)
	return err
}

func (w *Workspace) move(from, to string) error {
	if err := w.writable(path.Dir(from)); err != nil {
		return err
	}
	if err := w.writable(path.Dir(to)); err != nil {
		return err
	}
	if err := w.fs.Rename(from, to); err != nil {
		return fmt.Errorf("move %s: %w", from, err)
	}
	return nil
}

func (w *Workspace) writable(dir string) error {
	if dir == "." {
		dir = ""
	}
	return w.fs.Access(dir, true)
}

// topLevel drops uids that lie inside another uid of the list.
func topLevel(uids []htmlstage.UID) []htmlstage.UID {
	var out []htmlstage.UID
	seen := make(map[htmlstage.UID]bool, len(uids))
	for _, u := range uids {
		if seen[u] {
			continue
		}
		seen[u] = true
		nested := false
		for _, o := range uids {
			if o != u && (o == htmlstage.RootUID || isWithin(FilePath(u), FilePath(o))) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, u)
		}
	}
	return out
}
