package workspace

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dannyswat/htmlstage"
	"github.com/dannyswat/htmlstage/internal/debug"
)

// FileNode is one file or directory. Its UID is the slash path relative to
// the workspace root; the root itself is htmlstage.RootUID.
type FileNode struct {
	UID      htmlstage.UID
	Parent   htmlstage.UID
	Name     string
	IsDir    bool
	Children []htmlstage.UID
}

// FileUID returns the uid of the workspace path p.
func FileUID(p string) htmlstage.UID {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return htmlstage.RootUID
	}
	return htmlstage.UID(p)
}

// FilePath returns the workspace path of uid.
func FilePath(uid htmlstage.UID) string {
	if uid == htmlstage.RootUID {
		return ""
	}
	return string(uid)
}

func childUID(parent htmlstage.UID, name string) htmlstage.UID {
	return FileUID(path.Join(FilePath(parent), name))
}

// FileTree is the imported view of the workspace together with its own view
// state. Only the root and expanded directories are read from disk; collapsed
// directories keep the children they had when last read.
type FileTree struct {
	fs FS

	mu    sync.RWMutex
	nodes map[htmlstage.UID]*FileNode
	view  htmlstage.ViewState
}

// NewFileTree returns an empty tree over fsys. Call Import to read it.
func NewFileTree(fsys FS) *FileTree {
	return &FileTree{
		fs: fsys,
		nodes: map[htmlstage.UID]*FileNode{
			htmlstage.RootUID: {UID: htmlstage.RootUID, IsDir: true},
		},
	}
}

// FS returns the underlying file system.
func (t *FileTree) FS() FS {
	return t.fs
}

// Node returns a copy of the node at uid.
func (t *FileTree) Node(uid htmlstage.UID) (FileNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[uid]
	if !ok {
		return FileNode{}, false
	}
	c := *n
	c.Children = append([]htmlstage.UID(nil), n.Children...)
	return c, true
}

// Has reports whether uid is in the tree.
func (t *FileTree) Has(uid htmlstage.UID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[uid]
	return ok
}

// Len returns the number of nodes, the root included.
func (t *FileTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// View returns a copy of the file tree's view state.
func (t *FileTree) View() htmlstage.ViewState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.view.Clone()
}

// Focus focuses uid.
func (t *FileTree) Focus(uid htmlstage.UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[uid]; !ok && uid != "" {
		return false
	}
	return t.view.Focus(uid)
}

// Select replaces the selection with the known uids among uids.
func (t *FileTree) Select(uids []htmlstage.UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view.SelectMany(uids, func(u htmlstage.UID) bool {
		_, ok := t.nodes[u]
		return ok
	})
}

// Expand marks a directory expanded so that the next Import reads it.
func (t *FileTree) Expand(uid htmlstage.UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[uid]; !ok || !n.IsDir {
		return false
	}
	return t.view.Expand(uid)
}

// Collapse unmarks a directory.
func (t *FileTree) Collapse(uid htmlstage.UID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view.Collapse(uid)
}

type dirResult struct {
	dir     htmlstage.UID
	entries []Entry
}

// Import reads the root and every expanded directory, level by level, and
// replaces the tree. It returns the uids that disappeared; they have already
// been reconciled out of the view state.
func (t *FileTree) Import(ctx context.Context) ([]htmlstage.UID, error) {
	defer debug.LogEnterExit("workspace: import")()
	if err := t.fs.Access("", false); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}

	t.mu.RLock()
	old := t.nodes
	expanded := t.view.Clone().Expanded
	t.mu.RUnlock()

	next := map[htmlstage.UID]*FileNode{
		htmlstage.RootUID: {UID: htmlstage.RootUID, IsDir: true},
	}
	level := []htmlstage.UID{htmlstage.RootUID}
	read := map[htmlstage.UID]bool{}
	for len(level) > 0 {
		results := make([]dirResult, len(level))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(16)
		for i, dir := range level {
			i, dir := i, dir
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				entries, err := t.fs.ReadDir(FilePath(dir))
				if err != nil {
					return fmt.Errorf("reading %s: %w", FilePath(dir), err)
				}
				results[i] = dirResult{dir: dir, entries: entries}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		level = nil
		for _, r := range results {
			read[r.dir] = true
			sortEntries(r.entries)
			parent := next[r.dir]
			parent.Children = parent.Children[:0]
			for _, e := range r.entries {
				uid := childUID(r.dir, e.Name)
				next[uid] = &FileNode{UID: uid, Parent: r.dir, Name: e.Name, IsDir: e.IsDir}
				parent.Children = append(parent.Children, uid)
				if e.IsDir && expanded.Has(uid) {
					level = append(level, uid)
				}
			}
		}
	}

	// Collapsed directories keep the subtree they had.
	var collapsed []htmlstage.UID
	for uid, n := range next {
		if n.IsDir && !read[uid] {
			collapsed = append(collapsed, uid)
		}
	}
	for _, uid := range collapsed {
		keepSubtree(old, next, uid)
	}

	var deleted []htmlstage.UID
	for uid := range old {
		if _, ok := next[uid]; !ok {
			deleted = append(deleted, uid)
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })

	t.mu.Lock()
	t.nodes = next
	t.view.ReconcileDeleted(deleted)
	t.mu.Unlock()
	debug.LogIf(len(deleted) > 0, "workspace: %d entries gone", len(deleted))
	return deleted, nil
}

func keepSubtree(old, next map[htmlstage.UID]*FileNode, uid htmlstage.UID) {
	prev, ok := old[uid]
	if !ok || !prev.IsDir {
		return
	}
	next[uid].Children = append([]htmlstage.UID(nil), prev.Children...)
	for _, c := range prev.Children {
		if n, ok := old[c]; ok {
			cp := *n
			next[c] = &cp
			keepSubtree(old, next, c)
		}
	}
}

// sortEntries orders directories first, then by name.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
}

// Walk visits the tree depth-first in display order.
func (t *FileTree) Walk(fn func(n FileNode, depth int)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var walk func(uid htmlstage.UID, depth int)
	walk = func(uid htmlstage.UID, depth int) {
		n, ok := t.nodes[uid]
		if !ok {
			return
		}
		fn(*n, depth)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(htmlstage.RootUID, 0)
}

// remap carries view state across renames and moves: every uid at or below
// a moved path is rewritten to its new path.
func (t *FileTree) remap(moves []Move) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mapping := map[htmlstage.UID]htmlstage.UID{}
	for uid := range t.nodes {
		p := FilePath(uid)
		for _, m := range moves {
			if isWithin(p, m.From) {
				mapping[uid] = FileUID(m.To + strings.TrimPrefix(p, m.From))
				break
			}
		}
	}
	t.view.ReconcileRemap(mapping)
}
