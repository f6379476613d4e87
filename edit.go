package htmlstage

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// ElementInfo is the reference data for one tag, consulted when adding nodes.
type ElementInfo struct {
	Tag         string
	DisplayName string
	Icon        string
	// Attrs is the attribute template applied to a newly added element.
	Attrs []html.Attribute
	// DefaultContent becomes the text child of a newly added container, or
	// the text of a newly added text or comment node.
	DefaultContent string
}

// ElementCatalog looks up reference data by tag name.
type ElementCatalog interface {
	ElementInfo(tag string) (ElementInfo, bool)
}

// Target is where copied or moved nodes go. When Between is false they are
// appended to Parent and Index is ignored.
type Target struct {
	Parent  UID
	Index   int
	Between bool
}

// Placement records where a node sits.
type Placement struct {
	UID      UID
	Position NodePosition
}

// Snapshot is a detached copy of a subtree together with the position it was
// captured from.
type Snapshot struct {
	Root     UID
	Position NodePosition
	Nodes    Tree
}

// Valid reports whether the snapshot root belongs to the valid projection.
func (s Snapshot) Valid() bool {
	n, ok := s.Nodes[s.Root]
	return ok && n.Data != nil && n.Data.IsValid()
}

// EditResult is returned by every structural edit.
type EditResult struct {
	// Tree is the edited copy. The input tree is never modified.
	Tree Tree
	// MaxUID is the allocator high-water mark after the edit.
	MaxUID int
	// Added lists the new top-level nodes in insertion order.
	Added []UID
	// Mapping maps source uids to the uids of their copies, descendants
	// included. It is set by duplicate and copy.
	Mapping map[UID]UID
	// Removed lists every uid taken out of the tree, descendants included.
	Removed []UID
	// Focus is the uid to focus after the edit, or empty to keep focus.
	Focus UID
	// Captured holds the subtrees a removal took out, for undo.
	Captured []Snapshot
	// Before and After are the positions of moved nodes around a move.
	Before []Placement
	After  []Placement
	Batch  BatchResult
}

// CaptureSnapshots copies the named subtrees out of t. Missing uids and the
// root are skipped, as are uids whose ancestor is also named.
func CaptureSnapshots(t Tree, uids []UID) []Snapshot {
	var out []Snapshot
	for _, uid := range topLevel(t, uids) {
		pos, ok := t.Position(uid)
		if !ok {
			continue
		}
		nodes := make(Tree)
		for _, u := range t.Subtree(uid) {
			nodes[u] = t[u].Clone()
		}
		nodes[uid].ParentUID = ""
		out = append(out, Snapshot{Root: uid, Position: pos, Nodes: nodes})
	}
	return out
}

// topLevel drops duplicates, the root, unknown uids and uids that have an
// ancestor in the same list, keeping request order.
func topLevel(t Tree, uids []UID) []UID {
	set := make(map[UID]bool, len(uids))
	for _, uid := range uids {
		set[uid] = true
	}
	seen := make(map[UID]bool, len(uids))
	var out []UID
	for _, uid := range uids {
		if seen[uid] || uid == RootUID || !t.Has(uid) {
			continue
		}
		seen[uid] = true
		covered := false
		for p := t[uid].ParentUID; p != "" && p != RootUID; p = t[p].ParentUID {
			if set[p] {
				covered = true
				break
			}
			if !t.Has(p) {
				break
			}
		}
		if !covered {
			out = append(out, uid)
		}
	}
	return out
}

// newNode builds a node for tag with the catalog's template applied. A
// container gets a text child carrying the default content.
func newNode(tag string, alloc *Allocator, catalog ElementCatalog) (*Node, *Node) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	var info ElementInfo
	if catalog != nil {
		info, _ = catalog.ElementInfo(tag)
	}

	switch tag {
	case TextName:
		text := info.DefaultContent
		if text == "" {
			text = "Text"
		}
		return &Node{
			UID:      alloc.Next(),
			Name:     TextName,
			IsEntity: true,
			Data:     &TextData{Text: text, Valid: true},
		}, nil
	case CommentName:
		return &Node{
			UID:      alloc.Next(),
			Name:     CommentName,
			IsEntity: true,
			Data:     &CommentData{Text: info.DefaultContent, Valid: true},
		}, nil
	}

	n := &Node{
		UID:      alloc.Next(),
		Name:     tag,
		IsEntity: elementIsEntity(tag),
		Data: &ElementData{
			Attrs: append([]html.Attribute(nil), info.Attrs...),
			Valid: true,
		},
	}
	if n.IsEntity || info.DefaultContent == "" {
		return n, nil
	}
	child := &Node{
		UID:       alloc.Next(),
		ParentUID: n.UID,
		Name:      TextName,
		IsEntity:  true,
		Data:      &TextData{Text: info.DefaultContent, Valid: true},
	}
	n.Children = []UID{child.UID}
	return n, child
}

// AddNode inserts a newly allocated node right after anchor in anchor's
// parent. When anchor is the root (or empty) the node is appended to the root.
func AddNode(t Tree, alloc *Allocator, catalog ElementCatalog, anchor UID, tag string) (res EditResult) {
	res = EditResult{Tree: t.Clone()}
	defer func() { res.MaxUID = alloc.Max() }()

	parent, index := RootUID, -1
	if anchor != "" && anchor != RootUID {
		pos, ok := res.Tree.Position(anchor)
		if !ok {
			res.Batch.fail(anchor, ErrNotFound)
			return res
		}
		parent, index = pos.Parent, pos.Index+1
	}
	if index < 0 {
		index = len(res.Tree[parent].Children)
	}

	n, child := newNode(tag, alloc, catalog)
	if child != nil {
		res.Tree[child.UID] = child
	}
	if err := res.Tree.Insert(parent, n, index); err != nil {
		if child != nil {
			delete(res.Tree, child.UID)
		}
		res.Batch.fail(n.UID, err)
		return res
	}
	res.Added = []UID{n.UID}
	res.Focus = n.UID
	res.Batch.ok(n.UID)
	return res
}

// RemoveNodes removes the named nodes and their subtrees. focused is the
// focus before the edit; Focus in the result is its replacement when the
// focused node was removed.
func RemoveNodes(t Tree, alloc *Allocator, uids []UID, focused UID) EditResult {
	res := EditResult{Tree: t.Clone(), MaxUID: alloc.Max()}
	res.Captured = CaptureSnapshots(t, uids)
	rr := res.Tree.Remove(uids, focused)
	res.Removed = rr.Removed
	res.Focus = rr.Focus
	res.Batch = rr.Batch
	return res
}

// DuplicateNodes clones each named node right after itself.
func DuplicateNodes(t Tree, alloc *Allocator, uids []UID) EditResult {
	res := EditResult{Tree: t.Clone()}
	dr := res.Tree.Duplicate(uids, alloc)
	res.MaxUID = alloc.Max()
	res.Added = dr.Roots
	res.Mapping = dr.Mapping
	res.Batch = dr.Batch
	if len(dr.Roots) > 0 {
		res.Focus = dr.Roots[len(dr.Roots)-1]
	}
	return res
}

// CopyNodes copies the named nodes of t to target within the same document.
func CopyNodes(t Tree, alloc *Allocator, uids []UID, target Target) EditResult {
	res := pasteSnapshots(t, alloc, CaptureSnapshots(t, uids), target, false)
	for _, uid := range uids {
		if !t.Has(uid) {
			res.Batch.fail(uid, ErrNotFound)
		}
	}
	return res
}

// CopyExternal copies snapshots captured from another document into t.
// Every copied node gets a fresh identifier from alloc, the destination's
// allocator. Snapshots outside the valid projection are rejected.
func CopyExternal(t Tree, alloc *Allocator, snaps []Snapshot, target Target) EditResult {
	return pasteSnapshots(t, alloc, snaps, target, true)
}

func pasteSnapshots(t Tree, alloc *Allocator, snaps []Snapshot, target Target, requireValid bool) (res EditResult) {
	res = EditResult{Tree: t.Clone(), Mapping: make(map[UID]UID)}
	defer func() { res.MaxUID = alloc.Max() }()

	if !res.Tree.canHoldChildren(target.Parent) {
		for _, s := range snaps {
			res.Batch.fail(s.Root, ErrInvalidParent)
		}
		return res
	}
	parent := res.Tree[target.Parent]
	index := len(parent.Children)
	if target.Between {
		index = clampIndex(target.Index, len(parent.Children))
	}

	for _, s := range snaps {
		if !s.Nodes.Has(s.Root) {
			res.Batch.fail(s.Root, ErrNotFound)
			continue
		}
		if requireValid && !s.Valid() {
			res.Batch.fail(s.Root, ErrInvalidSnapshot)
			continue
		}
		clone := res.Tree.cloneSubtree(s.Nodes, s.Root, alloc, res.Mapping)
		// The parent is a container, so Insert cannot fail.
		_ = res.Tree.Insert(target.Parent, clone, index)
		index++
		res.Added = append(res.Added, clone.UID)
		res.Batch.ok(s.Root)
	}
	if len(res.Added) > 0 {
		res.Focus = res.Added[len(res.Added)-1]
	}
	return res
}

// MoveNodes reparents the named nodes under target. A uid whose ancestor is
// also named is carried along with that ancestor.
func MoveNodes(t Tree, alloc *Allocator, uids []UID, target Target) EditResult {
	res := EditResult{Tree: t.Clone(), MaxUID: alloc.Max()}
	moving := topLevel(t, uids)
	for _, uid := range uids {
		if !t.Has(uid) {
			res.Batch.fail(uid, ErrNotFound)
		}
	}
	for _, uid := range moving {
		if pos, ok := t.Position(uid); ok {
			res.Before = append(res.Before, Placement{UID: uid, Position: pos})
		}
	}
	br := res.Tree.Reparent(moving, target.Parent, target.Index, target.Between)
	res.Batch.Processed = append(res.Batch.Processed, br.Processed...)
	res.Batch.Failures = append(res.Batch.Failures, br.Failures...)

	moved := make(map[UID]bool, len(br.Processed))
	for _, uid := range br.Processed {
		moved[uid] = true
		if pos, ok := res.Tree.Position(uid); ok {
			res.After = append(res.After, Placement{UID: uid, Position: pos})
		}
	}
	before := res.Before[:0]
	for _, p := range res.Before {
		if moved[p.UID] {
			before = append(before, p)
		}
	}
	res.Before = before
	if n := len(br.Processed); n > 0 {
		res.Focus = br.Processed[n-1]
	}
	return res
}

// RenameNode turns element uid into a tag element, keeping attributes and
// children. The entity flag follows the new tag; renaming a node with
// children to a void tag fails.
func RenameNode(t Tree, alloc *Allocator, uid UID, tag string) EditResult {
	res := EditResult{Tree: t.Clone(), MaxUID: alloc.Max()}
	tag = strings.ToLower(strings.TrimSpace(tag))
	n, ok := res.Tree[uid]
	switch {
	case !ok:
		res.Batch.fail(uid, ErrNotFound)
	case !n.IsElement() || tag == "" || strings.HasPrefix(tag, "#") || tag == DoctypeName:
		res.Batch.fail(uid, fmt.Errorf("rename %s to %q: %w", n.Name, tag, ErrInvalidParent))
	case elementIsEntity(tag) && len(n.Children) > 0:
		res.Batch.fail(uid, fmt.Errorf("rename %s to void %q: %w", n.Name, tag, ErrInvalidParent))
	default:
		n.Name = tag
		n.IsEntity = elementIsEntity(tag)
		res.Focus = uid
		res.Batch.ok(uid)
	}
	return res
}

// RestoreNodes re-inserts captured subtrees under their original identifiers
// at their recorded positions. Snapshots are placed in ascending index order
// so that positions recorded before a batch removal line up again.
func RestoreNodes(t Tree, alloc *Allocator, snaps []Snapshot) EditResult {
	res := EditResult{Tree: t.Clone()}
	ordered := append([]Snapshot(nil), snaps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position.Index < ordered[j].Position.Index
	})
	for _, s := range ordered {
		root, ok := s.Nodes[s.Root]
		if !ok {
			res.Batch.fail(s.Root, ErrNotFound)
			continue
		}
		clash := false
		for uid := range s.Nodes {
			if res.Tree.Has(uid) {
				clash = true
				break
			}
		}
		if clash {
			res.Batch.fail(s.Root, fmt.Errorf("restore %s: identifier in use: %w", s.Root, ErrInvalidParent))
			continue
		}
		if !res.Tree.canHoldChildren(s.Position.Parent) {
			res.Batch.fail(s.Root, ErrInvalidParent)
			continue
		}
		for uid, n := range s.Nodes {
			if uid != s.Root {
				res.Tree[uid] = n.Clone()
			}
			alloc.Observe(uidNumber(uid))
		}
		_ = res.Tree.Insert(s.Position.Parent, root.Clone(), s.Position.Index)
		res.Added = append(res.Added, s.Root)
		res.Batch.ok(s.Root)
	}
	if len(res.Added) > 0 {
		res.Focus = res.Added[len(res.Added)-1]
	}
	res.MaxUID = alloc.Max()
	return res
}

// RelocateNodes puts nodes back at recorded positions. All named nodes are
// detached first and then inserted in ascending index order.
func RelocateNodes(t Tree, alloc *Allocator, places []Placement) EditResult {
	res := EditResult{Tree: t.Clone(), MaxUID: alloc.Max()}
	var valid []Placement
	for _, p := range places {
		switch {
		case !res.Tree.Has(p.UID) || p.UID == RootUID:
			res.Batch.fail(p.UID, ErrNotFound)
		case !res.Tree.canHoldChildren(p.Position.Parent):
			res.Batch.fail(p.UID, ErrInvalidParent)
		case p.UID == p.Position.Parent || res.Tree.IsAncestor(p.UID, p.Position.Parent):
			res.Batch.fail(p.UID, ErrCycleRejected)
		default:
			valid = append(valid, p)
		}
	}
	for _, p := range valid {
		res.Tree.detach(p.UID)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Position.Index < valid[j].Position.Index
	})
	for _, p := range valid {
		_ = res.Tree.Insert(p.Position.Parent, res.Tree[p.UID], p.Position.Index)
		res.Batch.ok(p.UID)
	}
	if len(valid) > 0 {
		res.Focus = valid[len(valid)-1].UID
	}
	return res
}
