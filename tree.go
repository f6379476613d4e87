package htmlstage

import (
	"fmt"
	"sort"
)

// Tree is the node collection of one document keyed by uid. The root is
// stored under RootUID. Tree methods mutate in place; edit operations clone
// the tree first so readers never observe a half-applied change.
type Tree map[UID]*Node

// NewTree returns a tree holding only the document root.
func NewTree() Tree {
	return Tree{
		RootUID: {
			UID:  RootUID,
			Name: DocumentName,
			Data: &ElementData{Valid: true},
		},
	}
}

// Clone returns a deep copy of t.
func (t Tree) Clone() Tree {
	c := make(Tree, len(t))
	for uid, n := range t {
		c[uid] = n.Clone()
	}
	return c
}

// Root returns the root node, or nil if t is empty.
func (t Tree) Root() *Node {
	return t[RootUID]
}

// Has reports whether uid is in t.
func (t Tree) Has(uid UID) bool {
	_, ok := t[uid]
	return ok
}

// MaxUID returns the highest numeric identifier in t.
func (t Tree) MaxUID() int {
	max := 0
	for uid := range t {
		if n := uidNumber(uid); n > max {
			max = n
		}
	}
	return max
}

// IsAncestor reports whether ancestor is a proper ancestor of uid.
func (t Tree) IsAncestor(ancestor, uid UID) bool {
	n, ok := t[uid]
	if !ok {
		return false
	}
	for p := n.ParentUID; p != ""; {
		if p == ancestor {
			return true
		}
		pn, ok := t[p]
		if !ok {
			return false
		}
		p = pn.ParentUID
	}
	return false
}

// Subtree returns uid followed by all of its descendants in document order.
func (t Tree) Subtree(uid UID) []UID {
	var out []UID
	var walk func(UID)
	walk = func(u UID) {
		n, ok := t[u]
		if !ok {
			return
		}
		out = append(out, u)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(uid)
	return out
}

// Walk visits every node reachable from the root in document order.
func (t Tree) Walk(fn func(n *Node, depth int)) {
	var walk func(UID, int)
	walk = func(u UID, depth int) {
		n, ok := t[u]
		if !ok {
			return
		}
		fn(n, depth)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(RootUID, 0)
}

// Position returns where uid currently sits in its parent.
func (t Tree) Position(uid UID) (NodePosition, bool) {
	n, ok := t[uid]
	if !ok || n.ParentUID == "" {
		return NodePosition{}, false
	}
	p, ok := t[n.ParentUID]
	if !ok {
		return NodePosition{}, false
	}
	return NodePosition{Parent: p.UID, Index: p.childIndex(uid)}, true
}

// canHoldChildren reports whether uid exists and is a container.
func (t Tree) canHoldChildren(uid UID) bool {
	n, ok := t[uid]
	return ok && !n.IsEntity
}

func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

// Insert places node under parentUID at index, clamped into the valid range.
// The node's own children must already be present in t (or be inserted
// afterwards by the caller).
func (t Tree) Insert(parentUID UID, node *Node, index int) error {
	if !t.canHoldChildren(parentUID) {
		return fmt.Errorf("insert %s under %s: %w", node.UID, parentUID, ErrInvalidParent)
	}
	parent := t[parentUID]
	index = clampIndex(index, len(parent.Children))
	children := make([]UID, 0, len(parent.Children)+1)
	children = append(children, parent.Children[:index]...)
	children = append(children, node.UID)
	children = append(children, parent.Children[index:]...)
	parent.Children = children
	node.ParentUID = parentUID
	t[node.UID] = node
	return nil
}

// RemoveResult reports what Remove took out of the tree.
type RemoveResult struct {
	// Removed holds every removed uid, descendants included, in document order.
	Removed []UID
	// Focus is the nearest surviving sibling or ancestor of a removed node that
	// contained the previous focus, or empty.
	Focus UID
	Batch BatchResult
}

// Remove deletes each named node with its subtree. Unknown uids and the root
// are per-item failures; a uid already taken out with an earlier ancestor in
// the same call is skipped. focused is the uid focused before the removal.
func (t Tree) Remove(uids []UID, focused UID) RemoveResult {
	var res RemoveResult
	gone := make(map[UID]bool)
	var slot *focusSlot
	for _, uid := range uids {
		n, ok := t[uid]
		if !ok {
			if !gone[uid] {
				res.Batch.fail(uid, ErrNotFound)
			}
			continue
		}
		if uid == RootUID {
			res.Batch.fail(uid, ErrInvalidParent)
			continue
		}
		if slot == nil && focused != "" && (focused == uid || t.IsAncestor(uid, focused)) {
			slot = t.slotOf(n)
		}

		if parent := t[n.ParentUID]; parent != nil {
			if index := parent.childIndex(uid); index >= 0 {
				parent.Children = append(append([]UID(nil), parent.Children[:index]...), parent.Children[index+1:]...)
			}
		}
		sub := t.Subtree(uid)
		for _, u := range sub {
			delete(t, u)
			gone[u] = true
		}
		res.Removed = append(res.Removed, sub...)
		res.Batch.ok(uid)
	}
	if slot != nil {
		res.Focus = slot.survivor(t)
	}
	return res
}

// focusSlot remembers where a removed node holding the focus used to sit.
type focusSlot struct {
	siblings  []UID
	index     int
	ancestors []UID
}

func (t Tree) slotOf(n *Node) *focusSlot {
	s := &focusSlot{index: -1}
	if parent := t[n.ParentUID]; parent != nil {
		s.siblings = append([]UID(nil), parent.Children...)
		s.index = parent.childIndex(n.UID)
	}
	for p := n.ParentUID; p != "" && p != RootUID; {
		s.ancestors = append(s.ancestors, p)
		pn, ok := t[p]
		if !ok {
			break
		}
		p = pn.ParentUID
	}
	return s
}

// survivor picks the nearest previous sibling still in t, then the nearest
// next one, then the closest surviving ancestor below the root.
func (s *focusSlot) survivor(t Tree) UID {
	if s.index >= 0 {
		for i := s.index - 1; i >= 0; i-- {
			if t.Has(s.siblings[i]) {
				return s.siblings[i]
			}
		}
		for i := s.index + 1; i < len(s.siblings); i++ {
			if t.Has(s.siblings[i]) {
				return s.siblings[i]
			}
		}
	}
	for _, a := range s.ancestors {
		if t.Has(a) {
			return a
		}
	}
	return ""
}

// detach unlinks uid from its parent without deleting its subtree.
func (t Tree) detach(uid UID) (NodePosition, bool) {
	pos, ok := t.Position(uid)
	if !ok || pos.Index < 0 {
		return NodePosition{}, false
	}
	p := t[pos.Parent]
	p.Children = append(append([]UID(nil), p.Children[:pos.Index]...), p.Children[pos.Index+1:]...)
	return pos, true
}

// Reparent moves each named node with its subtree under target. When
// betweenSiblings is false the nodes are appended; otherwise they end up
// consecutively starting at index of the target's children list as it is once
// the moved nodes have been taken out, so moving a node back to the position
// it was read from restores the tree. Nodes that are missing, the root, or an
// ancestor of target are per-item failures.
func (t Tree) Reparent(uids []UID, target UID, index int, betweenSiblings bool) BatchResult {
	var res BatchResult
	tn, ok := t[target]
	if !ok || tn.IsEntity {
		for _, uid := range uids {
			res.fail(uid, ErrInvalidParent)
		}
		return res
	}

	var moving []UID
	seen := make(map[UID]bool, len(uids))
	for _, uid := range uids {
		switch {
		case seen[uid]:
			continue
		case !t.Has(uid):
			res.fail(uid, ErrNotFound)
		case uid == RootUID:
			res.fail(uid, ErrInvalidParent)
		case uid == target || t.IsAncestor(uid, target):
			res.fail(uid, ErrCycleRejected)
		default:
			seen[uid] = true
			moving = append(moving, uid)
		}
	}
	for _, uid := range moving {
		t.detach(uid)
	}
	if !betweenSiblings {
		index = len(tn.Children)
	}
	index = clampIndex(index, len(tn.Children))
	for i, uid := range moving {
		// target is a container and exists, so Insert cannot fail here.
		_ = t.Insert(target, t[uid], index+i)
		res.ok(uid)
	}
	return res
}

// DuplicateResult reports the clones made by Duplicate.
type DuplicateResult struct {
	// Mapping maps every cloned original uid, descendants included, to its clone.
	Mapping map[UID]UID
	// Roots lists the clone of each requested uid in request order.
	Roots []UID
	Batch BatchResult
}

// Duplicate deep-clones each named node next to its original, allocating a
// fresh identifier for every cloned node.
func (t Tree) Duplicate(uids []UID, alloc *Allocator) DuplicateResult {
	res := DuplicateResult{Mapping: make(map[UID]UID)}
	for _, uid := range uids {
		pos, ok := t.Position(uid)
		if !ok {
			if uid == RootUID {
				res.Batch.fail(uid, ErrInvalidParent)
			} else {
				res.Batch.fail(uid, ErrNotFound)
			}
			continue
		}
		clone := t.cloneSubtree(t, uid, alloc, res.Mapping)
		if err := t.Insert(pos.Parent, clone, pos.Index+1); err != nil {
			res.Batch.fail(uid, err)
			continue
		}
		res.Roots = append(res.Roots, clone.UID)
		res.Batch.ok(uid)
	}
	return res
}

// cloneSubtree copies uid and its descendants from src into t under fresh
// identifiers. The returned root clone is not linked into any parent; its
// descendants are stored in t already.
func (t Tree) cloneSubtree(src Tree, uid UID, alloc *Allocator, mapping map[UID]UID) *Node {
	orig := src[uid]
	c := orig.Clone()
	c.UID = alloc.Next()
	c.ParentUID = ""
	mapping[uid] = c.UID
	c.Children = make([]UID, 0, len(orig.Children))
	for _, child := range orig.Children {
		if !src.Has(child) {
			continue
		}
		cc := t.cloneSubtree(src, child, alloc, mapping)
		cc.ParentUID = c.UID
		t[cc.UID] = cc
		c.Children = append(c.Children, cc.UID)
	}
	return c
}

// DeriveValid returns the valid projection of t: the nodes reachable from
// the root through valid nodes, with children lists filtered accordingly.
func (t Tree) DeriveValid() Tree {
	out := make(Tree)
	root, ok := t[RootUID]
	if !ok {
		return out
	}
	var walk func(n *Node)
	walk = func(n *Node) {
		c := n.Clone()
		c.Children = c.Children[:0]
		out[c.UID] = c
		for _, uid := range n.Children {
			child, ok := t[uid]
			if !ok || child.ParentUID != n.UID || child.Data == nil || !child.Data.IsValid() {
				continue
			}
			c.Children = append(c.Children, uid)
			walk(child)
		}
	}
	walk(root)
	return out
}

// Check verifies the tree invariants: a root exists, parent links and
// children lists agree, every node is reachable and uids are unique.
func (t Tree) Check() error {
	if t.Root() == nil {
		return fmt.Errorf("missing root: %w", ErrNotFound)
	}
	seen := make(map[UID]bool, len(t))
	var walk func(UID) error
	walk = func(u UID) error {
		if seen[u] {
			return fmt.Errorf("node %s reached twice", u)
		}
		seen[u] = true
		n := t[u]
		for _, c := range n.Children {
			cn, ok := t[c]
			if !ok {
				return fmt.Errorf("node %s lists missing child %s", u, c)
			}
			if cn.ParentUID != u {
				return fmt.Errorf("child %s of %s has parent %s", c, u, cn.ParentUID)
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(RootUID); err != nil {
		return err
	}
	if len(seen) != len(t) {
		var orphans []string
		for uid := range t {
			if !seen[uid] {
				orphans = append(orphans, string(uid))
			}
		}
		sort.Strings(orphans)
		return fmt.Errorf("unreachable nodes: %v", orphans)
	}
	return nil
}

// Equal reports whether a and b hold the same nodes with the same structure
// and payload. Source ranges are ignored.
func Equal(a, b Tree) bool {
	if len(a) != len(b) {
		return false
	}
	for uid, na := range a {
		nb, ok := b[uid]
		if !ok || !sameNode(na, nb) {
			return false
		}
		if na.ParentUID != nb.ParentUID || len(na.Children) != len(nb.Children) {
			return false
		}
		for i := range na.Children {
			if na.Children[i] != nb.Children[i] {
				return false
			}
		}
	}
	return true
}

// Isomorphic reports whether the subtree at ua in a has the same shape, names
// and payload as the subtree at ub in b. Identifiers and ranges are ignored.
func Isomorphic(a Tree, ua UID, b Tree, ub UID) bool {
	na, okA := a[ua]
	nb, okB := b[ub]
	if !okA || !okB || !sameNode(na, nb) || len(na.Children) != len(nb.Children) {
		return false
	}
	for i := range na.Children {
		if !Isomorphic(a, na.Children[i], b, nb.Children[i]) {
			return false
		}
	}
	return true
}

// sameNode compares name, entity flag and payload, ignoring identifiers and
// source ranges.
func sameNode(a, b *Node) bool {
	if a.Name != b.Name || a.IsEntity != b.IsEntity {
		return false
	}
	switch da := a.Data.(type) {
	case *ElementData:
		db, ok := b.Data.(*ElementData)
		if !ok || da.Valid != db.Valid || len(da.Attrs) != len(db.Attrs) {
			return false
		}
		for i := range da.Attrs {
			if da.Attrs[i] != db.Attrs[i] {
				return false
			}
		}
		return true
	case *TextData:
		db, ok := b.Data.(*TextData)
		return ok && da.Text == db.Text && da.Valid == db.Valid
	case *CommentData:
		db, ok := b.Data.(*CommentData)
		return ok && da.Text == db.Text && da.Valid == db.Valid
	case nil:
		return b.Data == nil
	default:
		return false
	}
}
