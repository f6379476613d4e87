package htmlstage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Diff calculates the operations needed to transform 'oldHTML' into 'newHTML'.
func Diff(oldHTML, newHTML, author string) (*Delta, error) {
	oldDoc, err := ParseHTML(oldHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse old HTML: %w", err)
	}
	newDoc, err := ParseHTML(newHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse new HTML: %w", err)
	}

	ops, err := diffNodes(oldDoc, oldDoc.Root(), newDoc, newDoc.Root(), NodePath{})
	if err != nil {
		return nil, err
	}
	return &Delta{
		BaseHash:   hashString(oldHTML),
		Operations: ops,
		Timestamp:  time.Now().Unix(),
		Author:     author,
	}, nil
}

// DiffTrees is Diff over trees that are already parsed. The base hash is taken
// over the serialization of oldTree.
func DiffTrees(oldTree, newTree Tree, author string) (*Delta, error) {
	if oldTree.Root() == nil || newTree.Root() == nil {
		return nil, fmt.Errorf("diff: %w", ErrNotFound)
	}
	base, err := HTMLParser{}.Serialize(oldTree)
	if err != nil {
		return nil, err
	}
	ops, err := diffNodes(oldTree, oldTree.Root(), newTree, newTree.Root(), NodePath{})
	if err != nil {
		return nil, err
	}
	return &Delta{
		BaseHash:   hashString(base),
		Operations: ops,
		Timestamp:  time.Now().Unix(),
		Author:     author,
	}, nil
}

func hashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// Operations are generated to be applied in order: every path is resolved
// against the tree as left by the operations before it. Children are matched
// by index, so a replaced node at the same index keeps the indices of its
// siblings stable.

// diffNodes compares two nodes that sit at the same path.
func diffNodes(oldTree Tree, oldNode *Node, newTree Tree, newNode *Node, path NodePath) ([]Operation, error) {
	var ops []Operation

	switch od := oldNode.Data.(type) {
	case *ElementData:
		nd := newNode.Data.(*ElementData)
		ops = append(ops, diffAttributes(od, nd, path)...)
	case *TextData:
		nd := newNode.Data.(*TextData)
		ops = append(ops, diffText(od.Text, nd.Text, path)...)
	case *CommentData:
		nd := newNode.Data.(*CommentData)
		if od.Text != nd.Text {
			ops = append(ops, Operation{
				Type:     OpUpdateText,
				Path:     path,
				OldValue: od.Text,
				NewValue: nd.Text,
			})
		}
	}

	childOps, err := diffChildren(oldTree, oldNode, newTree, newNode, path)
	if err != nil {
		return nil, err
	}
	return append(ops, childOps...), nil
}

// sameKind reports whether b can be reached from a by in-place edits: same
// name and same payload variant.
func sameKind(a, b *Node) bool {
	if a.Name != b.Name {
		return false
	}
	switch a.Data.(type) {
	case *ElementData:
		_, ok := b.Data.(*ElementData)
		return ok
	case *TextData:
		_, ok := b.Data.(*TextData)
		return ok
	case *CommentData:
		_, ok := b.Data.(*CommentData)
		return ok
	}
	return false
}

// diffText narrows a text change to the runes between the common prefix and
// the common suffix, emitting a delete and/or an insert at that offset.
func diffText(oldText, newText string, path NodePath) []Operation {
	if oldText == newText {
		return nil
	}
	o, n := []rune(oldText), []rune(newText)
	prefix := 0
	for prefix < len(o) && prefix < len(n) && o[prefix] == n[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(o)-prefix && suffix < len(n)-prefix && o[len(o)-1-suffix] == n[len(n)-1-suffix] {
		suffix++
	}

	var ops []Operation
	if deleted := o[prefix : len(o)-suffix]; len(deleted) > 0 {
		ops = append(ops, Operation{
			Type:     OpDeleteText,
			Path:     path,
			Position: prefix,
			OldValue: string(deleted),
		})
	}
	if inserted := n[prefix : len(n)-suffix]; len(inserted) > 0 {
		ops = append(ops, Operation{
			Type:     OpInsertText,
			Path:     path,
			Position: prefix,
			NewValue: string(inserted),
		})
	}
	return ops
}

// diffAttributes walks both attribute lists in order so the emitted
// operations are deterministic.
func diffAttributes(oldData, newData *ElementData, path NodePath) []Operation {
	var ops []Operation

	// Updates and removals.
	for _, a := range oldData.Attrs {
		vNew, exists := newData.Attr(a.Key)
		if !exists {
			ops = append(ops, Operation{
				Type:     OpRemoveAttr,
				Path:     path,
				Key:      a.Key,
				OldValue: a.Val,
			})
		} else if a.Val != vNew {
			ops = append(ops, Operation{
				Type:     OpUpdateAttr,
				Path:     path,
				Key:      a.Key,
				OldValue: a.Val,
				NewValue: vNew,
			})
		}
	}

	// Additions.
	for _, a := range newData.Attrs {
		if _, exists := oldData.Attr(a.Key); !exists {
			ops = append(ops, Operation{
				Type:     OpUpdateAttr,
				Path:     path,
				Key:      a.Key,
				NewValue: a.Val,
			})
		}
	}
	return ops
}

// diffChildren matches children by index. Extra old children are deleted from
// the end, extra new children are inserted. A child whose name or kind
// changed is replaced: deleted and re-inserted at the same index.
// Note: This is NOT robust for reordering or inserting in the middle,
// as it will detect everything after as changed.
func diffChildren(oldTree Tree, oldNode *Node, newTree Tree, newNode *Node, parentPath NodePath) ([]Operation, error) {
	var ops []Operation

	oldChildren := childNodes(oldTree, oldNode)
	newChildren := childNodes(newTree, newNode)

	commonLen := len(oldChildren)
	if len(newChildren) < commonLen {
		commonLen = len(newChildren)
	}

	for i := 0; i < commonLen; i++ {
		childPath := append(append(NodePath(nil), parentPath...), i)

		if !sameKind(oldChildren[i], newChildren[i]) {
			nodeHTML, err := RenderSubtree(newTree, newChildren[i].UID)
			if err != nil {
				return nil, err
			}
			ops = append(ops,
				Operation{Type: OpDeleteNode, Path: childPath},
				Operation{Type: OpInsertNode, Path: parentPath, Position: i, NodeData: nodeHTML},
			)
			continue
		}

		childOps, err := diffNodes(oldTree, oldChildren[i], newTree, newChildren[i], childPath)
		if err != nil {
			return nil, err
		}
		ops = append(ops, childOps...)
	}

	// Delete from the end so earlier indices stay valid.
	for i := len(oldChildren) - 1; i >= commonLen; i-- {
		ops = append(ops, Operation{
			Type: OpDeleteNode,
			Path: append(append(NodePath(nil), parentPath...), i),
		})
	}

	for i := commonLen; i < len(newChildren); i++ {
		nodeHTML, err := RenderSubtree(newTree, newChildren[i].UID)
		if err != nil {
			return nil, err
		}
		ops = append(ops, Operation{
			Type:     OpInsertNode,
			Path:     parentPath,
			Position: i,
			NodeData: nodeHTML,
		})
	}

	return ops, nil
}

func childNodes(t Tree, n *Node) []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, uid := range n.Children {
		if c, ok := t[uid]; ok {
			children = append(children, c)
		}
	}
	return children
}

// MatchIdentifiers pairs the nodes of a fresh parse with the nodes of the
// tree it replaces, the same way diffChildren matches them: by index among
// siblings, and only while the names agree. It returns the old -> new uid
// pairs and the old uids that found no partner.
func MatchIdentifiers(oldTree, newTree Tree) (map[UID]UID, []UID) {
	mapping := make(map[UID]UID)
	var removed []UID
	var walk func(o, n *Node)
	walk = func(o, n *Node) {
		if o.UID != n.UID {
			mapping[o.UID] = n.UID
		}
		oc, nc := childNodes(oldTree, o), childNodes(newTree, n)
		for i, c := range oc {
			if i < len(nc) && c.Name == nc[i].Name {
				walk(c, nc[i])
				continue
			}
			removed = append(removed, oldTree.Subtree(c.UID)...)
		}
	}
	if oldTree.Root() != nil && newTree.Root() != nil {
		walk(oldTree.Root(), newTree.Root())
	}
	return mapping, removed
}
