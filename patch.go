package htmlstage

import (
	"errors"
	"fmt"
	"strings"
)

// Patch applies the changes in 'delta' to 'baseHTML'.
func Patch(baseHTML string, delta *Delta) (string, error) {
	currentHash := hashString(baseHTML)
	if currentHash != delta.BaseHash {
		// Merge handles diverged bases; Patch only applies to the exact base.
		return "", fmt.Errorf("base hash mismatch: expected %s, got %s", delta.BaseHash, currentHash)
	}

	doc, err := ParseHTML(baseHTML)
	if err != nil {
		return "", err
	}
	patched, err := PatchTree(doc, delta, NewAllocator(doc.MaxUID()))
	if err != nil {
		return "", err
	}
	return HTMLParser{}.Serialize(patched)
}

// PatchTree applies delta to a copy of base. Inserted nodes get identifiers
// from alloc. base is left untouched, also on error.
func PatchTree(base Tree, delta *Delta, alloc *Allocator) (Tree, error) {
	t := base.Clone()
	for i, op := range delta.Operations {
		if err := applyOp(t, op, alloc); err != nil {
			return nil, fmt.Errorf("failed to apply op %d (%s): %w", i, op.Type, err)
		}
	}
	return t, nil
}

func applyOp(t Tree, op Operation, alloc *Allocator) error {
	switch op.Type {
	case OpUpdateText:
		node, err := GetNode(t, op.Path)
		if err != nil {
			return err
		}
		switch d := node.Data.(type) {
		case *TextData:
			if d.Text != op.OldValue {
				return fmt.Errorf("UPDATE_TEXT old value mismatch: want '%s', got '%s'", op.OldValue, d.Text)
			}
			d.Text = op.NewValue
			d.Valid = strings.TrimSpace(d.Text) != ""
		case *CommentData:
			if d.Text != op.OldValue {
				return fmt.Errorf("UPDATE_TEXT old value mismatch: want '%s', got '%s'", op.OldValue, d.Text)
			}
			d.Text = op.NewValue
		default:
			return fmt.Errorf("target node for UPDATE_TEXT is not a text node (name=%s)", node.Name)
		}

	case OpInsertText, OpDeleteText:
		node, err := GetNode(t, op.Path)
		if err != nil {
			return err
		}
		d, ok := node.Data.(*TextData)
		if !ok {
			return fmt.Errorf("target node for %s is not a text node (name=%s)", op.Type, node.Name)
		}
		runes := []rune(d.Text)
		if op.Position < 0 || op.Position > len(runes) {
			return fmt.Errorf("%s position %d out of range [0,%d]", op.Type, op.Position, len(runes))
		}
		if op.Type == OpInsertText {
			ins := []rune(op.NewValue)
			out := make([]rune, 0, len(runes)+len(ins))
			out = append(out, runes[:op.Position]...)
			out = append(out, ins...)
			out = append(out, runes[op.Position:]...)
			d.Text = string(out)
		} else {
			del := []rune(op.OldValue)
			end := op.Position + len(del)
			if end > len(runes) || string(runes[op.Position:end]) != op.OldValue {
				return fmt.Errorf("DELETE_TEXT old value mismatch at %d: want '%s'", op.Position, op.OldValue)
			}
			d.Text = string(runes[:op.Position]) + string(runes[end:])
		}
		d.Valid = strings.TrimSpace(d.Text) != ""

	case OpUpdateAttr, OpRemoveAttr:
		node, err := GetNode(t, op.Path)
		if err != nil {
			return err
		}
		d, ok := node.Data.(*ElementData)
		if !ok || !node.IsElement() {
			return fmt.Errorf("target node for %s is not an element node", op.Type)
		}
		// Attribute values are not verified against OldValue: the last
		// writer wins, conflicts are detected by Merge.
		if op.Type == OpRemoveAttr {
			d.RemoveAttr(op.Key)
		} else {
			d.SetAttr(op.Key, op.NewValue)
		}

	case OpInsertNode:
		// Path is the parent.
		parent, err := GetNode(t, op.Path)
		if err != nil {
			return err
		}
		roots, frag, err := ParseFragment(HTMLParser{}, op.NodeData, alloc)
		if err != nil {
			return fmt.Errorf("failed to parse node data: %w", err)
		}
		for uid, n := range frag {
			t[uid] = n
		}
		for i, uid := range roots {
			if err := t.Insert(parent.UID, t[uid], op.Position+i); err != nil {
				for _, u := range roots[i:] {
					for _, s := range t.Subtree(u) {
						delete(t, s)
					}
				}
				return err
			}
		}

	case OpDeleteNode:
		// Path is the node itself.
		node, err := GetNode(t, op.Path)
		if err != nil {
			return err
		}
		if node.UID == RootUID {
			return errors.New("cannot delete root node or orphan")
		}
		t.Remove([]UID{node.UID}, "")

	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}

	return nil
}
