package htmlstage

import (
	"errors"
	"fmt"
)

// ParseHTML parses a string into a node tree with identifiers starting at 1.
func ParseHTML(content string) (Tree, error) {
	res, err := HTMLParser{}.Parse(content, 0)
	if err != nil {
		return nil, err
	}
	return res.Tree, nil
}

// GetNode traverses the tree using the provided path to find a specific node.
// An empty path names the root.
func GetNode(t Tree, path NodePath) (*Node, error) {
	current := t.Root()
	if current == nil {
		return nil, fmt.Errorf("empty tree: %w", ErrNotFound)
	}
	for i, index := range path {
		if index < 0 || index >= len(current.Children) {
			return nil, fmt.Errorf("node not found at path %v (failed at index %d, step %d): %w", path, index, i, ErrNotFound)
		}
		child, ok := t[current.Children[index]]
		if !ok {
			return nil, fmt.Errorf("node not found at path %v (dangling child at step %d): %w", path, i, ErrNotFound)
		}
		current = child
	}
	return current, nil
}

// GetPath finds the path from the root to uid.
func GetPath(t Tree, uid UID) (NodePath, error) {
	var path NodePath

	// Built backwards from the target to the root.
	current, ok := t[uid]
	if !ok {
		return nil, fmt.Errorf("path of %s: %w", uid, ErrNotFound)
	}
	for current.UID != RootUID {
		parent, ok := t[current.ParentUID]
		if !ok {
			return nil, errors.New("target node is not a descendant of root")
		}
		index := parent.childIndex(current.UID)
		if index == -1 {
			return nil, errors.New("integrity error: child not found in parent's list")
		}
		path = append(NodePath{index}, path...)
		current = parent
	}
	return path, nil
}

// NodeAt returns the deepest valid node whose source range contains the
// 1-based position (line, col), or an empty uid.
func NodeAt(t Tree, line, col int) UID {
	var found UID
	var walk func(UID)
	walk = func(u UID) {
		n, ok := t[u]
		if !ok {
			return
		}
		for _, c := range n.Children {
			cn, ok := t[c]
			if !ok || cn.Data == nil || !cn.Data.IsValid() {
				continue
			}
			if cn.Data.SourceRange().Contains(line, col) {
				found = c
				walk(c)
				return
			}
		}
	}
	walk(RootUID)
	return found
}
