package htmlstage

import (
	"fmt"
	"strconv"
)

// Merge combines two concurrent deltas.
func Merge(baseHTML string, deltaA, deltaB *Delta) (string, *Delta, []Conflict, error) {
	return MergeAll(baseHTML, []*Delta{deltaA, deltaB})
}

// MergeAll folds any number of concurrent deltas over the same base, in order.
// Each delta is transformed to apply after the ones merged before it. When a
// conflict is found nothing is applied and the conflicts are returned.
func MergeAll(baseHTML string, deltas []*Delta) (string, *Delta, []Conflict, error) {
	baseHash := hashString(baseHTML)
	for _, d := range deltas {
		if d.BaseHash != baseHash {
			return "", nil, nil, fmt.Errorf("base hash mismatch")
		}
	}
	if len(deltas) == 0 {
		return baseHTML, &Delta{BaseHash: baseHash, Author: "system-merge"}, nil, nil
	}

	merged := append([]Operation(nil), deltas[0].Operations...)
	var conflicts []Conflict
	for k, d := range deltas[1:] {
		skip := make(map[int]bool)
		var found []Conflict
		for _, prev := range deltas[:k+1] {
			c, s := detectConflicts(prev.Operations, d.Operations)
			found = append(found, c...)
			for i := range s {
				skip[i] = true
			}
		}
		if len(found) > 0 {
			conflicts = append(conflicts, found...)
			continue
		}

		// Transform the incoming ops so they apply after the merged ones.
		prior := merged[:len(merged):len(merged)]
		for i, opB := range d.Operations {
			if skip[i] {
				continue
			}
			for _, opA := range prior {
				opB = transformOp(opB, opA)
			}
			merged = append(merged, opB)
		}
	}
	if len(conflicts) > 0 {
		return "", nil, conflicts, nil
	}

	mergedDelta := &Delta{
		BaseHash:   baseHash,
		Operations: merged,
		Author:     "system-merge",
		Timestamp:  deltas[0].Timestamp,
	}
	patched, err := Patch(baseHTML, mergedDelta)
	return patched, mergedDelta, nil, err
}

// detectConflicts compares two operation lists against the same base. The
// returned skip set marks ops of opsB that duplicate an op of opsA exactly
// (same edit made on both sides); they are dropped from the merge.
func detectConflicts(opsA, opsB []Operation) ([]Conflict, map[int]bool) {
	var conflicts []Conflict
	skip := make(map[int]bool)

	groupA := groupByTarget(opsA)
	groupB := groupByTarget(opsB)
	indexB := make(map[string][]int)
	for i, op := range opsB {
		k := pathKey(op)
		indexB[k] = append(indexB[k], i)
	}

	reported := make(map[string]bool)
	report := func(kind, desc string, path NodePath, ops ...Operation) {
		key := kind + "|" + path.String()
		if reported[key] {
			return
		}
		reported[key] = true
		conflicts = append(conflicts, Conflict{
			Type:        kind,
			Description: desc,
			Path:        path,
			Ops:         ops,
		})
	}

	for key, bOps := range groupB {
		aOps, exists := groupA[key]
		if !exists {
			continue
		}
		if sameOps(aOps, bOps) {
			for _, i := range indexB[key] {
				skip[i] = true
			}
			continue
		}
		if isTextEdit(aOps[0]) && isTextEdit(bOps[0]) {
			report("Direct", fmt.Sprintf("Conflict on node %v: concurrent text edits", bOps[0].Path), bOps[0].Path, append(aOps, bOps...)...)
			continue
		}
		for _, opA := range aOps {
			for bi, opB := range bOps {
				if opA.Type == OpDeleteNode && opB.Type == OpDeleteNode {
					// Idempotent.
					skip[indexB[key][bi]] = true
					continue
				}
				if isConflict(opA, opB) {
					report("Direct", fmt.Sprintf("Conflict on node %v: %s vs %s", opB.Path, opA.Type, opB.Type), opB.Path, opA, opB)
				}
			}
		}
	}

	// Ancestry conflicts: one side deletes a node the other side edits below.
	for _, opA := range opsA {
		for _, opB := range opsB {
			if opA.Type == OpDeleteNode && isDescendant(opA.Path, opB.Path) {
				report("Structure", "Modification of deleted node", opB.Path, opA, opB)
			}
			if opB.Type == OpDeleteNode && isDescendant(opB.Path, opA.Path) {
				report("Structure", "Modification of deleted node", opA.Path, opA, opB)
			}
		}
	}
	return conflicts, skip
}

func groupByTarget(ops []Operation) map[string][]Operation {
	g := make(map[string][]Operation)
	for _, op := range ops {
		k := pathKey(op)
		g[k] = append(g[k], op)
	}
	return g
}

func sameOps(a, b []Operation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].Key != b[i].Key || a[i].NewValue != b[i].NewValue ||
			a[i].OldValue != b[i].OldValue || a[i].Position != b[i].Position || a[i].NodeData != b[i].NodeData {
			return false
		}
	}
	return true
}

func isTextEdit(op Operation) bool {
	return op.Type == OpUpdateText || op.Type == OpInsertText || op.Type == OpDeleteText
}

func isConflict(a, b Operation) bool {
	if a.Type == OpDeleteNode || b.Type == OpDeleteNode {
		return true
	}
	if isTextEdit(a) && isTextEdit(b) {
		return true
	}
	if (a.Type == OpUpdateAttr || a.Type == OpRemoveAttr) && (b.Type == OpUpdateAttr || b.Type == OpRemoveAttr) {
		if a.Key != b.Key {
			return false
		}
		return a.Type != b.Type || a.NewValue != b.NewValue
	}
	// Concurrent inserts at the same position are ordered: A before B.
	return false
}

// pathKey identifies the target of op. Inserts target a slot of their parent.
func pathKey(op Operation) string {
	s := op.Path.String()
	if op.Type == OpInsertNode {
		return s + ":I:" + strconv.Itoa(op.Position)
	}
	return s
}

func isDescendant(ancestor, child NodePath) bool {
	if len(child) <= len(ancestor) {
		return false
	}
	for i := range ancestor {
		if child[i] != ancestor[i] {
			return false
		}
	}
	return true
}

// transformOp adjusts b (which assumes the base state) to be valid after a.
func transformOp(b, a Operation) Operation {
	newB := b

	switch a.Type {
	case OpInsertNode:
		// a inserted under a.Path at a.Position.
		if b.Type == OpInsertNode && pathEqual(b.Path, a.Path) {
			if a.Position <= b.Position {
				newB.Position++
			}
		} else if isSiblingAffected(a.Path, a.Position, b.Path) {
			newB.Path = append(NodePath(nil), b.Path...)
			newB.Path[len(a.Path)]++
		}

	case OpDeleteNode:
		parentPath := a.Path[:len(a.Path)-1]
		delIndex := a.Path[len(a.Path)-1]

		if b.Type == OpInsertNode && pathEqual(b.Path, parentPath) {
			if delIndex < b.Position {
				newB.Position--
			}
		} else if isSiblingAffected(parentPath, delIndex, b.Path) {
			// delIndex == idx targets the deleted node itself; the conflict
			// detector reports that case before any transform runs.
			if idx := b.Path[len(parentPath)]; delIndex < idx {
				newB.Path = append(NodePath(nil), b.Path...)
				newB.Path[len(parentPath)]--
			}
		}
	}

	return newB
}

func pathEqual(a, b NodePath) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isSiblingAffected reports whether target runs through a child of parent at
// or after index.
func isSiblingAffected(parent NodePath, index int, target NodePath) bool {
	if len(target) <= len(parent) {
		return false
	}
	for i := range parent {
		if target[i] != parent[i] {
			return false
		}
	}
	return target[len(parent)] >= index
}
