package stage

import (
	"sync"

	"github.com/dannyswat/htmlstage"
	"github.com/dannyswat/htmlstage/internal/debug"
)

// Mirror keeps the copy of the valid tree a preview client would hold and
// replays render deltas against it. A delta that does not reproduce the
// incoming tree marks the mirror inconsistent and it resynchronises from the
// full tree.
type Mirror struct {
	mu    sync.Mutex
	tree  htmlstage.Tree
	alloc *htmlstage.Allocator

	applied int
	resyncs int
}

// NewMirror returns an empty mirror; the first Apply always resynchronises.
func NewMirror() *Mirror {
	return &Mirror{}
}

// Apply brings the mirror up to u.Valid. It reports whether u.Delta alone
// produced a tree isomorphic to u.Valid, i.e. whether clients can patch
// incrementally.
func (m *Mirror) Apply(u htmlstage.StageUpdate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.Valid == nil {
		return false
	}
	if m.tree == nil || u.Delta == nil {
		m.resync(u.Valid)
		return false
	}

	patched, err := htmlstage.PatchTree(m.tree, u.Delta, m.alloc)
	if err != nil {
		debug.Log("stage: mirror patch failed: %v", err)
		m.resync(u.Valid)
		return false
	}
	if !htmlstage.Isomorphic(patched, htmlstage.RootUID, u.Valid, htmlstage.RootUID) {
		debug.Log("stage: mirror diverged after %d ops", len(u.Delta.Operations))
		m.resync(u.Valid)
		return false
	}
	m.tree = patched
	m.applied++
	return true
}

// Render implements htmlstage.StageSink for a headless preview.
func (m *Mirror) Render(u htmlstage.StageUpdate) error {
	m.Apply(u)
	return nil
}

func (m *Mirror) resync(valid htmlstage.Tree) {
	m.tree = valid.Clone()
	m.alloc = htmlstage.NewAllocator(valid.MaxUID())
	m.resyncs++
}

// Tree returns a copy of the mirrored tree.
func (m *Mirror) Tree() htmlstage.Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tree == nil {
		return nil
	}
	return m.tree.Clone()
}

// Stats reports how many deltas were applied incrementally and how many
// renders required a full resync.
func (m *Mirror) Stats() (applied, resyncs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied, m.resyncs
}
