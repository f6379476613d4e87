package htmlstage

// OrderedSet is an ordered sequence of uids with a membership index. The index
// always holds exactly the members of the sequence.
type OrderedSet struct {
	items []UID
	index map[UID]struct{}
}

// NewOrderedSet returns a set holding uids in order, duplicates dropped.
func NewOrderedSet(uids ...UID) OrderedSet {
	var s OrderedSet
	s.Replace(uids)
	return s
}

// Items returns a copy of the sequence.
func (s *OrderedSet) Items() []UID {
	return append([]UID(nil), s.items...)
}

// Len returns the number of members.
func (s *OrderedSet) Len() int { return len(s.items) }

// Has reports membership.
func (s *OrderedSet) Has(uid UID) bool {
	_, ok := s.index[uid]
	return ok
}

// Add appends uid if it is not a member yet.
func (s *OrderedSet) Add(uid UID) bool {
	if s.Has(uid) {
		return false
	}
	if s.index == nil {
		s.index = make(map[UID]struct{})
	}
	s.items = append(s.items, uid)
	s.index[uid] = struct{}{}
	return true
}

// Remove drops uid.
func (s *OrderedSet) Remove(uid UID) bool {
	if !s.Has(uid) {
		return false
	}
	return s.RemoveIf(func(u UID) bool { return u == uid })
}

// RemoveIf drops every member for which drop returns true.
func (s *OrderedSet) RemoveIf(drop func(UID) bool) bool {
	kept := make([]UID, 0, len(s.items))
	for _, uid := range s.items {
		if !drop(uid) {
			kept = append(kept, uid)
		}
	}
	if len(kept) == len(s.items) {
		return false
	}
	s.Replace(kept)
	return true
}

// Replace sets the sequence and rebuilds the index.
func (s *OrderedSet) Replace(uids []UID) {
	s.items = make([]UID, 0, len(uids))
	s.index = make(map[UID]struct{}, len(uids))
	for _, uid := range uids {
		if _, dup := s.index[uid]; dup {
			continue
		}
		s.items = append(s.items, uid)
		s.index[uid] = struct{}{}
	}
}

// SameMembers reports whether s holds exactly the uids, in any order.
func (s *OrderedSet) SameMembers(uids []UID) bool {
	seen := make(map[UID]struct{}, len(uids))
	for _, uid := range uids {
		if !s.Has(uid) {
			return false
		}
		seen[uid] = struct{}{}
	}
	return len(seen) == len(s.items)
}

// Remap replaces each member found in mapping by its new uid in place. A new
// uid that is already a member collapses into its first occurrence.
func (s *OrderedSet) Remap(mapping map[UID]UID) bool {
	changed := false
	out := make([]UID, 0, len(s.items))
	for _, uid := range s.items {
		if n, ok := mapping[uid]; ok && n != uid {
			uid = n
			changed = true
		}
		out = append(out, uid)
	}
	if changed {
		s.Replace(out)
	}
	return changed
}

// ViewState is the focus, expansion and selection of one tree view.
type ViewState struct {
	Focused  UID
	Hovered  UID
	Expanded OrderedSet
	Selected OrderedSet
}

// Clone returns an independent copy of v.
func (v *ViewState) Clone() ViewState {
	return ViewState{
		Focused:  v.Focused,
		Hovered:  v.Hovered,
		Expanded: NewOrderedSet(v.Expanded.items...),
		Selected: NewOrderedSet(v.Selected.items...),
	}
}

// Clear resets v to the empty state of a closed tree.
func (v *ViewState) Clear() {
	*v = ViewState{}
}

// Focus moves the focus to uid.
func (v *ViewState) Focus(uid UID) bool {
	if v.Focused == uid {
		return false
	}
	v.Focused = uid
	return true
}

// Hover records the uid under the pointer.
func (v *ViewState) Hover(uid UID) bool {
	if v.Hovered == uid {
		return false
	}
	v.Hovered = uid
	return true
}

// Expand marks uid expanded.
func (v *ViewState) Expand(uid UID) bool { return v.Expanded.Add(uid) }

// Collapse marks uid collapsed.
func (v *ViewState) Collapse(uid UID) bool { return v.Expanded.Remove(uid) }

// SelectMany replaces the selection with uids, dropping duplicates and uids
// that valid rejects. It reports false without touching v when the result
// has the same members as the current selection.
func (v *ViewState) SelectMany(uids []UID, valid func(UID) bool) bool {
	picked := make([]UID, 0, len(uids))
	seen := make(map[UID]bool, len(uids))
	for _, uid := range uids {
		if seen[uid] || (valid != nil && !valid(uid)) {
			continue
		}
		seen[uid] = true
		picked = append(picked, uid)
	}
	if v.Selected.SameMembers(picked) {
		return false
	}
	v.Selected.Replace(picked)
	return true
}

// ToggleSelect adds uid to the selection or removes it, as a shift-click does.
func (v *ViewState) ToggleSelect(uid UID) bool {
	if v.Selected.Has(uid) {
		return v.Selected.Remove(uid)
	}
	return v.Selected.Add(uid)
}

// ReconcileDeleted drops removed uids from the state. Focus is cleared when the
// focused node was removed.
func (v *ViewState) ReconcileDeleted(removed []UID) bool {
	if len(removed) == 0 {
		return false
	}
	gone := make(map[UID]bool, len(removed))
	for _, uid := range removed {
		gone[uid] = true
	}
	return v.Prune(func(uid UID) bool { return !gone[uid] })
}

// Prune drops every uid for which keep returns false.
func (v *ViewState) Prune(keep func(UID) bool) bool {
	changed := false
	if v.Focused != "" && !keep(v.Focused) {
		v.Focused = ""
		changed = true
	}
	if v.Hovered != "" && !keep(v.Hovered) {
		v.Hovered = ""
		changed = true
	}
	drop := func(uid UID) bool { return !keep(uid) }
	if v.Expanded.RemoveIf(drop) {
		changed = true
	}
	if v.Selected.RemoveIf(drop) {
		changed = true
	}
	return changed
}

// ReconcileRemap rewrites old uids to new ones. Order is preserved.
func (v *ViewState) ReconcileRemap(mapping map[UID]UID) bool {
	if len(mapping) == 0 {
		return false
	}
	changed := false
	if n, ok := mapping[v.Focused]; ok && v.Focused != "" && n != v.Focused {
		v.Focused = n
		changed = true
	}
	if n, ok := mapping[v.Hovered]; ok && v.Hovered != "" && n != v.Hovered {
		v.Hovered = n
		changed = true
	}
	if v.Expanded.Remap(mapping) {
		changed = true
	}
	if v.Selected.Remap(mapping) {
		changed = true
	}
	return changed
}

// Reconcile applies a remap and then a deletion in one step.
func (v *ViewState) Reconcile(mapping map[UID]UID, removed []UID) bool {
	remapped := v.ReconcileRemap(mapping)
	deleted := v.ReconcileDeleted(removed)
	return remapped || deleted
}
