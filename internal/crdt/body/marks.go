package body

import "github.com/diaryx/syncd/internal/crdt/rga"

// markState is a last-writer-wins register for whether one mark kind
// is active on one character.
type markState struct {
	active bool
	by     writer
	set    bool
}

func (m *markState) apply(active bool, by writer) {
	if !m.set || m.by.wins(by) {
		m.active = active
		m.by = by
		m.set = true
	}
}

// markRegistry tracks, per character id, the set of active mark kinds.
// Marks are anchored to character ids rather than integer offsets, so a
// deletion that splits a marked range needs no special handling: the
// surviving sub-ranges simply keep whatever mark state their own
// characters carry, and the gap left by the deleted run disappears
// from the rendered text entirely (the "clip" behavior).
type markRegistry struct {
	byChar map[rga.ID]map[string]*markState
}

func newMarkRegistry() *markRegistry {
	return &markRegistry{byChar: make(map[rga.ID]map[string]*markState)}
}

func (r *markRegistry) put(id rga.ID, kind string, active bool, by writer) {
	kinds, ok := r.byChar[id]
	if !ok {
		kinds = make(map[string]*markState)
		r.byChar[id] = kinds
	}
	st, ok := kinds[kind]
	if !ok {
		st = &markState{}
		kinds[kind] = st
	}
	st.apply(active, by)
}

// activeKinds returns the mark kinds currently active on id, in no
// particular order; callers that need stable rendering sort the result.
func (r *markRegistry) activeKinds(id rga.ID) []string {
	kinds, ok := r.byChar[id]
	if !ok {
		return nil
	}
	var out []string
	for k, st := range kinds {
		if st.set && st.active {
			out = append(out, k)
		}
	}
	return out
}
