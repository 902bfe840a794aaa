// Package history implements the bounded undo/redo ring described in
// spec.md §4.7: insert/jump/get_present over HistoryEntry values, truncating
// future entries after a jump-back the way a conventional editor undo stack
// does. Grounded on core/pkg/replay/engine.go's append-only log-with-cursor
// shape, adapted from an append-only ledger to a bounded, truncating ring.
package history

import "github.com/moduforge/moduforge-go/pkg/forgeerror"

// Entry is one recorded point in the document's history.
type Entry struct {
	State       interface{} // *state.State; kept opaque to avoid a history->state import cycle
	Description string
	Meta        map[string]interface{}
}

// Ring is a bounded, cursor-addressed history of Entry values.
type Ring struct {
	limit   int
	entries []Entry
	cursor  int // index into entries of the "present"; -1 when empty
}

// New returns an empty Ring bounded to limit entries (limit <= 0 means
// unbounded).
func New(limit int) *Ring {
	return &Ring{limit: limit, cursor: -1}
}

// Insert appends entry as the new present, dropping any entries after the
// current cursor (they were reachable only via Redo, which is no longer
// valid once a new entry branches history) and trimming from the tail once
// the ring exceeds its limit.
func (r *Ring) Insert(entry Entry) {
	if r.cursor >= 0 && r.cursor < len(r.entries)-1 {
		r.entries = r.entries[:r.cursor+1]
	}
	r.entries = append(r.entries, entry)
	r.cursor = len(r.entries) - 1

	if r.limit > 0 && len(r.entries) > r.limit {
		overflow := len(r.entries) - r.limit
		r.entries = r.entries[overflow:]
		r.cursor -= overflow
	}
}

// Jump moves the cursor by n (negative = undo, positive = redo), clamped to
// [0, len-1], and returns the entry now at the cursor.
func (r *Ring) Jump(n int) (Entry, error) {
	if len(r.entries) == 0 {
		return Entry{}, forgeerror.Internal("history_empty", nil)
	}
	next := r.cursor + n
	if next < 0 {
		next = 0
	}
	if next > len(r.entries)-1 {
		next = len(r.entries) - 1
	}
	r.cursor = next
	return r.entries[r.cursor], nil
}

// GetPresent returns the entry currently at the cursor.
func (r *Ring) GetPresent() (Entry, bool) {
	if r.cursor < 0 || r.cursor >= len(r.entries) {
		return Entry{}, false
	}
	return r.entries[r.cursor], true
}

// CanUndo reports whether Jump(-1) would move the cursor.
func (r *Ring) CanUndo() bool { return r.cursor > 0 }

// CanRedo reports whether Jump(1) would move the cursor.
func (r *Ring) CanRedo() bool { return r.cursor >= 0 && r.cursor < len(r.entries)-1 }

// Len reports the number of entries currently retained.
func (r *Ring) Len() int { return len(r.entries) }
