// Package node implements the immutable document tree: Node, Mark and the
// structurally-shared NodePool described in spec.md §3 ("Node", "NodePool").
package node

import (
	"fmt"
	"sort"
)

// Attrs is an ordered-by-key map of attribute name to JSON-compatible value.
// Go maps have no iteration order guarantee, so anything that must observe
// attrs in a stable order (hashing, serialization) sorts keys at the point
// of use rather than carrying an ordered structure through the hot path.
type Attrs map[string]interface{}

// Clone returns a shallow copy of a.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SortedKeys returns a's keys in ascending lexical order, for deterministic
// iteration (hashing, canonical serialization).
func (a Attrs) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Mark is a typed annotation attached to a node (inline style semantics).
type Mark struct {
	Type  string `json:"type"`
	Attrs Attrs  `json:"attrs,omitempty"`
}

// Equal reports whether two marks have the same type and attrs.
func (m Mark) Equal(other Mark) bool {
	if m.Type != other.Type {
		return false
	}
	if len(m.Attrs) != len(other.Attrs) {
		return false
	}
	for k, v := range m.Attrs {
		if ov, ok := other.Attrs[k]; !ok || !equalJSON(v, ov) {
			return false
		}
	}
	return true
}

func equalJSON(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// MarkSet is an ordered, duplicate-free sequence of marks.
type MarkSet []Mark

// Add returns a new MarkSet with mark added (replacing any existing mark of
// the same type), preserving the relative order of the rest.
func (ms MarkSet) Add(mark Mark) MarkSet {
	out := make(MarkSet, 0, len(ms)+1)
	found := false
	for _, m := range ms {
		if m.Type == mark.Type {
			out = append(out, mark)
			found = true
			continue
		}
		out = append(out, m)
	}
	if !found {
		out = append(out, mark)
	}
	return out
}

// Remove returns a new MarkSet with all marks of the given types removed.
func (ms MarkSet) Remove(types ...string) MarkSet {
	skip := make(map[string]bool, len(types))
	for _, t := range types {
		skip[t] = true
	}
	out := make(MarkSet, 0, len(ms))
	for _, m := range ms {
		if !skip[m.Type] {
			out = append(out, m)
		}
	}
	return out
}

// Node is an immutable element of the document tree. Edits always produce a
// new *Node; existing *Node values are never mutated in place once they have
// been placed in a NodePool (this is what lets unrelated edits share
// subtrees across pool versions).
type Node struct {
	ID      string
	Type    string
	Attrs   Attrs
	Content []string // ordered child ids
	Marks   MarkSet
}

// Clone returns a deep-enough copy of n suitable as the basis for an edit:
// Attrs and Content are copied (so they can be mutated independently),
// Marks is copied by value (MarkSet mutators already copy-on-write).
func (n *Node) Clone() *Node {
	content := make([]string, len(n.Content))
	copy(content, n.Content)
	marks := make(MarkSet, len(n.Marks))
	copy(marks, n.Marks)
	return &Node{
		ID:      n.ID,
		Type:    n.Type,
		Attrs:   n.Attrs.Clone(),
		Content: content,
		Marks:   marks,
	}
}

// WithAttrs returns a new node with attrs merged on top of n's attrs. A nil
// value for a key clears that key (AttrStep semantics, spec.md §3).
func (n *Node) WithAttrs(patch Attrs) *Node {
	next := n.Clone()
	if next.Attrs == nil {
		next.Attrs = Attrs{}
	}
	for k, v := range patch {
		if v == nil {
			delete(next.Attrs, k)
		} else {
			next.Attrs[k] = v
		}
	}
	return next
}
