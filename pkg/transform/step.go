// Package transform implements the primitive Step types and the
// draft-based Transform builder described in spec.md §3 ("Step") and §4.2.
package transform

import (
	"fmt"
	"sort"

	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/schema"
)

// Step is the atomic unit of document change, per spec.md §3.
type Step interface {
	// Apply applies the step to pool, validating against sch, and returns
	// the resulting pool. It must be side-effect free on failure: pool
	// itself is never mutated (each primitive step clones pool and changes
	// only the clone, and Transform swaps the result in only on success).
	Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error)
	// Invert returns the step that undoes this step's effect, computed
	// against the pool as it was immediately before this step applied.
	Invert(before *node.Pool) Step
	// Type is the canonical on-disk tag used by the persistence/replication
	// adapters (spec.md §4.10, §4.11).
	Type() string
}

// AddNode inserts one or more subtrees as children of ParentID at Index
// (append to the end when Index is nil). Each entry in Nodes is the root of
// a subtree; NodePool is the flattened set of nodes, including Nodes[i]
// itself and all of its descendants, keyed by id.
type AddNode struct {
	ParentID string
	Nodes    []*node.Node
	NodePool map[string]*node.Node
	Index    *int
}

func (s AddNode) Type() string { return "add_node" }

func (s AddNode) Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error) {
	parent := pool.Get(s.ParentID)
	if parent == nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("add_node: parent %s not found", s.ParentID))
	}
	next := pool.Clone()
	newParent := parent.Clone()

	idx := len(newParent.Content)
	if s.Index != nil {
		idx = *s.Index
		if idx < 0 || idx > len(newParent.Content) {
			return nil, forgeerror.StepFailed(fmt.Errorf("add_node: index %d out of range [0,%d]", idx, len(newParent.Content)))
		}
	}

	for id, n := range s.NodePool {
		applyPut(next, id, n)
	}

	newIDs := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		newIDs[i] = n.ID
	}
	content := make([]string, 0, len(newParent.Content)+len(newIDs))
	content = append(content, newParent.Content[:idx]...)
	content = append(content, newIDs...)
	content = append(content, newParent.Content[idx:]...)

	childTypes := make([]string, len(content))
	for i, id := range content {
		childTypes[i] = next.Get(id).Type
	}
	if sch != nil {
		if err := sch.CheckContent(childTypes, newParent.Type); err != nil {
			return nil, err
		}
	}

	newParent.Content = content
	applyPut(next, newParent.ID, newParent)
	for _, id := range newIDs {
		applySetParent(next, id, newParent.ID)
	}
	reparentDescendants(next, s.NodePool)

	if err := next.Integrity(); err != nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("add_node: %w", err))
	}
	return next, nil
}

func (s AddNode) Invert(before *node.Pool) Step {
	ids := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = n.ID
	}
	return RemoveNode{ParentID: s.ParentID, IDs: ids}
}

// RemoveNode deletes the listed (top-level) ids from ParentID's content,
// cascading to delete their descendants from the pool.
type RemoveNode struct {
	ParentID string
	IDs      []string
}

func (s RemoveNode) Type() string { return "remove_node" }

func (s RemoveNode) Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error) {
	parent := pool.Get(s.ParentID)
	if parent == nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("remove_node: parent %s not found", s.ParentID))
	}
	remove := make(map[string]bool, len(s.IDs))
	for _, id := range s.IDs {
		remove[id] = true
	}
	next := pool.Clone()
	newParent := parent.Clone()
	content := make([]string, 0, len(newParent.Content))
	for _, id := range newParent.Content {
		if !remove[id] {
			content = append(content, id)
		}
	}
	newParent.Content = content

	childTypes := make([]string, len(content))
	for i, id := range content {
		childTypes[i] = pool.Get(id).Type
	}
	if sch != nil {
		if err := sch.CheckContent(childTypes, newParent.Type); err != nil {
			return nil, err
		}
	}

	applyPut(next, newParent.ID, newParent)
	for _, id := range s.IDs {
		cascadeDelete(next, pool, id)
	}

	if err := next.Integrity(); err != nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("remove_node: %w", err))
	}
	return next, nil
}

// Invert reinserts each removed id at its own original index, one at a
// time, in ascending index order. A single contiguous AddNode block only
// restores the original order when the removed ids were themselves
// contiguous; reinserting low-to-high by original index handles the
// general case where they were interspersed with ids that survived.
func (s RemoveNode) Invert(before *node.Pool) Step {
	type removed struct {
		idx  int
		n    *node.Node
		pool map[string]*node.Node
	}

	parent := before.Get(s.ParentID)
	var entries []removed
	for _, id := range s.IDs {
		n := before.Get(id)
		if n == nil {
			continue
		}
		idx := -1
		if parent != nil {
			for i, cid := range parent.Content {
				if cid == id {
					idx = i
					break
				}
			}
		}
		pool := map[string]*node.Node{}
		collectSubtree(before, id, pool)
		entries = append(entries, removed{idx: idx, n: n, pool: pool})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	steps := make([]Step, len(entries))
	for i, e := range entries {
		var idxPtr *int
		if e.idx >= 0 {
			v := e.idx
			idxPtr = &v
		}
		steps[i] = AddNode{ParentID: s.ParentID, Nodes: []*node.Node{e.n}, NodePool: e.pool, Index: idxPtr}
	}
	if len(steps) == 1 {
		return steps[0]
	}
	return StepSequence{Steps: steps}
}

// MoveNode relocates node ID from SourceParent to TargetParent at Index.
type MoveNode struct {
	SourceParent string
	TargetParent string
	ID           string
	Index        int
}

func (s MoveNode) Type() string { return "move_node" }

func (s MoveNode) Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error) {
	src := pool.Get(s.SourceParent)
	dst := pool.Get(s.TargetParent)
	if src == nil || dst == nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("move_node: source or target parent not found"))
	}
	if pool.Get(s.ID) == nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("move_node: node %s not found", s.ID))
	}

	next := pool.Clone()
	newSrc := src.Clone()
	content := make([]string, 0, len(newSrc.Content))
	for _, id := range newSrc.Content {
		if id != s.ID {
			content = append(content, id)
		}
	}
	newSrc.Content = content

	newDst := dst
	if s.SourceParent == s.TargetParent {
		newDst = newSrc
	} else {
		newDst = dst.Clone()
	}
	idx := s.Index
	if idx < 0 || idx > len(newDst.Content) {
		return nil, forgeerror.StepFailed(fmt.Errorf("move_node: index %d out of range", idx))
	}
	dstContent := make([]string, 0, len(newDst.Content)+1)
	dstContent = append(dstContent, newDst.Content[:idx]...)
	dstContent = append(dstContent, s.ID)
	dstContent = append(dstContent, newDst.Content[idx:]...)
	newDst.Content = dstContent

	if sch != nil {
		srcTypes := childTypesOf(next, newSrc)
		if err := sch.CheckContent(srcTypes, newSrc.Type); err != nil {
			return nil, err
		}
		dstTypes := childTypesOf(next, newDst)
		if err := sch.CheckContent(dstTypes, newDst.Type); err != nil {
			return nil, err
		}
	}

	applyPut(next, newSrc.ID, newSrc)
	if s.SourceParent != s.TargetParent {
		applyPut(next, newDst.ID, newDst)
	}
	applySetParent(next, s.ID, s.TargetParent)

	if err := next.Integrity(); err != nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("move_node: %w", err))
	}
	return next, nil
}

func childTypesOf(pool *node.Pool, n *node.Node) []string {
	types := make([]string, len(n.Content))
	for i, id := range n.Content {
		c := pool.Get(id)
		if c != nil {
			types[i] = c.Type
		}
	}
	return types
}

func (s MoveNode) Invert(before *node.Pool) Step {
	idx := 0
	if src := before.Get(s.SourceParent); src != nil {
		idx = len(src.Content)
		for i, id := range src.Content {
			if id == s.ID {
				idx = i
				break
			}
		}
	}
	return MoveNode{SourceParent: s.TargetParent, TargetParent: s.SourceParent, ID: s.ID, Index: idx}
}

// AttrStep partially updates a node's attrs; a nil value clears the key.
type AttrStep struct {
	NodeID string
	Attrs  node.Attrs
}

func (s AttrStep) Type() string { return "attr_step" }

func (s AttrStep) Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error) {
	n := pool.Get(s.NodeID)
	if n == nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("attr_step: node %s not found", s.NodeID))
	}
	next := pool.Clone()
	updated := n.WithAttrs(s.Attrs)
	if sch != nil {
		if err := sch.CheckAttrs(n.Type, updated.Attrs); err != nil {
			return nil, err
		}
	}
	applyPut(next, updated.ID, updated)
	return next, nil
}

func (s AttrStep) Invert(before *node.Pool) Step {
	n := before.Get(s.NodeID)
	inverse := node.Attrs{}
	if n != nil {
		for k := range s.Attrs {
			if old, ok := n.Attrs[k]; ok {
				inverse[k] = old
			} else {
				inverse[k] = nil
			}
		}
	}
	return AttrStep{NodeID: s.NodeID, Attrs: inverse}
}

// AddMark attaches marks to a node, replacing any existing mark of the same
// type (per node.MarkSet.Add semantics).
type AddMark struct {
	NodeID string
	Marks  node.MarkSet
}

func (s AddMark) Type() string { return "add_mark" }

func (s AddMark) Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error) {
	n := pool.Get(s.NodeID)
	if n == nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("add_mark: node %s not found", s.NodeID))
	}
	if sch != nil {
		for _, m := range s.Marks {
			if !sch.MarksAllowed(n.Type, m.Type) {
				return nil, forgeerror.Schema("mark_not_allowed", n.Type, m.Type)
			}
		}
	}
	next := pool.Clone()
	updated := n.Clone()
	for _, m := range s.Marks {
		updated.Marks = updated.Marks.Add(m)
	}
	applyPut(next, updated.ID, updated)
	return next, nil
}

func (s AddMark) Invert(before *node.Pool) Step {
	n := before.Get(s.NodeID)
	var restore node.MarkSet
	var removeTypes []string
	if n != nil {
		for _, m := range s.Marks {
			found := false
			for _, old := range n.Marks {
				if old.Type == m.Type {
					restore = append(restore, old)
					found = true
					break
				}
			}
			if !found {
				removeTypes = append(removeTypes, m.Type)
			}
		}
	}
	switch {
	case len(removeTypes) == 0:
		return AddMark{NodeID: s.NodeID, Marks: restore}
	case len(restore) == 0:
		return RemoveMark{NodeID: s.NodeID, MarkTypes: removeTypes}
	default:
		// Mixed case: types that replaced an existing mark must be restored
		// to their prior value, and types that had no prior mark were
		// brand-new and must be removed entirely. Neither op alone inverts
		// this step, so compose both.
		return StepSequence{Steps: []Step{
			RemoveMark{NodeID: s.NodeID, MarkTypes: removeTypes},
			AddMark{NodeID: s.NodeID, Marks: restore},
		}}
	}
}

// RemoveMark detaches all marks of the given types from a node.
type RemoveMark struct {
	NodeID    string
	MarkTypes []string
}

func (s RemoveMark) Type() string { return "remove_mark" }

func (s RemoveMark) Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error) {
	n := pool.Get(s.NodeID)
	if n == nil {
		return nil, forgeerror.StepFailed(fmt.Errorf("remove_mark: node %s not found", s.NodeID))
	}
	next := pool.Clone()
	updated := n.Clone()
	updated.Marks = updated.Marks.Remove(s.MarkTypes...)
	applyPut(next, updated.ID, updated)
	return next, nil
}

func (s RemoveMark) Invert(before *node.Pool) Step {
	n := before.Get(s.NodeID)
	var restore node.MarkSet
	if n != nil {
		skip := map[string]bool{}
		for _, t := range s.MarkTypes {
			skip[t] = true
		}
		for _, m := range n.Marks {
			if skip[m.Type] {
				restore = append(restore, m)
			}
		}
	}
	return AddMark{NodeID: s.NodeID, Marks: restore}
}

// StepSequence composes an ordered list of steps into a single Step,
// applied left to right. It exists for the cases where a step's true
// inverse cannot be expressed as one primitive step: AddMark's mixed
// restore-some/remove-some case and RemoveNode's non-contiguous
// reinsertion case both invert to a StepSequence.
type StepSequence struct {
	Steps []Step
}

func (s StepSequence) Type() string { return "step_sequence" }

func (s StepSequence) Apply(pool *node.Pool, sch *schema.Schema) (*node.Pool, error) {
	next := pool
	for _, step := range s.Steps {
		var err error
		next, err = step.Apply(next, sch)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (s StepSequence) Invert(before *node.Pool) Step {
	inverses := make([]Step, len(s.Steps))
	pool := before
	for i, step := range s.Steps {
		inverses[len(s.Steps)-1-i] = step.Invert(pool)
		next, err := step.Apply(pool, nil)
		if err != nil {
			break
		}
		pool = next
	}
	return StepSequence{Steps: inverses}
}

// ---- pool-mutation helpers shared by the primitive steps ----
// These reach into node.Pool's unexported fields via same-module helper
// methods (put/delete/setParent) declared in pkg/node; Transform always
// operates on a pool clone so mutating in place here is safe.

func applyPut(p *node.Pool, id string, n *node.Node) { p.PutForStep(id, n) }

func applySetParent(p *node.Pool, childID, parentID string) { p.SetParentForStep(childID, parentID) }

func reparentDescendants(p *node.Pool, added map[string]*node.Node) {
	for id, n := range added {
		for _, childID := range n.Content {
			p.SetParentForStep(childID, id)
		}
	}
}

func cascadeDelete(next *node.Pool, before *node.Pool, id string) {
	n := before.Get(id)
	if n == nil {
		return
	}
	for _, childID := range n.Content {
		cascadeDelete(next, before, childID)
	}
	next.DeleteForStep(id)
}

func collectSubtree(pool *node.Pool, id string, out map[string]*node.Node) {
	n := pool.Get(id)
	if n == nil {
		return
	}
	out[id] = n
	for _, childID := range n.Content {
		collectSubtree(pool, childID, out)
	}
}
