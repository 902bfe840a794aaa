package node

import (
	"fmt"
)

// Pool is a persistent (structurally-shared-by-value) mapping id -> *Node
// plus a root id and a derived parent map, per spec.md §3 ("NodePool").
//
// Sharing strategy: per the Design Notes in spec.md §9, a full HAMT/RRB-tree
// is not available in the pack's dependency set, so Pool falls back to the
// minimum the spec allows: every edit clones the top-level id->*Node map
// (one map allocation per edit) but *Node values for untouched ids are
// never copied, so whole unmodified subtrees are shared by pointer across
// pool versions.
type Pool struct {
	rootID    string
	nodes     map[string]*Node
	parentMap map[string]string // child id -> parent id; root has no entry
}

// New builds a Pool from a root id and the full set of nodes reachable from
// it. It computes and validates the parent map; callers needing schema
// validation should additionally run schema.Validate.
func New(rootID string, nodes map[string]*Node) (*Pool, error) {
	p := &Pool{rootID: rootID, nodes: nodes, parentMap: map[string]string{}}
	if err := p.rebuildParentMap(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) rebuildParentMap() error {
	p.parentMap = make(map[string]string, len(p.nodes))
	for id, n := range p.nodes {
		for _, childID := range n.Content {
			child, ok := p.nodes[childID]
			if !ok {
				return fmt.Errorf("node %s references missing child %s", id, childID)
			}
			if prev, ok := p.parentMap[childID]; ok && prev != id {
				return fmt.Errorf("node %s has two parents: %s and %s", childID, prev, id)
			}
			p.parentMap[childID] = id
			_ = child
		}
	}
	return nil
}

// RootID returns the pool's root node id.
func (p *Pool) RootID() string { return p.rootID }

// Get returns the node with the given id, or nil if absent.
func (p *Pool) Get(id string) *Node { return p.nodes[id] }

// Root returns the root node.
func (p *Pool) Root() *Node { return p.nodes[p.rootID] }

// Parent returns the parent id of child, and whether it has one (the root
// never has one).
func (p *Pool) Parent(childID string) (string, bool) {
	id, ok := p.parentMap[childID]
	return id, ok
}

// Len returns the number of nodes in the pool.
func (p *Pool) Len() int { return len(p.nodes) }

// Each calls fn for every node in the pool in unspecified order.
func (p *Pool) Each(fn func(*Node)) {
	for _, n := range p.nodes {
		fn(n)
	}
}

// Clone returns a new Pool sharing all *Node values with p (a shallow clone
// of the id->*Node map). Draft mutation should operate on the clone.
func (p *Pool) Clone() *Pool {
	nodes := make(map[string]*Node, len(p.nodes))
	for k, v := range p.nodes {
		nodes[k] = v
	}
	parentMap := make(map[string]string, len(p.parentMap))
	for k, v := range p.parentMap {
		parentMap[k] = v
	}
	return &Pool{rootID: p.rootID, nodes: nodes, parentMap: parentMap}
}

// Integrity checks the three structural invariants of spec.md §3:
//   - every id referenced by content is present
//   - parentMap is exactly the inverse of content
//   - the tree rooted at rootID is acyclic and covers every node exactly once
func (p *Pool) Integrity() error {
	if _, ok := p.nodes[p.rootID]; !ok {
		return fmt.Errorf("root id %s not present in pool", p.rootID)
	}
	visited := make(map[string]bool, len(p.nodes))
	var walk func(id, parent string) error
	walk = func(id, parent string) error {
		if visited[id] {
			return fmt.Errorf("cycle or shared ownership detected at node %s", id)
		}
		visited[id] = true
		n, ok := p.nodes[id]
		if !ok {
			return fmt.Errorf("dangling reference to missing node %s", id)
		}
		if id != p.rootID {
			pid, ok := p.parentMap[id]
			if !ok || pid != parent {
				return fmt.Errorf("parent map inconsistent for node %s: map=%q expected=%q", id, pid, parent)
			}
		}
		for _, childID := range n.Content {
			if err := walk(childID, id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(p.rootID, ""); err != nil {
		return err
	}
	if len(visited) != len(p.nodes) {
		return fmt.Errorf("pool has %d unreachable node(s)", len(p.nodes)-len(visited))
	}
	return nil
}

// PutForStep inserts or replaces node id in the pool. It is a low-level
// building block for pkg/transform's primitive steps, which always operate
// on a Clone()'d pool and are responsible for restoring the parent-map and
// content invariants before returning (see Pool.Integrity).
func (p *Pool) PutForStep(id string, n *Node) {
	p.nodes[id] = n
}

// DeleteForStep removes node id from the pool and its parent-map entry.
func (p *Pool) DeleteForStep(id string) {
	delete(p.nodes, id)
	delete(p.parentMap, id)
}

// SetParentForStep records that childID's parent is parentID.
func (p *Pool) SetParentForStep(childID, parentID string) {
	p.parentMap[childID] = parentID
}
