// Package replication implements the step-to-CRDT mapping adapter from
// spec.md §4.11: a registry of converters plus BFS bootstrap. The CRDT
// document itself is treated as an opaque collaborator per the spec; Doc
// below is a minimal last-write-wins-per-field in-memory implementation of
// that contract, grounded on other_examples' LWWRegister (conflict
// resolution by timestamp-then-node-id) rather than any one teacher file,
// since the pack carries no dedicated CRDT package.
package replication

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

// CRDTNode is one node's CRDT-side representation: type, a sub-map of
// attrs, and an ordered array of child ids, per spec.md §4.11's mapping
// table.
type CRDTNode struct {
	Type    string
	Attrs   map[string]crdtField
	Content []string
	Marks   []node.Mark
}

type crdtField struct {
	value     interface{}
	updatedAt time.Time
	nodeID    string // replica id, used to break timestamp ties deterministically
}

// Doc is a per-room CRDT document: a map of node id to CRDTNode plus a root
// id, mutated by Bootstrap and by transactions (ApplyFramedStep). Attribute
// writes follow last-writer-wins; content and mark changes are applied in
// the order steps arrive.
type Doc struct {
	mu      sync.Mutex
	RoomID  string
	RootID  string
	Nodes   map[string]*CRDTNode
	replica string
}

// NewDoc creates an empty per-room CRDT document. replica identifies this
// process for LWW tie-breaking.
func NewDoc(roomID, replica string) *Doc {
	return &Doc{RoomID: roomID, Nodes: map[string]*CRDTNode{}, replica: replica}
}

// Registry maps step-type tags to converters, per spec.md §4.11: "A
// registry maps step-type tags to converters; an unknown step type logs a
// warning and is skipped."
type Registry struct {
	converters map[string]func(ctx context.Context, doc *Doc, step transform.Step) error
	log        *slog.Logger
}

// NewRegistry builds a Registry with the canonical converters for every
// primitive step type wired in.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{converters: map[string]func(context.Context, *Doc, transform.Step) error{}, log: log}
	r.converters["add_node"] = convertAddNode
	r.converters["remove_node"] = convertRemoveNode
	r.converters["attr_step"] = convertAttrStep
	r.converters["add_mark"] = convertAddMark
	r.converters["remove_mark"] = convertRemoveMark
	r.converters["move_node"] = convertMoveNode
	return r
}

// ApplyFramedStep converts step and mutates doc under a single CRDT
// transaction (Doc's mutex), so a MoveNode's remove+insert pair is atomic,
// per spec.md §4.11.
func (r *Registry) ApplyFramedStep(ctx context.Context, doc *Doc, step transform.Step) error {
	conv, ok := r.converters[step.Type()]
	if !ok {
		r.log.Warn("replication: unknown step type, skipping (persistence log remains authoritative)", "type", step.Type())
		return nil
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return conv(ctx, doc, step)
}

// Bootstrap converts an entire NodePool into doc via BFS from root, using
// the same converters iteratively, per spec.md §4.11.
func (r *Registry) Bootstrap(ctx context.Context, doc *Doc, pool *node.Pool) error {
	doc.mu.Lock()
	doc.RootID = pool.RootID()
	doc.mu.Unlock()

	queue := []string{pool.RootID()}
	visited := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		n := pool.Get(id)
		if n == nil {
			continue
		}
		doc.mu.Lock()
		doc.Nodes[id] = fromNode(n, doc.replica)
		doc.mu.Unlock()
		queue = append(queue, n.Content...)
	}
	return nil
}

func fromNode(n *node.Node, replica string) *CRDTNode {
	attrs := make(map[string]crdtField, len(n.Attrs))
	now := time.Now()
	for k, v := range n.Attrs {
		attrs[k] = crdtField{value: v, updatedAt: now, nodeID: replica}
	}
	return &CRDTNode{
		Type:    n.Type,
		Attrs:   attrs,
		Content: append([]string(nil), n.Content...),
		Marks:   append([]node.Mark(nil), n.Marks...),
	}
}

func setField(fields map[string]crdtField, key string, value interface{}, replica string) {
	now := time.Now()
	if existing, ok := fields[key]; ok {
		if existing.updatedAt.After(now) {
			return
		}
		if existing.updatedAt.Equal(now) && existing.nodeID > replica {
			return
		}
	}
	fields[key] = crdtField{value: value, updatedAt: now, nodeID: replica}
}
