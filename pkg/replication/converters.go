package replication

import (
	"context"
	"fmt"

	"github.com/moduforge/moduforge-go/pkg/transform"
)

func convertAddNode(ctx context.Context, doc *Doc, step transform.Step) error {
	s, ok := step.(transform.AddNode)
	if !ok {
		return fmt.Errorf("replication: add_node converter got %T", step)
	}
	// BFS order over the subtree(s) being inserted, per spec.md §4.11.
	queue := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		queue[i] = n.ID
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, ok := s.NodePool[id]
		if !ok {
			continue
		}
		doc.Nodes[id] = fromNode(n, doc.replica)
		queue = append(queue, n.Content...)
	}

	parent, ok := doc.Nodes[s.ParentID]
	if !ok {
		return fmt.Errorf("replication: add_node parent %s not in CRDT doc", s.ParentID)
	}
	idx := len(parent.Content)
	if s.Index != nil {
		idx = *s.Index
	}
	newIDs := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		newIDs[i] = n.ID
	}
	content := make([]string, 0, len(parent.Content)+len(newIDs))
	content = append(content, parent.Content[:idx]...)
	content = append(content, newIDs...)
	content = append(content, parent.Content[idx:]...)
	parent.Content = content
	return nil
}

func convertRemoveNode(ctx context.Context, doc *Doc, step transform.Step) error {
	s, ok := step.(transform.RemoveNode)
	if !ok {
		return fmt.Errorf("replication: remove_node converter got %T", step)
	}
	parent, ok := doc.Nodes[s.ParentID]
	if !ok {
		return fmt.Errorf("replication: remove_node parent %s not in CRDT doc", s.ParentID)
	}
	remove := map[string]bool{}
	for _, id := range s.IDs {
		remove[id] = true
	}
	content := make([]string, 0, len(parent.Content))
	for _, id := range parent.Content {
		if !remove[id] {
			content = append(content, id)
		}
	}
	parent.Content = content
	for _, id := range s.IDs {
		deleteSubtree(doc, id)
	}
	return nil
}

func deleteSubtree(doc *Doc, id string) {
	n, ok := doc.Nodes[id]
	if !ok {
		return
	}
	for _, childID := range n.Content {
		deleteSubtree(doc, childID)
	}
	delete(doc.Nodes, id)
}

func convertAttrStep(ctx context.Context, doc *Doc, step transform.Step) error {
	s, ok := step.(transform.AttrStep)
	if !ok {
		return fmt.Errorf("replication: attr_step converter got %T", step)
	}
	n, ok := doc.Nodes[s.NodeID]
	if !ok {
		return fmt.Errorf("replication: attr_step node %s not in CRDT doc", s.NodeID)
	}
	for k, v := range s.Attrs {
		if v == nil {
			delete(n.Attrs, k)
			continue
		}
		setField(n.Attrs, k, v, doc.replica)
	}
	return nil
}

func convertAddMark(ctx context.Context, doc *Doc, step transform.Step) error {
	s, ok := step.(transform.AddMark)
	if !ok {
		return fmt.Errorf("replication: add_mark converter got %T", step)
	}
	n, ok := doc.Nodes[s.NodeID]
	if !ok {
		return fmt.Errorf("replication: add_mark node %s not in CRDT doc", s.NodeID)
	}
	for _, m := range s.Marks {
		replaced := false
		for i, existing := range n.Marks {
			if existing.Type == m.Type {
				n.Marks[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			n.Marks = append(n.Marks, m)
		}
	}
	return nil
}

func convertRemoveMark(ctx context.Context, doc *Doc, step transform.Step) error {
	s, ok := step.(transform.RemoveMark)
	if !ok {
		return fmt.Errorf("replication: remove_mark converter got %T", step)
	}
	n, ok := doc.Nodes[s.NodeID]
	if !ok {
		return fmt.Errorf("replication: remove_mark node %s not in CRDT doc", s.NodeID)
	}
	skip := map[string]bool{}
	for _, t := range s.MarkTypes {
		skip[t] = true
	}
	kept := n.Marks[:0]
	for _, m := range n.Marks {
		if !skip[m.Type] {
			kept = append(kept, m)
		}
	}
	n.Marks = kept
	return nil
}

func convertMoveNode(ctx context.Context, doc *Doc, step transform.Step) error {
	s, ok := step.(transform.MoveNode)
	if !ok {
		return fmt.Errorf("replication: move_node converter got %T", step)
	}
	src, ok := doc.Nodes[s.SourceParent]
	if !ok {
		return fmt.Errorf("replication: move_node source %s not in CRDT doc", s.SourceParent)
	}
	content := make([]string, 0, len(src.Content))
	for _, id := range src.Content {
		if id != s.ID {
			content = append(content, id)
		}
	}
	src.Content = content

	dst := src
	if s.TargetParent != s.SourceParent {
		var ok2 bool
		dst, ok2 = doc.Nodes[s.TargetParent]
		if !ok2 {
			return fmt.Errorf("replication: move_node target %s not in CRDT doc", s.TargetParent)
		}
	}
	idx := s.Index
	if idx < 0 || idx > len(dst.Content) {
		idx = len(dst.Content)
	}
	dstContent := make([]string, 0, len(dst.Content)+1)
	dstContent = append(dstContent, dst.Content[:idx]...)
	dstContent = append(dstContent, s.ID)
	dstContent = append(dstContent, dst.Content[idx:]...)
	dst.Content = dstContent
	return nil
}
