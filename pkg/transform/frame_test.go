package transform

import (
	"testing"

	"github.com/moduforge/moduforge-go/pkg/node"
)

func TestEncodeDecodeStepsRoundtrip(t *testing.T) {
	idx := 1
	steps := []Step{
		AddNode{ParentID: "doc", Nodes: []*node.Node{{ID: "p2", Type: "paragraph"}}, NodePool: map[string]*node.Node{"p2": {ID: "p2", Type: "paragraph"}}, Index: &idx},
		RemoveNode{ParentID: "doc", IDs: []string{"p1"}},
		MoveNode{SourceParent: "p1", TargetParent: "p2", ID: "t1", Index: 2},
		AttrStep{NodeID: "p1", Attrs: node.Attrs{"align": "right"}},
		AddMark{NodeID: "p1", Marks: node.MarkSet{{Type: "bold"}}},
		RemoveMark{NodeID: "p1", MarkTypes: []string{"bold"}},
	}

	payload, err := EncodeSteps(steps)
	if err != nil {
		t.Fatalf("EncodeSteps() error = %v", err)
	}

	decoded, err := DecodeSteps(payload)
	if err != nil {
		t.Fatalf("DecodeSteps() error = %v", err)
	}
	if len(decoded) != len(steps) {
		t.Fatalf("decoded %d steps, want %d", len(decoded), len(steps))
	}
	for i, s := range steps {
		if decoded[i].Type() != s.Type() {
			t.Fatalf("step %d: decoded type %q, want %q", i, decoded[i].Type(), s.Type())
		}
	}
	addNode, ok := decoded[0].(AddNode)
	if !ok {
		t.Fatalf("expected decoded[0] to be AddNode, got %T", decoded[0])
	}
	if addNode.ParentID != "doc" || len(addNode.Nodes) != 1 {
		t.Fatalf("AddNode roundtrip mismatch: %+v", addNode)
	}
}

func TestDecodeStepsRejectsUnknownType(t *testing.T) {
	if _, err := DecodeSteps([]byte(`[{"type":"not_a_step","data":{}}]`)); err == nil {
		t.Fatalf("expected error for unknown step type")
	}
}
