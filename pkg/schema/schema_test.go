package schema

import (
	"testing"

	"github.com/moduforge/moduforge-go/pkg/node"
)

func docSpec() Spec {
	return Spec{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "paragraph+"},
			{Name: "paragraph", Content: "text*", Group: "block", Marks: "bold",
				Attrs: map[string]AttributeSpec{"align": {Default: "left"}}},
			{Name: "text", Group: "inline"},
		},
		Marks: []MarkSpec{
			{Name: "bold"},
			{Name: "italic"},
		},
	}
}

func TestCompileRejectsEmptySpec(t *testing.T) {
	if _, err := Compile(Spec{}); err == nil {
		t.Fatalf("expected error for empty spec")
	}
}

func TestCompileRejectsDuplicateNodeType(t *testing.T) {
	spec := docSpec()
	spec.Nodes = append(spec.Nodes, NodeSpec{Name: "doc"})
	if _, err := Compile(spec); err == nil {
		t.Fatalf("expected error for duplicate node type")
	}
}

func TestCompileDefaultsTopNodeToFirst(t *testing.T) {
	spec := docSpec()
	spec.TopNode = ""
	s, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if s.TopNode() != "doc" {
		t.Fatalf("TopNode() = %q, want doc", s.TopNode())
	}
}

func TestCompileRejectsUnknownTopNode(t *testing.T) {
	spec := docSpec()
	spec.TopNode = "missing"
	if _, err := Compile(spec); err == nil {
		t.Fatalf("expected error for unknown top node")
	}
}

func TestCheckAttrsRequiredAndDefaults(t *testing.T) {
	s, err := Compile(docSpec())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if err := s.CheckAttrs("paragraph", node.Attrs{"align": "right"}); err != nil {
		t.Fatalf("CheckAttrs() error = %v", err)
	}
	if err := s.CheckAttrs("paragraph", node.Attrs{"unknown": 1}); err == nil {
		t.Fatalf("expected error for undeclared attr")
	}
}

func TestCheckAttrsMissingRequired(t *testing.T) {
	spec := docSpec()
	spec.Nodes[1].Attrs["caption"] = AttributeSpec{Required: true}
	s, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if err := s.CheckAttrs("paragraph", node.Attrs{}); err == nil {
		t.Fatalf("expected error for missing required attr")
	}
}

func TestCheckContent(t *testing.T) {
	s, err := Compile(docSpec())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if err := s.CheckContent([]string{"paragraph"}, "doc"); err != nil {
		t.Fatalf("CheckContent() error = %v", err)
	}
	if err := s.CheckContent(nil, "doc"); err == nil {
		t.Fatalf("expected error: doc requires at least one paragraph")
	}
}

func TestMarksAllowed(t *testing.T) {
	s, err := Compile(docSpec())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !s.MarksAllowed("paragraph", "bold") {
		t.Fatalf("expected bold allowed on paragraph")
	}
	if s.MarksAllowed("paragraph", "italic") {
		t.Fatalf("expected italic disallowed on paragraph (marks=\"bold\" only)")
	}
	if !s.MarksAllowed("text", "italic") {
		t.Fatalf("expected undeclared marks expression to allow any mark on text")
	}
}

func TestCreateAndFillNoFillNeeded(t *testing.T) {
	s, err := Compile(docSpec())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	textNode := &node.Node{ID: "t1", Type: "text"}
	res, err := s.CreateAndFill("paragraph", nil, []*node.Node{textNode}, nil)
	if err != nil {
		t.Fatalf("CreateAndFill() error = %v", err)
	}
	if res.Root.Attrs["align"] != "left" {
		t.Fatalf("expected default attr filled, got %v", res.Root.Attrs["align"])
	}
	if len(res.Extra) != 0 {
		t.Fatalf("expected no synthesized nodes, got %d", len(res.Extra))
	}
}

func TestCreateAndFillSynthesizesRequiredChild(t *testing.T) {
	s, err := Compile(docSpec())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	res, err := s.CreateAndFill("doc", nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateAndFill() error = %v", err)
	}
	if len(res.Extra) != 1 || res.Extra[0].Type != "paragraph" {
		t.Fatalf("expected one synthesized paragraph, got %+v", res.Extra)
	}
	if len(res.Root.Content) != 1 {
		t.Fatalf("expected root content to reference synthesized paragraph")
	}
}

func TestCreateAndFillFailsWhenNoDefaultForRequiredChild(t *testing.T) {
	spec := docSpec()
	spec.Nodes[1].Attrs["caption"] = AttributeSpec{Required: true}
	s, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := s.CreateAndFill("doc", nil, nil, nil); err == nil {
		t.Fatalf("expected fill to fail: paragraph has a required attr with no default")
	}
}

func TestBuildPool(t *testing.T) {
	s, err := Compile(docSpec())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	res, err := s.CreateAndFill("doc", nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateAndFill() error = %v", err)
	}
	pool, err := BuildPool(res, nil)
	if err != nil {
		t.Fatalf("BuildPool() error = %v", err)
	}
	if err := pool.Integrity(); err != nil {
		t.Fatalf("Integrity() error = %v", err)
	}
}
