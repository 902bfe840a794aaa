package node

import "testing"

func sampleNodes() map[string]*Node {
	return map[string]*Node{
		"doc": {ID: "doc", Type: "doc", Content: []string{"p1", "p2"}},
		"p1":  {ID: "p1", Type: "paragraph", Content: []string{"t1"}},
		"p2":  {ID: "p2", Type: "paragraph"},
		"t1":  {ID: "t1", Type: "text"},
	}
}

func TestNewBuildsParentMap(t *testing.T) {
	pool, err := New("doc", sampleNodes())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if parent, ok := pool.Parent("p1"); !ok || parent != "doc" {
		t.Fatalf("Parent(p1) = %q, %v", parent, ok)
	}
	if parent, ok := pool.Parent("t1"); !ok || parent != "p1" {
		t.Fatalf("Parent(t1) = %q, %v", parent, ok)
	}
	if _, ok := pool.Parent("doc"); ok {
		t.Fatalf("expected root to have no parent entry")
	}
}

func TestNewRejectsMissingChild(t *testing.T) {
	nodes := map[string]*Node{
		"doc": {ID: "doc", Type: "doc", Content: []string{"missing"}},
	}
	if _, err := New("doc", nodes); err == nil {
		t.Fatalf("expected error for dangling child reference")
	}
}

func TestNewRejectsSharedChild(t *testing.T) {
	nodes := map[string]*Node{
		"doc": {ID: "doc", Type: "doc", Content: []string{"p1", "p2"}},
		"p1":  {ID: "p1", Type: "paragraph", Content: []string{"shared"}},
		"p2":  {ID: "p2", Type: "paragraph", Content: []string{"shared"}},
		"shared": {ID: "shared", Type: "text"},
	}
	if _, err := New("doc", nodes); err == nil {
		t.Fatalf("expected error for node with two parents")
	}
}

func TestPoolCloneIsIndependent(t *testing.T) {
	pool, err := New("doc", sampleNodes())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clone := pool.Clone()
	clone.PutForStep("p3", &Node{ID: "p3", Type: "paragraph"})
	if pool.Get("p3") != nil {
		t.Fatalf("mutating clone leaked into original pool")
	}
	if clone.Get("p3") == nil {
		t.Fatalf("expected clone to carry new node")
	}
	if pool.Len() != 4 {
		t.Fatalf("original pool length changed: %d", pool.Len())
	}
}

func TestPoolIntegrityOK(t *testing.T) {
	pool, err := New("doc", sampleNodes())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := pool.Integrity(); err != nil {
		t.Fatalf("Integrity() error = %v", err)
	}
}

func TestPoolIntegrityDetectsUnreachableNode(t *testing.T) {
	nodes := sampleNodes()
	nodes["orphan"] = &Node{ID: "orphan", Type: "paragraph"}
	pool, err := New("doc", nodes)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := pool.Integrity(); err == nil {
		t.Fatalf("expected Integrity() to catch unreachable node")
	}
}

func TestPoolIntegrityDetectsCycle(t *testing.T) {
	nodes := map[string]*Node{
		"doc": {ID: "doc", Type: "doc", Content: []string{"a"}},
		"a":   {ID: "a", Type: "paragraph", Content: []string{"doc"}},
	}
	pool := &Pool{rootID: "doc", nodes: nodes, parentMap: map[string]string{"a": "doc", "doc": "a"}}
	if err := pool.Integrity(); err == nil {
		t.Fatalf("expected Integrity() to catch cycle")
	}
}

func TestPoolDeleteForStep(t *testing.T) {
	pool, err := New("doc", sampleNodes())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pool.DeleteForStep("t1")
	if pool.Get("t1") != nil {
		t.Fatalf("expected t1 removed")
	}
	if _, ok := pool.Parent("t1"); ok {
		t.Fatalf("expected parent map entry removed")
	}
}

func TestPoolEachVisitsAll(t *testing.T) {
	pool, err := New("doc", sampleNodes())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	seen := 0
	pool.Each(func(n *Node) { seen++ })
	if seen != pool.Len() {
		t.Fatalf("Each visited %d, want %d", seen, pool.Len())
	}
}
