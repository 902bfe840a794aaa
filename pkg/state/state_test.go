package state

import (
	"context"
	"testing"

	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/schema"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(schema.Spec{
		TopNode: "doc",
		Nodes: []schema.NodeSpec{
			{Name: "doc", Content: "paragraph*"},
			{Name: "paragraph", Content: "text*"},
			{Name: "text"},
		},
	})
	if err != nil {
		t.Fatalf("schema.Compile() error = %v", err)
	}
	return s
}

type countingField struct{ name string }

func (c countingField) Init(ctx context.Context, cfg *plugin.Config, partial plugin.State) (plugin.PluginState, error) {
	return 0, nil
}

func (c countingField) Apply(ctx context.Context, tr *transform.Transaction, old plugin.PluginState, oldState, newState plugin.State) (plugin.PluginState, error) {
	n, _ := old.(int)
	return n + 1, nil
}

func TestCreateFillsDocWhenAbsent(t *testing.T) {
	sch := testSchema(t)
	s, err := Create(context.Background(), Config{Schema: sch})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.Doc() == nil {
		t.Fatalf("expected doc to be filled from schema's top node")
	}
	if s.Version() != 1 {
		t.Fatalf("Version() = %d, want 1", s.Version())
	}
}

func TestCreateRunsPluginInitInDependencyOrder(t *testing.T) {
	sch := testSchema(t)
	p, err := plugin.New(plugin.Metadata{Name: "counter"}, plugin.WithStateField(countingField{name: "counter"}))
	if err != nil {
		t.Fatalf("plugin.New() error = %v", err)
	}
	s, err := Create(context.Background(), Config{Schema: sch, Plugins: []*plugin.Plugin{p}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v, ok := s.PluginState("counter")
	if !ok || v != 0 {
		t.Fatalf("PluginState(counter) = %v, %v, want 0, true", v, ok)
	}
}

func TestApplyFoldsStateFieldAndBumpsVersion(t *testing.T) {
	sch := testSchema(t)
	p, err := plugin.New(plugin.Metadata{Name: "counter"}, plugin.WithStateField(countingField{name: "counter"}))
	if err != nil {
		t.Fatalf("plugin.New() error = %v", err)
	}
	s, err := Create(context.Background(), Config{Schema: sch, Plugins: []*plugin.Plugin{p}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	doc := s.Doc()
	p2 := &node.Node{ID: "p2", Type: "paragraph"}
	tr := transform.NewTransaction(doc, sch)
	if err := tr.Step(transform.AddNode{ParentID: doc.RootID(), Nodes: []*node.Node{p2}, NodePool: map[string]*node.Node{"p2": p2}}); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	tr.Commit()

	result, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.State.Version() != 2 {
		t.Fatalf("Version() = %d, want 2", result.State.Version())
	}
	v, _ := result.State.PluginState("counter")
	if v != 1 {
		t.Fatalf("PluginState(counter) = %v, want 1", v)
	}
	if len(result.Transactions) != 1 {
		t.Fatalf("expected only the root transaction, got %d", len(result.Transactions))
	}
}

func TestApplyRespectsFilterRejection(t *testing.T) {
	sch := testSchema(t)
	p, err := plugin.New(plugin.Metadata{Name: "gate"}, plugin.WithFilter(func(ctx context.Context, tr *transform.Transaction, st plugin.State) (bool, error) {
		return false, nil
	}))
	if err != nil {
		t.Fatalf("plugin.New() error = %v", err)
	}
	s, err := Create(context.Background(), Config{Schema: sch, Plugins: []*plugin.Plugin{p}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	doc := s.Doc()
	p2 := &node.Node{ID: "p2", Type: "paragraph"}
	tr := transform.NewTransaction(doc, sch)
	if err := tr.Step(transform.AddNode{ParentID: doc.RootID(), Nodes: []*node.Node{p2}, NodePool: map[string]*node.Node{"p2": p2}}); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	tr.Commit()

	result, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.State.Version() != s.Version() {
		t.Fatalf("expected rejected transaction to leave version unchanged, got %d", result.State.Version())
	}
}

func TestApplyFoldsAppendedTransaction(t *testing.T) {
	sch := testSchema(t)
	appended := false
	var extraNode = &node.Node{ID: "p3", Type: "paragraph"}
	appender, err := plugin.New(plugin.Metadata{Name: "appender"}, plugin.WithAppend(
		func(ctx context.Context, trs []*transform.Transaction, oldState, newState plugin.State) (*transform.Transaction, error) {
			if appended {
				return nil, nil
			}
			appended = true
			tr := transform.NewTransaction(newState.Doc(), sch)
			if err := tr.Step(transform.AddNode{ParentID: newState.Doc().RootID(), Nodes: []*node.Node{extraNode}, NodePool: map[string]*node.Node{"p3": extraNode}}); err != nil {
				return nil, err
			}
			tr.Commit()
			return tr, nil
		}))
	if err != nil {
		t.Fatalf("plugin.New() error = %v", err)
	}
	s, err := Create(context.Background(), Config{Schema: sch, Plugins: []*plugin.Plugin{appender}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	doc := s.Doc()
	p2 := &node.Node{ID: "p2", Type: "paragraph"}
	tr := transform.NewTransaction(doc, sch)
	if err := tr.Step(transform.AddNode{ParentID: doc.RootID(), Nodes: []*node.Node{p2}, NodePool: map[string]*node.Node{"p2": p2}}); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	tr.Commit()

	result, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result.Transactions) != 2 {
		t.Fatalf("expected root + appended transaction, got %d", len(result.Transactions))
	}
	if result.State.Doc().Len() != 3 {
		t.Fatalf("expected doc to include both inserted paragraphs plus the root, got %d nodes", result.State.Doc().Len())
	}
}

func TestReconfigurePreservesExistingPluginState(t *testing.T) {
	sch := testSchema(t)
	p, err := plugin.New(plugin.Metadata{Name: "counter"}, plugin.WithStateField(countingField{name: "counter"}))
	if err != nil {
		t.Fatalf("plugin.New() error = %v", err)
	}
	s, err := Create(context.Background(), Config{Schema: sch, Plugins: []*plugin.Plugin{p}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	doc := s.Doc()
	p2 := &node.Node{ID: "p2", Type: "paragraph"}
	tr := transform.NewTransaction(doc, sch)
	if err := tr.Step(transform.AddNode{ParentID: doc.RootID(), Nodes: []*node.Node{p2}, NodePool: map[string]*node.Node{"p2": p2}}); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	tr.Commit()
	result, err := s.Apply(context.Background(), tr)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	next, err := Reconfigure(context.Background(), result.State, Config{Schema: sch, Plugins: []*plugin.Plugin{p}})
	if err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	v, ok := next.PluginState("counter")
	if !ok || v != 1 {
		t.Fatalf("Reconfigure() should preserve counter state, got %v, %v", v, ok)
	}
	if next.Doc() != result.State.Doc() {
		t.Fatalf("Reconfigure() should keep the same doc")
	}
}
