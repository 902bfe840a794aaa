package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/moduforge/moduforge-go/pkg/node"
	"github.com/moduforge/moduforge-go/pkg/plugin"
	"github.com/moduforge/moduforge-go/pkg/schema"
	"github.com/moduforge/moduforge-go/pkg/state"
	"github.com/moduforge/moduforge-go/pkg/transform"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(schema.Spec{
		TopNode: "doc",
		Nodes: []schema.NodeSpec{
			{Name: "doc", Content: "paragraph*"},
			{Name: "paragraph", Content: "text*", Group: "block"},
			{Name: "text", Group: "inline"},
		},
		Marks: []schema.MarkSpec{{Name: "bold"}},
	})
	if err != nil {
		t.Fatalf("schema.Compile() error = %v", err)
	}
	return s
}

func testPool(t *testing.T) *node.Pool {
	t.Helper()
	pool, err := node.New("doc", map[string]*node.Node{
		"doc": {ID: "doc", Type: "doc", Content: []string{"p1"}},
		"p1":  {ID: "p1", Type: "paragraph"},
	})
	if err != nil {
		t.Fatalf("node.New() error = %v", err)
	}
	return pool
}

func testState(t *testing.T) *state.State {
	t.Helper()
	s, err := state.Create(context.Background(), state.Config{Schema: testSchema(t), Doc: testPool(t)})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}
	return s
}

// addParagraphCommand appends a fresh paragraph under doc; used to exercise
// Command/Dispatch across all three driver flavors.
type addParagraphCommand struct {
	id string
}

func (c addParagraphCommand) Execute(tr *transform.Transaction) error {
	p := &node.Node{ID: c.id, Type: "paragraph"}
	return tr.Step(transform.AddNode{ParentID: "doc", Nodes: []*node.Node{p}, NodePool: map[string]*node.Node{c.id: p}})
}

func newTransaction(t *testing.T, st *state.State) *transform.Transaction {
	t.Helper()
	return transform.NewTransaction(st.Doc(), st.Schema())
}

// contextTimeout bounds how long a test waits for an asynchronously
// delivered event before failing.
func contextTimeout() <-chan time.Time {
	return time.After(time.Second)
}

type countingField struct{ name string }

func (c countingField) Init(ctx context.Context, cfg *plugin.Config, partial plugin.State) (plugin.PluginState, error) {
	return 0, nil
}

func (c countingField) Apply(ctx context.Context, tr *transform.Transaction, old plugin.PluginState, oldState, newState plugin.State) (plugin.PluginState, error) {
	n, _ := old.(int)
	return n + 1, nil
}

func mustCountingPlugin(t *testing.T, name string) *plugin.Plugin {
	t.Helper()
	p, err := plugin.New(plugin.Metadata{Name: name}, plugin.WithStateField(countingField{name: name}))
	if err != nil {
		t.Fatalf("plugin.New(%q) error = %v", name, err)
	}
	return p
}
