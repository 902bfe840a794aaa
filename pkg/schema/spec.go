// Package schema compiles NodeSpec/MarkSpec declarations into validation
// rules and a content-matching automaton, per spec.md §4.1.
package schema

import "github.com/moduforge/moduforge-go/pkg/node"

// AttributeSpec describes one declared attribute of a node or mark type.
// When Default is nil and Required is true the attribute must be supplied
// by every node of this type; when Default is non-nil it is implicitly
// optional and filled in by create_and_fill.
type AttributeSpec struct {
	Default  interface{}
	Required bool
	// JSONSchema, when non-empty, is a JSON-Schema document (draft 2020-12)
	// that attribute values must additionally validate against, beyond the
	// required/default bookkeeping above. Grounded on
	// core/pkg/firewall/firewall.go's per-tool parameter schema compilation.
	JSONSchema string
}

// NodeSpec declares one node type's shape.
type NodeSpec struct {
	Name    string
	Content string // content expression, see contentmatch.go
	Marks   string // "" = all marks allowed, "_" = none, else space-separated list/groups
	Group   string // space-separated group memberships
	Desc    string
	Attrs   map[string]AttributeSpec
}

// MarkSpec declares one mark type's shape.
type MarkSpec struct {
	Name  string
	Desc  string
	Attrs map[string]AttributeSpec
}

// Spec is the uncompiled schema description supplied by the caller.
type Spec struct {
	Nodes   []NodeSpec
	Marks   []MarkSpec
	TopNode string // default root type; defaults to the first NodeSpec if empty
}

// compiledAttrs is the resolved per-type attribute bookkeeping.
type compiledAttrs struct {
	defaults map[string]interface{}
	required map[string]bool
	schemas  map[string]*compiledJSONSchema
}

func (c *compiledAttrs) fillDefaults(attrs node.Attrs) node.Attrs {
	out := attrs.Clone()
	if out == nil {
		out = node.Attrs{}
	}
	for name, def := range c.defaults {
		if _, ok := out[name]; !ok {
			out[name] = def
		}
	}
	return out
}
