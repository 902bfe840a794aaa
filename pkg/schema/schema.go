package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/moduforge/moduforge-go/pkg/forgeerror"
	"github.com/moduforge/moduforge-go/pkg/node"
)

// compiledNodeType holds everything precomputed for one node type, per
// spec.md §4.1's "Schema compilation" steps 1-4.
type compiledNodeType struct {
	spec         NodeSpec
	attrs        compiledAttrs
	content      *ContentMatch
	marksAllowed func(markType string) bool
}

// compiledMarkType holds the resolved attribute bookkeeping for a mark type.
type compiledMarkType struct {
	spec  MarkSpec
	attrs compiledAttrs
}

// Schema is the compiled, immutable result of Compile(Spec). It is safe for
// concurrent read access (it is never mutated after Compile returns).
type Schema struct {
	nodeTypes map[string]*compiledNodeType
	markTypes map[string]*compiledMarkType
	groups    map[string]map[string]bool // group name -> member type names
	typeList  []string                   // stable-sorted concrete node type names
	topNode   string
}

// Compile builds a Schema from a Spec, per spec.md §4.1.
func Compile(spec Spec) (*Schema, error) {
	if len(spec.Nodes) == 0 {
		return nil, forgeerror.Schema("empty_spec", "", "schema must declare at least one node type")
	}

	s := &Schema{
		nodeTypes: map[string]*compiledNodeType{},
		markTypes: map[string]*compiledMarkType{},
		groups:    map[string]map[string]bool{},
	}

	for _, ns := range spec.Nodes {
		if _, dup := s.nodeTypes[ns.Name]; dup {
			return nil, forgeerror.Schema("duplicate_type", ns.Name, "node type declared twice")
		}
		s.nodeTypes[ns.Name] = &compiledNodeType{spec: ns}
		s.typeList = append(s.typeList, ns.Name)
		for _, g := range strings.Fields(ns.Group) {
			if s.groups[g] == nil {
				s.groups[g] = map[string]bool{}
			}
			s.groups[g][ns.Name] = true
		}
	}
	sort.Strings(s.typeList)

	for _, ms := range spec.Marks {
		if _, dup := s.markTypes[ms.Name]; dup {
			return nil, forgeerror.Schema("duplicate_mark_type", ms.Name, "mark type declared twice")
		}
		attrs, err := compileAttrSpecs(ms.Name, ms.Attrs)
		if err != nil {
			return nil, err
		}
		s.markTypes[ms.Name] = &compiledMarkType{spec: ms, attrs: *attrs}
	}

	resolver := func(atom, typeName string) bool {
		if atom == typeName {
			return true
		}
		if members, ok := s.groups[atom]; ok {
			return members[typeName]
		}
		return false
	}

	for name, cnt := range s.nodeTypes {
		attrs, err := compileAttrSpecs(name, cnt.spec.Attrs)
		if err != nil {
			return nil, err
		}
		cnt.attrs = *attrs

		cm, err := CompileContentMatch(cnt.spec.Content, resolver, s.typeList)
		if err != nil {
			return nil, forgeerror.Schema("invalid_content_expression", name, err.Error())
		}
		cnt.content = cm

		cnt.marksAllowed = s.compileMarkExpr(cnt.spec.Marks)
	}

	s.topNode = spec.TopNode
	if s.topNode == "" {
		s.topNode = spec.Nodes[0].Name
	}
	if _, ok := s.nodeTypes[s.topNode]; !ok {
		return nil, forgeerror.UnknownType(s.topNode)
	}

	return s, nil
}

func (s *Schema) compileMarkExpr(expr string) func(string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return func(string) bool { return true } // undeclared = all marks allowed
	}
	if expr == "_" {
		return func(string) bool { return false }
	}
	allowed := map[string]bool{}
	for _, atom := range strings.Fields(expr) {
		if members, ok := s.groups[atom]; ok {
			for m := range members {
				allowed[m] = true
			}
			continue
		}
		allowed[atom] = true
	}
	return func(markType string) bool { return allowed[markType] }
}

func compileAttrSpecs(ownerType string, specs map[string]AttributeSpec) (*compiledAttrs, error) {
	out := &compiledAttrs{
		defaults: map[string]interface{}{},
		required: map[string]bool{},
		schemas:  map[string]*compiledJSONSchema{},
	}
	for name, as := range specs {
		if as.Default != nil {
			out.defaults[name] = as.Default
		} else if as.Required {
			out.required[name] = true
		}
		if as.JSONSchema != "" {
			compiled, err := compileJSONSchema(ownerType+"."+name, as.JSONSchema)
			if err != nil {
				return nil, forgeerror.Schema("invalid_attr_schema", ownerType, err.Error())
			}
			out.schemas[name] = compiled
		}
	}
	return out, nil
}

// TopNode returns the schema's default root type name.
func (s *Schema) TopNode() string { return s.topNode }

// NodeType returns whether typeName is declared, and its spec if so.
func (s *Schema) NodeType(typeName string) (NodeSpec, bool) {
	cnt, ok := s.nodeTypes[typeName]
	if !ok {
		return NodeSpec{}, false
	}
	return cnt.spec, true
}

// CheckAttrs validates attrs against typeName's AttributeSpecs: every key
// must be declared, every required attr must be present, and any declared
// JSON-Schema for an attr must accept its value. Per spec.md §4.1.
func (s *Schema) CheckAttrs(typeName string, attrs node.Attrs) error {
	cnt, ok := s.nodeTypes[typeName]
	if !ok {
		return forgeerror.UnknownType(typeName)
	}
	return checkAttrs(typeName, &cnt.attrs, attrs, cnt.spec.Attrs)
}

// CheckMarkAttrs validates attrs for a mark type the same way CheckAttrs
// does for node types.
func (s *Schema) CheckMarkAttrs(markType string, attrs node.Attrs) error {
	cmt, ok := s.markTypes[markType]
	if !ok {
		return forgeerror.UnknownType(markType)
	}
	return checkAttrs(markType, &cmt.attrs, attrs, cmt.spec.Attrs)
}

func checkAttrs(typeName string, compiled *compiledAttrs, attrs node.Attrs, declared map[string]AttributeSpec) error {
	for k := range attrs {
		if _, ok := declared[k]; !ok {
			return forgeerror.Schema("undeclared_attr", typeName, k)
		}
	}
	for k := range compiled.required {
		if _, ok := attrs[k]; !ok {
			return forgeerror.MissingAttr(typeName, k)
		}
	}
	for k, cs := range compiled.schemas {
		v, ok := attrs[k]
		if !ok {
			continue
		}
		if err := cs.Validate(v); err != nil {
			return forgeerror.Schema("attr_schema_violation", typeName, fmt.Sprintf("%s: %v", k, err))
		}
	}
	return nil
}

// CheckContent runs the child type sequence through typeName's ContentMatch
// DFA; legal iff the final state is a valid end. Per spec.md §4.1.
func (s *Schema) CheckContent(childTypes []string, parentType string) error {
	cnt, ok := s.nodeTypes[parentType]
	if !ok {
		return forgeerror.UnknownType(parentType)
	}
	if !cnt.content.Accepts(childTypes) {
		return forgeerror.ContentMismatch(parentType, fmt.Sprintf("children %v do not satisfy content expression %q", childTypes, cnt.spec.Content))
	}
	return nil
}

// MarksAllowed reports whether markType may attach to nodes of typeName.
func (s *Schema) MarksAllowed(typeName, markType string) bool {
	cnt, ok := s.nodeTypes[typeName]
	if !ok {
		return false
	}
	return cnt.marksAllowed(markType)
}

// FillResult is the outcome of CreateAndFill: the new node plus any
// minimal subtree nodes synthesized to satisfy content requirements.
type FillResult struct {
	Root  *node.Node
	Extra []*node.Node // additional synthesized descendant nodes, by id
}

const maxFillDepth = 64

// CreateAndFill implements spec.md §4.1's create_and_fill: if children do
// not already satisfy typeName's content match, it walks the longest
// accepting prefix and then greedily creates minimal required-continuation
// subtrees until a valid end state is reached, or fails with
// SchemaError{ContentMismatch} if no fill is possible (e.g. a required
// continuation type itself has a required attr with no default, as in
// spec.md §9 scenario S2).
func (s *Schema) CreateAndFill(typeName string, attrs node.Attrs, children []*node.Node, marks node.MarkSet) (*FillResult, error) {
	cnt, ok := s.nodeTypes[typeName]
	if !ok {
		return nil, forgeerror.UnknownType(typeName)
	}

	filledAttrs := cnt.attrs.fillDefaults(attrs)
	if err := s.CheckAttrs(typeName, filledAttrs); err != nil {
		return nil, err
	}

	for _, m := range marks {
		if !cnt.marksAllowed(m.Type) {
			return nil, forgeerror.Schema("mark_not_allowed", typeName, m.Type)
		}
	}

	childTypes := make([]string, len(children))
	for i, c := range children {
		childTypes[i] = c.Type
	}

	st, ok := cnt.content.MatchSequence(childTypes)
	if !ok {
		return nil, forgeerror.ContentMismatch(typeName, fmt.Sprintf("children %v not accepted from the start", childTypes))
	}

	var extra []*node.Node
	depth := 0
	for !st.ValidEnd() {
		depth++
		if depth > maxFillDepth {
			return nil, forgeerror.ContentMismatch(typeName, "fill did not terminate within the depth bound")
		}
		candidates := st.RequiredContinuations()
		if len(candidates) == 0 {
			return nil, forgeerror.ContentMismatch(typeName, "no legal continuation to reach a valid end state")
		}
		var built *FillResult
		var nextSt MatchState
		var fillErr error
		for _, cand := range candidates {
			sub, err := s.createMinimal(cand, depth)
			if err != nil {
				fillErr = err
				continue
			}
			trySt, ok := st.MatchType(cand)
			if !ok {
				continue
			}
			built = sub
			nextSt = trySt
			break
		}
		if built == nil {
			if fillErr != nil {
				return nil, fillErr
			}
			return nil, forgeerror.ContentMismatch(typeName, "no candidate continuation could be filled")
		}
		children = append(children, built.Root)
		extra = append(extra, built.Root)
		extra = append(extra, built.Extra...)
		st = nextSt
	}

	root := &node.Node{
		ID:      uuid.NewString(),
		Type:    typeName,
		Attrs:   filledAttrs,
		Content: idsOf(children),
		Marks:   marks,
	}
	return &FillResult{Root: root, Extra: extra}, nil
}

// createMinimal recursively builds the smallest legal subtree of typeName
// with no provided children, returning its root and every synthesized
// descendant, and failing if the type has a required attr without a
// default (this is what makes S2 in spec.md §9 fail).
func (s *Schema) createMinimal(typeName string, depth int) (*FillResult, error) {
	if depth > maxFillDepth {
		return nil, forgeerror.ContentMismatch(typeName, "minimal-subtree construction did not terminate")
	}
	return s.CreateAndFill(typeName, nil, nil, nil)
}

func idsOf(nodes []*node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

// BuildPool assembles a FillResult (and any further descendants already
// present in children) into a node.Pool rooted at result.Root.
func BuildPool(result *FillResult, children []*node.Node) (*node.Pool, error) {
	nodes := map[string]*node.Node{result.Root.ID: result.Root}
	for _, c := range children {
		nodes[c.ID] = c
	}
	for _, e := range result.Extra {
		nodes[e.ID] = e
	}
	return node.New(result.Root.ID, nodes)
}
