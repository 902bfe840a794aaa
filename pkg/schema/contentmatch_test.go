package schema

import "testing"

func literalResolver(atom, typeName string) bool { return atom == typeName }

func TestContentMatchStar(t *testing.T) {
	cm, err := CompileContentMatch("paragraph*", literalResolver, []string{"paragraph"})
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	if !cm.Accepts(nil) {
		t.Fatalf("expected empty sequence accepted by star")
	}
	if !cm.Accepts([]string{"paragraph", "paragraph", "paragraph"}) {
		t.Fatalf("expected repeated paragraph accepted")
	}
	if cm.Accepts([]string{"heading"}) {
		t.Fatalf("expected unknown atom rejected")
	}
}

func TestContentMatchPlusRequiresOne(t *testing.T) {
	cm, err := CompileContentMatch("paragraph+", literalResolver, []string{"paragraph"})
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	if cm.Accepts(nil) {
		t.Fatalf("expected empty sequence rejected by plus")
	}
	if !cm.Accepts([]string{"paragraph"}) {
		t.Fatalf("expected single paragraph accepted")
	}
}

func TestContentMatchOptional(t *testing.T) {
	cm, err := CompileContentMatch("title? paragraph*", literalResolver, []string{"title", "paragraph"})
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	if !cm.Accepts([]string{"paragraph"}) {
		t.Fatalf("expected title-less sequence accepted")
	}
	if !cm.Accepts([]string{"title", "paragraph", "paragraph"}) {
		t.Fatalf("expected title-prefixed sequence accepted")
	}
	if cm.Accepts([]string{"title", "title"}) {
		t.Fatalf("expected double title rejected")
	}
}

func TestContentMatchAlternation(t *testing.T) {
	cm, err := CompileContentMatch("(paragraph | heading)+", literalResolver, []string{"paragraph", "heading"})
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	if !cm.Accepts([]string{"heading", "paragraph", "heading"}) {
		t.Fatalf("expected mixed sequence accepted")
	}
	if cm.Accepts([]string{"text"}) {
		t.Fatalf("expected unrelated atom rejected")
	}
}

func TestContentMatchRange(t *testing.T) {
	cm, err := CompileContentMatch("paragraph{2,3}", literalResolver, []string{"paragraph"})
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	if cm.Accepts([]string{"paragraph"}) {
		t.Fatalf("expected below-min rejected")
	}
	if !cm.Accepts([]string{"paragraph", "paragraph"}) {
		t.Fatalf("expected min count accepted")
	}
	if !cm.Accepts([]string{"paragraph", "paragraph", "paragraph"}) {
		t.Fatalf("expected max count accepted")
	}
	if cm.Accepts([]string{"paragraph", "paragraph", "paragraph", "paragraph"}) {
		t.Fatalf("expected above-max rejected")
	}
}

func TestContentMatchGroupResolver(t *testing.T) {
	groups := map[string]map[string]bool{"block": {"paragraph": true, "heading": true}}
	resolver := func(atom, typeName string) bool {
		if atom == typeName {
			return true
		}
		return groups[atom][typeName]
	}
	cm, err := CompileContentMatch("block*", resolver, []string{"paragraph", "heading"})
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	if !cm.Accepts([]string{"paragraph", "heading"}) {
		t.Fatalf("expected group members accepted")
	}
}

func TestContentMatchRequiredContinuations(t *testing.T) {
	cm, err := CompileContentMatch("title paragraph*", literalResolver, []string{"title", "paragraph"})
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	start := cm.Start()
	got := start.RequiredContinuations()
	if len(got) != 1 || got[0] != "title" {
		t.Fatalf("RequiredContinuations() at start = %v, want [title]", got)
	}
}

func TestContentMatchEmptyExpression(t *testing.T) {
	cm, err := CompileContentMatch("", literalResolver, nil)
	if err != nil {
		t.Fatalf("CompileContentMatch() error = %v", err)
	}
	if !cm.Accepts(nil) {
		t.Fatalf("expected empty content expression to accept empty sequence")
	}
	if cm.Accepts([]string{"paragraph"}) {
		t.Fatalf("expected empty content expression to reject any children")
	}
}

func TestParseContentExpressionInvalid(t *testing.T) {
	if _, err := ParseContentExpression("paragraph |"); err == nil {
		t.Fatalf("expected parse error for dangling alternation")
	}
	if _, err := ParseContentExpression("(paragraph"); err == nil {
		t.Fatalf("expected parse error for unclosed group")
	}
}
