package schema

import "testing"

func TestCompileJSONSchemaValidatesValue(t *testing.T) {
	c, err := compileJSONSchema("paragraph.indent", `{"type":"integer","minimum":0}`)
	if err != nil {
		t.Fatalf("compileJSONSchema() error = %v", err)
	}
	if err := c.Validate(float64(2)); err != nil {
		t.Fatalf("Validate(2) error = %v", err)
	}
	if err := c.Validate(float64(-1)); err == nil {
		t.Fatalf("expected Validate(-1) to fail minimum constraint")
	}
}

func TestCompileJSONSchemaRejectsInvalidDocument(t *testing.T) {
	if _, err := compileJSONSchema("broken", `{not json`); err == nil {
		t.Fatalf("expected error for malformed schema document")
	}
}

func TestCheckAttrsEnforcesJSONSchema(t *testing.T) {
	spec := docSpec()
	spec.Nodes[1].Attrs["indent"] = AttributeSpec{Default: float64(0), JSONSchema: `{"type":"integer","minimum":0}`}
	s, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if err := s.CheckAttrs("paragraph", map[string]interface{}{"indent": float64(-5)}); err == nil {
		t.Fatalf("expected attr schema violation")
	}
}
