package schema

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledJSONSchema wraps a compiled JSON-Schema document used for deep
// attribute-value validation (AttributeSpec.JSONSchema), grounded on
// core/pkg/firewall/firewall.go's per-tool parameter schema compilation.
type compiledJSONSchema struct {
	schema *jsonschema.Schema
}

func compileJSONSchema(id, document string) (*compiledJSONSchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("helm://schemas/moduforge/%s.schema.json", id)
	if err := c.AddResource(url, strings.NewReader(document)); err != nil {
		return nil, fmt.Errorf("attribute schema %s: load failed: %w", id, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("attribute schema %s: compile failed: %w", id, err)
	}
	return &compiledJSONSchema{schema: compiled}, nil
}

func (c *compiledJSONSchema) Validate(value interface{}) error {
	if c == nil || c.schema == nil {
		return nil
	}
	return c.schema.Validate(value)
}
