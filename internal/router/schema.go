package router

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema adapts a compiled jsonschema.Schema to the router's
// Schema interface.
type JSONSchema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document (as a Go value, e.g. a
// map[string]any literal) for use with router.WithSchema.
func CompileSchema(name string, doc map[string]interface{}) (*JSONSchema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("router: add schema resource %s: %w", name, err)
	}
	compiled, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("router: compile schema %s: %w", name, err)
	}
	return &JSONSchema{compiled: compiled}, nil
}

// Validate implements Schema.
func (s *JSONSchema) Validate(data []byte) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid json payload: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
