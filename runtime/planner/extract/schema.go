package extract

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled JSON Schema used to check extracted records before
// they are decoded into typed values.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(name string, doc []byte) (*Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal(doc, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompileSchema is like CompileSchema but panics on error. It is meant
// for package level schema variables.
func MustCompileSchema(name string, doc []byte) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the resource name the schema was compiled under.
func (s *Schema) Name() string { return s.name }

// Validate checks a decoded JSON value against the schema.
func (s *Schema) Validate(doc any) error {
	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("validate %s: %w", s.name, err)
	}
	return nil
}

// Decode extracts the JSON object embedded in text, validates it against
// the schema and decodes it into v. Extraction failures are reported as
// MalformedOutputError; schema violations wrap the validation error.
func (s *Schema) Decode(text string, v any) error {
	obj, err := Object(text)
	if err != nil {
		return err
	}
	if err := s.Validate(obj); err != nil {
		return err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("re-encode %s: %w", s.name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.name, err)
	}
	return nil
}
