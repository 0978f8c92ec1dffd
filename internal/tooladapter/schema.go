package tooladapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var manifestTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

// ManifestToSchema converts a field manifest into an object JSON Schema
func ManifestToSchema(fields []ManifestField) (map[string]any, error) {
	properties := make(map[string]any, len(fields))
	var required []any
	for _, f := range fields {
		if f.Name == "" {
			return nil, errors.New("manifest field without name")
		}
		prop, err := manifestProperty(f)
		if err != nil {
			return nil, fmt.Errorf("manifest field %s: %w", f.Name, err)
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

func manifestProperty(f ManifestField) (map[string]any, error) {
	typ := f.Type
	if typ == "" {
		typ = "string"
	}
	if !manifestTypes[typ] {
		return nil, fmt.Errorf("unknown type %q", f.Type)
	}

	prop := map[string]any{"type": typ}
	if f.Description != "" {
		prop["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		prop["enum"] = f.Enum
	}
	if typ == "array" && f.Items != nil {
		items, err := manifestProperty(*f.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		prop["items"] = items
	}
	return prop, nil
}

// schemaSet holds the compiled input and output schemas of one adapter
type schemaSet struct {
	input  *gojsonschema.Schema
	output *gojsonschema.Schema
}

// compileSchemas prefers an explicit schema over a manifest
func compileSchemas(cfg Config) (*schemaSet, error) {
	input, err := compileSchema(cfg.InputSchema, cfg.InputManifest)
	if err != nil {
		return nil, fmt.Errorf("%w: input schema: %v", ErrInvalidConfig, err)
	}
	output, err := compileSchema(cfg.OutputSchema, cfg.OutputManifest)
	if err != nil {
		return nil, fmt.Errorf("%w: output schema: %v", ErrInvalidConfig, err)
	}
	return &schemaSet{input: input, output: output}, nil
}

func compileSchema(explicit map[string]any, manifest []ManifestField) (*gojsonschema.Schema, error) {
	doc := explicit
	if doc == nil && len(manifest) > 0 {
		var err error
		if doc, err = ManifestToSchema(manifest); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
}

func (s *schemaSet) validateInput(input map[string]any) error {
	if s == nil {
		return nil
	}
	if err := validate(s.input, input); err != nil {
		return fmt.Errorf("input validation failed: %s", err.Error())
	}
	return nil
}

func (s *schemaSet) validateOutput(output any) error {
	if s == nil {
		return nil
	}
	if err := validate(s.output, output); err != nil {
		return fmt.Errorf("output validation failed: %s", err.Error())
	}
	return nil
}

func validate(schema *gojsonschema.Schema, doc any) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		msgs[i] = desc.String()
	}
	return errors.New(strings.Join(msgs, "; "))
}
