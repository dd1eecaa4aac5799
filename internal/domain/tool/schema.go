package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Property types understood by the validator.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Property describes one argument field.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the subset of JSON Schema used to declare tool parameters:
// a flat object of typed properties, some of them required.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// JSONSchema renders the schema as a JSON Schema object for model and MCP catalogs.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		req := append([]string(nil), s.Required...)
		sort.Strings(req)
		out["required"] = req
	}
	return out
}

// Parse decodes a raw argument payload and checks it against the schema.
// An empty payload is treated as an empty object. Every failure wraps ErrInvalidArguments.
func (s Schema) Parse(raw json.RawMessage) (Arguments, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse arguments: %v: %w", err, ErrInvalidArguments)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", ErrInvalidArguments)
	}

	for _, field := range s.Required {
		if v, exists := obj[field]; !exists || v == nil {
			return nil, fmt.Errorf("missing required field %q: %w", field, ErrInvalidArguments)
		}
	}

	args := make(Arguments, len(obj))
	for key, value := range obj {
		prop, declared := s.Properties[key]
		if !declared {
			// Undeclared fields are ignored, not rejected.
			continue
		}
		normalized, err := checkType(value, prop.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %v: %w", key, err, ErrInvalidArguments)
		}
		args[key] = normalized
	}
	return args, nil
}

func checkType(value any, expected string) (any, error) {
	switch expected {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case TypeNumber:
		if n, ok := value.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
	case TypeInteger:
		if n, ok := value.(json.Number); ok {
			if f, err := n.Float64(); err == nil && math.Trunc(f) == f {
				return f, nil
			}
		}
	default:
		return nil, fmt.Errorf("unsupported schema type %q", expected)
	}
	return nil, fmt.Errorf("expected %s but got %s", expected, jsonKind(value))
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
