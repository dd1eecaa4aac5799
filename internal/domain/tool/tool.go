// Package tool defines compiled-in tool declarations the model may invoke
// against project state.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for tool dispatch.
var (
	// ErrUnknownTool is returned when no tool with the requested name exists.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when the argument payload does not match the schema.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrToolExecution wraps a failure raised by the bound executor.
	ErrToolExecution = errors.New("tool execution failed")
)

// Result status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Executor performs the side effect of a tool for one project.
// args has already been validated against the tool's schema.
type Executor func(ctx context.Context, projectID string, args Arguments) (Result, error)

// Definition is an immutable tool declaration.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
	Execute     Executor `json:"-"`
}

// Result is the structured outcome of a tool execution. It is serialized flat:
// status and message beside any echoed or derived fields.
type Result struct {
	Status  string
	Message string
	Fields  map[string]any
}

// Success builds a successful result carrying the given fields.
func Success(fields map[string]any) Result {
	return Result{Status: StatusSuccess, Fields: fields}
}

// Failure builds an error result from err.
func Failure(err error) Result {
	return Result{Status: StatusError, Message: err.Error()}
}

// MarshalJSON flattens Fields next to status and message.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["status"] = r.Status
	if r.Message != "" {
		out["message"] = r.Message
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Status, _ = raw["status"].(string)
	r.Message, _ = raw["message"].(string)
	delete(raw, "status")
	delete(raw, "message")
	if len(raw) > 0 {
		r.Fields = raw
	} else {
		r.Fields = nil
	}
	return nil
}

// Encode serializes the result for a tool-role message.
func (r Result) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(data), nil
}

// Arguments is a decoded, schema-checked argument payload.
type Arguments map[string]any

// String returns the string argument for key, or "" if absent.
func (a Arguments) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Bool returns the boolean argument for key, or false if absent.
func (a Arguments) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

// Number returns the numeric argument for key, or 0 if absent.
func (a Arguments) Number(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}
