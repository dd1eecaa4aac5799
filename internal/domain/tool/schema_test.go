package tool

import (
	"encoding/json"
	"errors"
	"testing"
)

var renameSchema = Schema{
	Properties: map[string]Property{
		"newName": {Type: TypeString, Description: "new project name"},
		"force":   {Type: TypeBoolean},
		"limit":   {Type: TypeInteger},
	},
	Required: []string{"newName"},
}

func TestSchemaParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"newName":"Atlas"}`, false},
		{"valid with optional", `{"newName":"Atlas","force":true,"limit":3}`, false},
		{"undeclared field ignored", `{"newName":"Atlas","extra":[1,2]}`, false},
		{"missing required", `{}`, true},
		{"empty payload missing required", ``, true},
		{"null required", `{"newName":null}`, true},
		{"wrong type", `{"newName":42}`, true},
		{"fractional integer", `{"newName":"a","limit":1.5}`, true},
		{"not an object", `["Atlas"]`, true},
		{"malformed", `{"newName":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := renameSchema.Parse(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidArguments) {
					t.Errorf("expected ErrInvalidArguments, got %v", err)
				}
				return
			}
			if args.String("newName") != "Atlas" && args.String("newName") != "a" {
				t.Errorf("unexpected newName %q", args.String("newName"))
			}
			if _, ok := args["extra"]; ok {
				t.Error("undeclared field must not be passed to the executor")
			}
		})
	}
}

func TestSchemaParseEmptySchemaAcceptsEmptyPayload(t *testing.T) {
	args, err := Schema{}.Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
}

func TestSchemaJSONSchema(t *testing.T) {
	js := renameSchema.JSONSchema()
	if js["type"] != "object" {
		t.Fatalf("expected object schema, got %v", js["type"])
	}
	props, ok := js["properties"].(map[string]any)
	if !ok || len(props) != 3 {
		t.Fatalf("expected 3 properties, got %v", js["properties"])
	}
	req, ok := js["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "newName" {
		t.Fatalf("unexpected required list %v", js["required"])
	}
}

func TestResultEncodeFlat(t *testing.T) {
	s, err := Success(map[string]any{"newName": "Atlas"}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(s), &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != StatusSuccess || got["newName"] != "Atlas" {
		t.Fatalf("unexpected payload %s", s)
	}
	if _, ok := got["message"]; ok {
		t.Error("success payload must not carry an empty message")
	}

	s, err = Failure(ErrUnknownTool).Encode()
	if err != nil {
		t.Fatal(err)
	}
	var res Result
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusError || res.Message != "unknown tool" {
		t.Fatalf("unexpected failure result %+v", res)
	}
}

func TestArgumentsAccessors(t *testing.T) {
	args := Arguments{"s": "x", "b": true, "n": 2.5}
	if args.String("s") != "x" || args.String("missing") != "" {
		t.Error("String accessor mismatch")
	}
	if !args.Bool("b") || args.Bool("s") {
		t.Error("Bool accessor mismatch")
	}
	if args.Number("n") != 2.5 || args.Number("s") != 0 {
		t.Error("Number accessor mismatch")
	}
}
