package httpapi

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// toolSchemas declares the argument contract of every tool. Bodies are
// validated before dispatch so handlers only ever see well-formed input.
var toolSchemas = map[string]string{
	"get_recent_sms": `{
		"type": "object",
		"properties": {
			"limit": {"type": "integer", "minimum": 1, "maximum": 100},
			"sender": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	"wait_for_sms": `{
		"type": "object",
		"properties": {
			"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 300},
			"sender": {"type": "string"},
			"contains": {"type": "string"},
			"has_code": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	"extract_code_from_sms": `{
		"type": "object",
		"properties": {
			"text": {"type": "string"}
		},
		"required": ["text"],
		"additionalProperties": false
	}`,
	"get_sms_status": `{
		"type": "object",
		"additionalProperties": false
	}`,
	"fetch_sms_threads": `{
		"type": "object",
		"properties": {
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"additionalProperties": false
	}`,
}

func compileToolSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, len(toolSchemas))
	for name, raw := range toolSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", name, err)
		}
		resource := name + ".schema.json"
		if err := compiler.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		compiled[name] = schema
	}
	return compiled, nil
}
