package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// schemaSet holds the compiled shape checks applied to raw oracle output
// before any field is trusted.
type schemaSet struct {
	extraction     *jsonschema.Schema
	classification *jsonschema.Schema
	intent         *jsonschema.Schema
}

const extractionSchema = `{
	"type": "object",
	"required": ["subjects"],
	"properties": {
		"subjects": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": {"type": "string"}
			}
		}
	}
}`

const classificationSchema = `{
	"type": "object",
	"required": ["subject", "unit", "suggested_filename"],
	"properties": {
		"subject": {"type": "string"},
		"unit": {"type": "string"},
		"suggested_filename": {"type": "string"}
	}
}`

const intentSchema = `{
	"type": "object",
	"required": ["is_search"],
	"properties": {
		"is_search": {"type": "boolean"},
		"subject": {"type": "string"},
		"keyword": {"type": "string"}
	}
}`

func compileSchemas() (*schemaSet, error) {
	compiler := jsonschema.NewCompiler()

	extraction, err := compiler.Compile([]byte(extractionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction schema: %w", err)
	}
	classification, err := compiler.Compile([]byte(classificationSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile classification schema: %w", err)
	}
	intent, err := compiler.Compile([]byte(intentSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile intent schema: %w", err)
	}

	return &schemaSet{extraction: extraction, classification: classification, intent: intent}, nil
}

// validate checks raw JSON against a schema and collects all violations.
func (s *schemaSet) validate(schema *jsonschema.Schema, raw []byte) error {
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("oracle output is not JSON: %w", err)
	}

	result := schema.Validate(instance)
	if !result.IsValid() {
		var errorMessages []string
		for field, evalErr := range result.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		return fmt.Errorf("oracle output failed validation: %s", strings.Join(errorMessages, "; "))
	}
	return nil
}
