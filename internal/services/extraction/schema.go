package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// bundleSchema is the JSON schema the LLM output is constrained to and
// validated against. It mirrors models.Bundle.
func bundleSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"patients": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"id", "family_name"},
					"properties": map[string]interface{}{
						"id":          map[string]interface{}{"type": "string"},
						"family_name": map[string]interface{}{"type": "string"},
						"given_name":  map[string]interface{}{"type": "string"},
						"birth_date":  map[string]interface{}{"type": "string"},
						"gender":      map[string]interface{}{"type": "string"},
					},
				},
			},
			"conditions": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"id", "code"},
					"properties": map[string]interface{}{
						"id":              map[string]interface{}{"type": "string"},
						"patient_id":      map[string]interface{}{"type": "string"},
						"code":            map[string]interface{}{"type": "string"},
						"display":         map[string]interface{}{"type": "string"},
						"onset_date_time": map[string]interface{}{"type": "string"},
					},
				},
			},
			"encounters": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"id"},
					"properties": map[string]interface{}{
						"id":         map[string]interface{}{"type": "string"},
						"patient_id": map[string]interface{}{"type": "string"},
						"class":      map[string]interface{}{"type": "string"},
						"period": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"start": map[string]interface{}{"type": "string"},
								"end":   map[string]interface{}{"type": "string"},
							},
						},
						"description": map[string]interface{}{"type": "string"},
					},
				},
			},
			"diagnostic_reports": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"id", "code"},
					"properties": map[string]interface{}{
						"id":                  map[string]interface{}{"type": "string"},
						"patient_id":          map[string]interface{}{"type": "string"},
						"code":                map[string]interface{}{"type": "string"},
						"effective_date_time": map[string]interface{}{"type": "string"},
						"conclusion":          map[string]interface{}{"type": "string"},
					},
				},
			},
			"claims": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"id"},
					"properties": map[string]interface{}{
						"id":         map[string]interface{}{"type": "string"},
						"patient_id": map[string]interface{}{"type": "string"},
						"provider":   map[string]interface{}{"type": "string"},
						"total":      map[string]interface{}{"type": "number"},
						"line_items": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type":     "object",
								"required": []interface{}{"sequence", "service", "amount"},
								"properties": map[string]interface{}{
									"sequence": map[string]interface{}{"type": "integer"},
									"service":  map[string]interface{}{"type": "string"},
									"code":     map[string]interface{}{"type": "string"},
									"amount":   map[string]interface{}{"type": "number"},
								},
							},
						},
					},
				},
			},
		},
	}
}

// validateAgainstSchema checks LLM output against the given schema before
// the bundle is accepted.
func validateAgainstSchema(schemaMap map[string]interface{}, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("bundle.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("bundle.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal output: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}
