package graph

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema constrains the raw JSON shape of a graph definition
// before it is decoded into typed nodes. Config contents are checked later
// by the per-type decode and Validate.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "nodes", "edges"],
	"properties": {
		"id": {"type": "string"},
		"template_id": {"type": "string"},
		"version": {"type": "integer", "minimum": 1},
		"name": {"type": "string", "minLength": 3},
		"nodes": {
			"type": "array",
			"minItems": 2,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {
						"type": "string",
						"enum": ["start", "task", "validation", "notification", "condition", "fork", "join", "sub_process", "end"]
					},
					"name": {"type": "string"},
					"config": {"type": "object"},
					"linked_task_template_id": {"type": "string"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["source_node_id", "target_node_id"],
				"properties": {
					"id": {"type": "string"},
					"source_node_id": {"type": "string", "minLength": 1},
					"target_node_id": {"type": "string", "minLength": 1},
					"source_handle": {"type": "string"},
					"target_handle": {"type": "string"}
				}
			}
		}
	}
}`

// ValidateDefinition checks a raw graph definition document against the
// JSON schema. Used at the API boundary before decoding.
func ValidateDefinition(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	dataLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return &MalformedError{Reason: strings.Join(details, "; ")}
	}

	return nil
}
