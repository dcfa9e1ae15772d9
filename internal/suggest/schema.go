package suggest

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// itemSchema builds the JSON Schema every model proposal must satisfy
// before it is persisted. The enum and range constraints mirror the
// suggestions table CHECK constraints, so nothing the schema accepts can
// fail the insert.
func itemSchema() (*jsonschema.Resolved, error) {
	var (
		zero = 0.0
		one  = 1.0
	)
	schema := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"type", "title", "description", "priority", "confidence"},
		Properties: map[string]*jsonschema.Schema{
			"type": {
				Type: "string",
				Enum: []any{TypeWorkflow, TypeOptimization, TypeAlert, TypeRecommendation},
			},
			"title":       {Type: "string"},
			"description": {Type: "string"},
			"priority": {
				Type: "string",
				Enum: []any{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical},
			},
			"confidence": {
				Type:    "number",
				Minimum: &zero,
				Maximum: &one,
			},
		},
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving suggestion schema: %w", err)
	}
	return resolved, nil
}
