package syncgw

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Payload schemas per entity type. Unknown fields are rejected so a client
// cannot smuggle extra columns through the sync path.
var schemaSources = map[string]string{
	"profile": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"full_name": {"type": ["string", "null"], "maxLength": 200},
			"age":       {"type": ["integer", "null"], "minimum": 0, "maximum": 130},
			"sex":       {"type": ["string", "null"], "enum": ["male", "female", "other", null]},
			"pincode":   {"type": ["string", "null"], "pattern": "^[0-9]{6}$"}
		}
	}`,

	"vitals": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["kind", "value", "measured_at"],
		"properties": {
			"kind":        {"type": "string", "enum": ["bp_systolic", "bp_diastolic", "pulse", "spo2", "temperature", "glucose", "weight"]},
			"value":       {"type": "string", "minLength": 1, "maxLength": 32},
			"unit":        {"type": ["string", "null"], "maxLength": 16},
			"measured_at": {"type": "string", "format": "date-time"}
		}
	}`,

	"mood": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["mood_scale", "logged_at"],
		"properties": {
			"mood_scale": {"type": "integer", "minimum": 1, "maximum": 5},
			"logged_at":  {"type": "string", "format": "date-time"}
		}
	}`,

	"water": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["amount_ml", "logged_at"],
		"properties": {
			"amount_ml": {"type": "integer", "minimum": 1, "maximum": 10000},
			"logged_at": {"type": "string", "format": "date-time"}
		}
	}`,
}

// appendOnlyEntities only ever accept the create operation; updates and
// deletes from a device are rejected, not merged.
var appendOnlyEntities = map[string]bool{
	"vitals": true,
	"mood":   true,
	"water":  true,
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for entity, src := range schemaSources {
		url := "mem://sync/" + entity + ".json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", entity, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", entity, err)
		}
		out[entity] = s
	}
	return out, nil
}
