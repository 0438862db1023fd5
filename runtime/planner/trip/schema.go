package trip

import "github.com/tripcrew/tripcrew/runtime/planner/extract"

var (
	paramsSchema = extract.MustCompileSchema("trip_params.json", []byte(`{
		"type": "object",
		"required": ["location"],
		"properties": {
			"location": {"type": "string", "minLength": 1},
			"interests": {"type": ["string", "null"]},
			"budget": {"type": ["string", "null"]},
			"num_people": {"type": ["string", "number", "null"]},
			"travel_dates": {"type": ["string", "null"]},
			"preferred_currency": {"type": ["string", "null"]}
		}
	}`))

	researchSchema = extract.MustCompileSchema("trip_research.json", []byte(`{
		"type": "object",
		"required": ["items"],
		"properties": {
			"items": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"type": {"type": ["string", "null"]},
						"name": {"type": "string", "minLength": 1},
						"description": {"type": ["string", "null"]},
						"cost_usd": {"type": ["number", "string", "null"]},
						"link": {"type": ["string", "null"]}
					}
				}
			},
			"total_estimated_cost_usd": {"type": ["number", "string", "null"]}
		}
	}`))
)
