package detect

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema is the contract of the inference backend.
var responseSchema = map[string]any{
	"type":     "object",
	"required": []any{"detections"},
	"properties": map[string]any{
		"detections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"label", "confidence", "bbox"},
				"properties": map[string]any{
					"label":      map[string]any{"type": "string", "minLength": 1},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"bbox": map[string]any{
						"type":     "array",
						"minItems": 4,
						"maxItems": 4,
						"items":    map[string]any{"type": "number"},
					},
				},
			},
		},
	},
}

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func compiledResponseSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		b, err := json.Marshal(responseSchema)
		if err != nil {
			compileErr = errors.Wrap(err, "marshal schema")
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("detections.json", bytes.NewReader(b)); err != nil {
			compileErr = errors.Wrap(err, "add schema")
			return
		}
		compiled, compileErr = compiler.Compile("detections.json")
	})
	return compiled, compileErr
}

// ValidateResponse checks a raw backend body against the response schema.
func ValidateResponse(data []byte) error {
	schema, err := compiledResponseSchema()
	if err != nil {
		return errors.Wrap(err, "compile schema")
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Mark(errors.Wrap(err, "unmarshal response"), ErrInvalidResponse)
	}
	if err := schema.Validate(v); err != nil {
		return errors.Mark(errors.Wrap(err, "response does not match schema"), ErrInvalidResponse)
	}
	return nil
}
