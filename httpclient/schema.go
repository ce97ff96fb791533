package httpclient

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// challengeSchema validates the shape of a 402 challenge body before any
// of its fields are trusted. The body is attacker-controlled input.
const challengeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["x402Version", "accepts"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "accepts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["scheme", "network", "maxAmountRequired", "asset", "payTo"],
        "properties": {
          "scheme": {"type": "string", "minLength": 1},
          "network": {"type": "string", "minLength": 1},
          "maxAmountRequired": {"type": "string", "minLength": 1},
          "asset": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
          "payTo": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
          "maxTimeoutSeconds": {"type": "integer", "minimum": 0},
          "resource": {"type": "string"},
          "description": {"type": "string"},
          "mimeType": {"type": "string"},
          "extra": {"type": "object"}
        }
      }
    },
    "error": {"type": "string"}
  }
}`

var challengeSchemaLoader = gojsonschema.NewStringLoader(challengeSchema)

// validateChallengeBody checks a 402 body against the challenge schema
// and reports every violation in one error.
func validateChallengeBody(body []byte) error {
	result, err := gojsonschema.Validate(challengeSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("challenge body is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("challenge body failed validation: %s", strings.Join(problems, "; "))
}
