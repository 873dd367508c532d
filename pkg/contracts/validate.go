package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// actionRequestSchema validates the submission envelope. Payload stays a
// free-form object; everything the core itself reads is constrained here.
const actionRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "kind", "service", "requested_at"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "kind": {
      "type": "string",
      "enum": ["financial_write", "financial_read", "content_publish", "content_read"]
    },
    "service": {"type": "string", "minLength": 1},
    "payload": {"type": "object"},
    "amount": {"type": "number", "minimum": 0},
    "payee": {"type": "string"},
    "requested_at": {"type": "string", "format": "date-time"},
    "requested_by": {"type": "string"},
    "replay_of": {"type": "string"}
  },
  "additionalProperties": false
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func envelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://warden.schemas.local/action_request.schema.json"
		if err := c.AddResource(url, strings.NewReader(actionRequestSchema)); err != nil {
			schemaErr = fmt.Errorf("envelope schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(url)
	})
	return compiledSchema, schemaErr
}

// ValidateEnvelope checks a raw submission against the envelope schema and
// returns a ValidationError on any mismatch, including unknown kinds.
func ValidateEnvelope(raw []byte) error {
	schema, err := envelopeSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Detail: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Detail: err.Error()}
	}
	return nil
}

// ValidateRequest checks an already-decoded request for the invariants the
// schema cannot see from raw bytes alone.
func ValidateRequest(r *ActionRequest) error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Detail: "must not be empty"}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Field: "kind", Detail: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if r.Service == "" {
		return &ValidationError{Field: "service", Detail: "must not be empty"}
	}
	if r.RequestedAt.IsZero() {
		return &ValidationError{Field: "requested_at", Detail: "must be set"}
	}
	if r.Kind == KindFinancialWrite && r.Amount == nil {
		return &ValidationError{Field: "amount", Detail: "required for financial writes"}
	}
	return nil
}
