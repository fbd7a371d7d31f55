// Package schema provides JSON Schema validation for feed records and
// stored mesh documents.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	//go:embed agent_record.schema.json
	agentRecordSchema []byte

	//go:embed mesh.schema.json
	meshSchema []byte
)

// Validator validates documents against a compiled JSON Schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles a validator from schema bytes.
func NewValidator(schemaData []byte) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// NewAgentRecordValidator returns the validator for nearby-agent records.
func NewAgentRecordValidator() (*Validator, error) {
	return NewValidator(agentRecordSchema)
}

// NewMeshValidator returns the validator for stored mesh documents.
func NewMeshValidator() (*Validator, error) {
	return NewValidator(meshSchema)
}

// Validate validates a decoded document.
func (v *Validator) Validate(doc any) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ValidateBytes validates raw JSON bytes.
func (v *Validator) ValidateBytes(data []byte) error {
	var obj any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.Validate(obj)
}
