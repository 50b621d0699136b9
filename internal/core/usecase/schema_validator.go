package usecase

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	SchemaTenantRegistration = "tenant_registration"
	SchemaBackupRequest      = "backup_request"
)

// PayloadValidator checks inbound JSON payloads against the embedded
// schemas. Compiled schemas are cached by name.
type PayloadValidator struct {
	cache sync.Map // name → *santhosh.Schema
}

func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{}
}

// Validate returns a *domain.SchemaViolation (matching domain.ErrValidation)
// when data does not satisfy the named schema.
func (v *PayloadValidator) Validate(name string, data json.RawMessage) error {
	sch, err := v.schema(name)
	if err != nil {
		return err
	}
	return runValidation(sch, data)
}

func (v *PayloadValidator) schema(name string) (*santhosh.Schema, error) {
	if cached, ok := v.cache.Load(name); ok {
		return cached.(*santhosh.Schema), nil
	}
	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	compiled, err := compileSchema(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	v.cache.Store(name, compiled)
	return compiled, nil
}

// compileSchema builds a *santhosh.Schema from raw JSON.
func compileSchema(schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func runValidation(sch *santhosh.Schema, data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &domain.SchemaViolation{Errors: []string{"payload is not valid json"}}
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.SchemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &domain.SchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
