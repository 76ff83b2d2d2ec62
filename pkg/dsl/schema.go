package dsl

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "script-dsl.json"

var (
	schemaOnce sync.Once
	schema     *sjsonschema.Schema
	schemaErr  error
)

// SchemaJSON returns the embedded JSON Schema for DSL scripts.
func SchemaJSON() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}

func compiledSchema() (*sjsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc interface{}
		if err := json.Unmarshal(schemaJSON, &doc); err != nil {
			schemaErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Violation is one schema error at a location inside the script.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("at /%s: %s", v.Path, v.Message)
}

// validateDoc checks a decoded script against the schema.
func validateDoc(doc interface{}) ([]Violation, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	err = sch.Validate(doc)
	if err == nil {
		return nil, nil
	}

	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []Violation{{Message: err.Error()}}, nil
	}
	p := message.NewPrinter(language.English)
	var out []Violation
	for _, cause := range flattenValidationErrors(ve) {
		out = append(out, Violation{
			Path:    strings.Join(cause.InstanceLocation, "/"),
			Message: cause.ErrorKind.LocalizedString(p),
		})
	}
	return out, nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
