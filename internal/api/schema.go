package api

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"example.com/emissions/internal/domain"
)

const batchRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["organization_id"],
  "properties": {
    "organization_id": {"type": "string", "minLength": 1}
  }
}`

// Spend positivity and the currency set are checked by the calculation flow
// so the supported currencies can be reported alongside the error.
const spendRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["provenance_id", "activity_data"],
  "properties": {
    "provenance_id": {"type": "string"},
    "activity_data": {
      "type": "object",
      "required": ["travel_type", "spend", "currency"],
      "properties": {
        "travel_type": {"type": "string", "minLength": 1},
        "spend": {"type": "number"},
        "currency": {"type": "string"}
      }
    }
  }
}`

// requestSchemas holds the compiled request body schemas.
type requestSchemas struct {
	batch *jsonschema.Schema
	spend *jsonschema.Schema
}

func compileSchemas() (requestSchemas, error) {
	batch, err := compileSchema("batch-request.json", batchRequestSchema)
	if err != nil {
		return requestSchemas{}, err
	}
	spend, err := compileSchema("spend-request.json", spendRequestSchema)
	if err != nil {
		return requestSchemas{}, err
	}
	return requestSchemas{batch: batch, spend: spend}, nil
}

func compileSchema(name, source string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// validateBody checks body against schema. Every violation comes back as a
// *domain.ValidationError joined into one error.
func validateBody(schema *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return &domain.ValidationError{Message: "request body must be valid JSON"}
	}
	err = schema.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &domain.ValidationError{Message: err.Error()}
	}
	var out []error
	for _, leaf := range leaves(verr) {
		out = append(out, toValidationErrors(leaf)...)
	}
	return errors.Join(out...)
}

func leaves(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range err.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

func toValidationErrors(leaf *jsonschema.ValidationError) []error {
	field := strings.Join(leaf.InstanceLocation, ".")
	switch k := leaf.ErrorKind.(type) {
	case *kind.Required:
		missing := append([]string(nil), k.Missing...)
		sort.Strings(missing)
		out := make([]error, 0, len(missing))
		for _, name := range missing {
			out = append(out, &domain.ValidationError{Field: joinField(field, name), Message: "is required"})
		}
		return out
	case *kind.Type:
		return []error{&domain.ValidationError{Field: field, Message: "must be of type " + strings.Join(k.Want, " or ")}}
	case *kind.MinLength:
		return []error{&domain.ValidationError{Field: field, Message: "must not be empty"}}
	}
	keyword := "schema"
	if path := leaf.ErrorKind.KeywordPath(); len(path) > 0 {
		keyword = path[len(path)-1]
	}
	return []error{&domain.ValidationError{Field: field, Message: "violates " + keyword + " constraint"}}
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
