package consumer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"example.com/emissions/internal/events"
	"example.com/emissions/internal/outbox"
)

// SchemaValidator checks payloads against the JSON schemas the outbox
// registers for each event type.
type SchemaValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaValidator compiles the schema of every published event type.
func NewSchemaValidator() (*SchemaValidator, error) {
	eventTypes := []string{
		events.TypeEmissionCalculated,
		events.TypeSpendEmissionCalculated,
		events.TypeFacilityAggregateUpdated,
	}
	compiler := jsonschema.NewCompiler()
	v := &SchemaValidator{schemas: make(map[string]*jsonschema.Schema, len(eventTypes))}
	for _, eventType := range eventTypes {
		route, err := outbox.RouteFor(eventType)
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(route.Schema))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", eventType, err)
		}
		url := route.SchemaSubject + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", eventType, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", eventType, err)
		}
		v.schemas[eventType] = schema
	}
	return v, nil
}

// Validate implements Validator.
func (v *SchemaValidator) Validate(msg Message) error {
	schema, ok := v.schemas[msg.EventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", msg.EventType)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(msg.Payload))
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%s payload: %w", msg.EventType, err)
	}
	return nil
}
