package outbox

import (
	"fmt"

	"example.com/emissions/internal/events"
)

// Route describes where an event type is published and which schema frames it.
type Route struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var catalog = map[string]Route{
	events.TypeEmissionCalculated: {
		Topic:         "emission_calculated",
		SchemaSubject: "emission_calculated-value",
		Schema:        emissionCalculatedSchema,
	},
	events.TypeSpendEmissionCalculated: {
		Topic:         "spend_emission_calculated",
		SchemaSubject: "spend_emission_calculated-value",
		Schema:        spendEmissionCalculatedSchema,
	},
	events.TypeFacilityAggregateUpdated: {
		Topic:         "facility_aggregate_updated",
		SchemaSubject: "facility_aggregate_updated-value",
		Schema:        facilityAggregateUpdatedSchema,
	},
}

// RouteFor returns the route for an event type.
func RouteFor(eventType string) (Route, error) {
	route, ok := catalog[eventType]
	if !ok {
		return Route{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	return route, nil
}

// Topics lists every topic the outbox publishes to.
func Topics() []string {
	out := make([]string, 0, len(catalog))
	for _, route := range catalog {
		out = append(out, route.Topic)
	}
	return out
}
