package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/emissions/internal/events"
)

type recordingWriter struct {
	writes map[string][]kafka.Message
	err    error
}

func (w *recordingWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if w.writes == nil {
		w.writes = map[string][]kafka.Message{}
	}
	w.writes[topic] = append(w.writes[topic], msgs...)
	return nil
}

type countingRegistry struct {
	calls int
}

func (r *countingRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.calls++
	return 42, nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestDeliverFramesAndRoutesMessages(t *testing.T) {
	writer := &recordingWriter{}
	registry := &countingRegistry{}
	d := NewDispatcher(nil, writer, registry, time.Second, 10)

	route, err := RouteFor(events.TypeEmissionCalculated)
	require.NoError(t, err)
	payload := json.RawMessage(`{"calculated_emission_id":"ce-1"}`)
	msgs := []Message{
		{EventID: 1, TenantID: "org-1", EventType: events.TypeEmissionCalculated, Topic: route.Topic, SchemaSubject: route.SchemaSubject, PartitionKey: "org-1", Payload: payload},
		{EventID: 2, TenantID: "org-1", EventType: events.TypeEmissionCalculated, Topic: route.Topic, SchemaSubject: route.SchemaSubject, PartitionKey: "org-1", Payload: payload},
	}

	require.NoError(t, d.deliver(context.Background(), msgs))
	require.Equal(t, 1, registry.calls, "schema id is cached")

	written := writer.writes[route.Topic]
	require.Len(t, written, 2)
	require.Equal(t, byte(0), written[0].Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(written[0].Value[1:5]))
	require.JSONEq(t, string(payload), string(written[0].Value[5:]))
	require.Equal(t, events.TypeEmissionCalculated, header(written[0], "event_type"))
	require.Equal(t, "org-1", header(written[0], "tenant_id"))
	require.Equal(t, route.SchemaSubject, header(written[0], "schema_subject"))
	require.Equal(t, []byte("org-1"), written[0].Key)
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	d := NewDispatcher(nil, &recordingWriter{}, &countingRegistry{}, time.Second, 10)
	err := d.deliver(context.Background(), []Message{{EventType: "unknown.event"}})
	require.ErrorContains(t, err, "unknown event type")
}

func TestDeliverPropagatesWriterError(t *testing.T) {
	d := NewDispatcher(nil, &recordingWriter{err: errors.New("broker down")}, &countingRegistry{}, time.Second, 10)
	route, _ := RouteFor(events.TypeFacilityAggregateUpdated)
	err := d.deliver(context.Background(), []Message{{EventType: events.TypeFacilityAggregateUpdated, Topic: route.Topic, SchemaSubject: route.SchemaSubject, Payload: json.RawMessage(`{}`)}})
	require.ErrorContains(t, err, "broker down")
}

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, time.Minute, backoffDelay(time.Minute, 1))
	require.Equal(t, 4*time.Minute, backoffDelay(time.Minute, 3))
	require.Equal(t, time.Hour, backoffDelay(time.Minute, 10))
	require.Equal(t, time.Hour, backoffDelay(time.Minute, 64))
}

func TestRetryOutcomeLabels(t *testing.T) {
	require.Equal(t, "requeued", outcomeRequeued.String())
	require.Equal(t, "rescheduled", outcomeRescheduled.String())
	require.Equal(t, "quarantined", outcomeQuarantined.String())
}

func TestGroupByTenantKeepsFirstSeenOrder(t *testing.T) {
	groups := groupByTenant([]Message{{EventID: 1, TenantID: "b"}, {EventID: 2, TenantID: "a"}, {EventID: 3, TenantID: "b"}})
	require.Len(t, groups, 2)
	require.Equal(t, "b", groups[0].tenantID)
	require.Len(t, groups[0].messages, 2)
	require.Equal(t, int64(2), groups[1].messages[0].EventID)
}

func TestCatalogCoversEveryEvent(t *testing.T) {
	for _, eventType := range []string{events.TypeEmissionCalculated, events.TypeSpendEmissionCalculated, events.TypeFacilityAggregateUpdated} {
		route, err := RouteFor(eventType)
		require.NoError(t, err, eventType)
		require.True(t, json.Valid([]byte(route.Schema)), eventType)
		require.Equal(t, route.Topic+"-value", route.SchemaSubject)
	}
	require.Len(t, Topics(), 3)
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPost:
			registered = true
			_ = json.NewEncoder(w).Encode(map[string]int{"id": 7})
		}
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL+"/").EnsureSchema(context.Background(), "emission_calculated-value", emissionCalculatedSchema)
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.True(t, registered)
}

func TestSchemaRegistryReusesMatchingLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 3, "schema": compactJSON(spendEmissionCalculatedSchema)})
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "spend_emission_calculated-value", spendEmissionCalculatedSchema)
	require.NoError(t, err)
	require.Equal(t, 3, id)
}
