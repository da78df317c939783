package outbox

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(ctx context.Context, subject, schema string) (int, error)
}

type schemaKey struct {
	subject string
	schema  string
}

// deliver frames every message and writes one batch per topic, in the order
// topics first appear. Any failure aborts the remaining topics.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) error {
	var order []string
	byTopic := make(map[string][]kafka.Message)
	now := time.Now().UTC()

	for _, msg := range messages {
		route, err := RouteFor(msg.EventType)
		if err != nil {
			return err
		}
		id, err := d.schemaID(ctx, schemaKey{subject: msg.SchemaSubject, schema: route.Schema})
		if err != nil {
			return fmt.Errorf("resolve schema %s: %w", msg.SchemaSubject, err)
		}
		if _, ok := byTopic[msg.Topic]; !ok {
			order = append(order, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], kafkaRecord(msg, id, now))
	}

	for _, topic := range order {
		if err := d.producer.WriteMessages(ctx, topic, byTopic[topic]...); err != nil {
			return fmt.Errorf("write %s: %w", topic, err)
		}
	}
	return nil
}

func (d *Dispatcher) schemaID(ctx context.Context, key schemaKey) (int, error) {
	d.schemaMu.RLock()
	id, ok := d.schemaIDs[key]
	d.schemaMu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := d.registry.EnsureSchema(ctx, key.subject, key.schema)
	if err != nil {
		return 0, err
	}
	d.schemaMu.Lock()
	d.schemaIDs[key] = id
	d.schemaMu.Unlock()
	return id, nil
}

func kafkaRecord(msg Message, schemaID int, at time.Time) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: frame(schemaID, msg.Payload),
		Time:  at,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "tenant_id", Value: []byte(msg.TenantID)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
		},
	}
}

// frame prefixes payload with the registry wire header: a zero magic byte
// followed by the big-endian schema id.
func frame(schemaID int, payload []byte) []byte {
	out := make([]byte, 5, 5+len(payload))
	binary.BigEndian.PutUint32(out[1:], uint32(schemaID))
	return append(out, payload...)
}
