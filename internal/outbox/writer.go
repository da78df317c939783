package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Event is an outbox row to be written inside the caller's transaction.
type Event struct {
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	// DedupeKey defaults to aggregate id and event type. Events emitted more
	// than once per aggregate must set it.
	DedupeKey string
	Payload   any
}

// Insert writes ev to the outbox table using tx. The row commits or rolls back
// together with the caller's domain writes.
func Insert(ctx context.Context, tx pgx.Tx, ev Event) error {
	route, err := RouteFor(ev.EventType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.EventType, err)
	}
	partitionKey := ev.PartitionKey
	if partitionKey == "" {
		partitionKey = ev.TenantID
	}
	dedupeKey := ev.DedupeKey
	if dedupeKey == "" {
		dedupeKey = fmt.Sprintf("%s:%s", ev.AggregateID, ev.EventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		ev.TenantID,
		ev.AggregateType,
		ev.AggregateID,
		ev.EventType,
		route.Topic,
		route.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}
