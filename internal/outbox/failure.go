package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter parks undeliverable outbox rows in outbox_dlq.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter returns a writer on pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// WriteBatch stores every message with reason. Rows are written in one
// transaction per tenant, and the first failing tenant aborts the rest.
func (w *DLQWriter) WriteBatch(ctx context.Context, messages []Message, reason string) error {
	for _, group := range groupByTenant(messages) {
		if err := w.writeTenant(ctx, group.tenantID, group.messages, reason); err != nil {
			return fmt.Errorf("dead-letter tenant %s: %w", group.tenantID, err)
		}
	}
	return nil
}

func (w *DLQWriter) writeTenant(ctx context.Context, tenantID string, messages []Message, reason string) error {
	const stmt = `INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`

	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, msg := range messages {
			batch.Queue(stmt, msg.TenantID, msg.EventID, msg.EventType, msg.Topic, []byte(msg.Payload),
				fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
				msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
