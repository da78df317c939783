// Package outbox persists and delivers calculation events to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Message is one claimed outbox row. Field order matches claimQuery.
type Message struct {
	EventID       int64
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// Dispatcher polls the outbox, publishes claimed rows and marks them
// published. Rows that cannot be delivered are moved to the DLQ.
type Dispatcher struct {
	pool     *pgxpool.Pool
	producer messageWriter
	registry schemaRegistrar
	dlq      *DLQWriter
	logger   zerolog.Logger

	pollInterval time.Duration
	batchSize    int

	schemaMu  sync.RWMutex
	schemaIDs map[schemaKey]int

	done chan struct{}
}

// NewDispatcher wires a dispatcher. pool may be nil when only delivery is used.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		logger:       zerolog.Nop(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		schemaIDs:    make(map[schemaKey]int),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start polls until ctx is cancelled. Run it in its own goroutine and use
// Wait to block until the loop has exited.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		err := d.processBatch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("outbox batch failed")
		}
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("outbox dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start returns.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	claimed, err := d.claim(ctx)
	if err != nil || len(claimed) == 0 {
		return err
	}
	timer := prometheus.NewTimer(batchDuration)
	defer timer.ObserveDuration()

	if deliverErr := d.deliver(ctx, claimed); deliverErr != nil {
		failedCounter.Add(float64(len(claimed)))
		d.logger.Warn().Err(deliverErr).Int("messages", len(claimed)).Msg("delivery failed, dead-lettering batch")
		if err := d.moveToDLQ(ctx, claimed, deliverErr.Error()); err != nil {
			return err
		}
	} else {
		deliveredCounter.Add(float64(len(claimed)))
	}
	return d.markPublished(ctx, claimed)
}

const claimQuery = `SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
    FROM outbox
    WHERE published_at IS NULL
    ORDER BY event_id
    LIMIT $1
    FOR UPDATE SKIP LOCKED`

// claim locks the oldest unpublished rows, stamps claimed_at and returns them.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	var claimed []Message
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimQuery, d.batchSize)
		if err != nil {
			return err
		}
		claimed, err = pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
		if err != nil || len(claimed) == 0 {
			return err
		}
		ids := make([]int64, len(claimed))
		for i, msg := range claimed {
			ids[i] = msg.EventID
		}
		_, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// markPublished stamps published_at one tenant at a time.
func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	for _, group := range groupByTenant(messages) {
		ids := make([]int64, len(group.messages))
		for i, msg := range group.messages {
			ids[i] = msg.EventID
		}
		err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", group.tenantID); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, messages []Message, reason string) error {
	if err := d.dlq.WriteBatch(ctx, messages, reason); err != nil {
		return err
	}
	for _, msg := range messages {
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

type tenantGroup struct {
	tenantID string
	messages []Message
}

// groupByTenant keeps tenants in first-seen order.
func groupByTenant(messages []Message) []tenantGroup {
	var groups []tenantGroup
	index := make(map[string]int)
	for _, msg := range messages {
		i, ok := index[msg.TenantID]
		if !ok {
			i = len(groups)
			index[msg.TenantID] = i
			groups = append(groups, tenantGroup{tenantID: msg.TenantID})
		}
		groups[i].messages = append(groups[i].messages, msg)
	}
	return groups
}
