package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type retryOutcome int

const (
	outcomeRequeued retryOutcome = iota
	outcomeRescheduled
	outcomeQuarantined
)

// DLQManager replays dead-lettered events into the outbox with exponential
// backoff and quarantines entries that exhaust their retries.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
}

// DLQOption configures a DLQManager.
type DLQOption func(*DLQManager)

// WithDLQLogger overrides the manager logger.
func WithDLQLogger(logger zerolog.Logger) DLQOption {
	return func(m *DLQManager) { m.logger = logger }
}

// NewDLQManager builds a manager. Non-positive limits fall back to five
// retries and a one minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, opts ...DLQOption) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	m := &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce handles up to batchSize due entries and reports how many were put
// back into the outbox. Errors from individual entries are joined.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	entries, err := m.dueEntries(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	var errs error
	for _, entry := range entries {
		outcome, err := m.retry(ctx, entry)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		observeDLQOutcome(outcome, entry)
		if outcome == outcomeRequeued {
			requeued++
		}
		m.logger.Info().
			Int64("dlq_id", entry.ID).
			Str("tenant_id", entry.TenantID).
			Str("event_type", entry.EventType).
			Int("retry_count", entry.RetryCount).
			Stringer("outcome", outcome).
			Msg("dlq entry processed")
	}
	if err := refreshBacklog(ctx, m.pool); err != nil {
		m.logger.Warn().Err(err).Msg("dlq backlog refresh failed")
	}
	return requeued, errs
}

func (m *DLQManager) dueEntries(ctx context.Context, limit int) ([]dlqEntry, error) {
	const query = `SELECT dlq_id, tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND next_retry_at <= NOW()
        ORDER BY next_retry_at, dlq_id
        LIMIT $1`

	rows, err := m.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (dlqEntry, error) {
		var e dlqEntry
		err := row.Scan(&e.ID, &e.TenantID, &e.EventID, &e.EventType, &e.Topic, &e.Payload, &e.Reason,
			&e.AggregateType, &e.AggregateID, &e.SchemaSubject, &e.PartitionKey, &e.RetryCount)
		return e, err
	})
}

// retry decides the fate of one entry inside a tenant-scoped transaction.
func (m *DLQManager) retry(ctx context.Context, entry dlqEntry) (retryOutcome, error) {
	var outcome retryOutcome
	err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", entry.TenantID); err != nil {
			return err
		}

		route, routeErr := RouteFor(entry.EventType)
		switch {
		case routeErr != nil:
			outcome = outcomeQuarantined
			return quarantine(ctx, tx, entry.ID, routeErr.Error())
		case entry.RetryCount >= m.maxRetries:
			outcome = outcomeQuarantined
			return quarantine(ctx, tx, entry.ID, "retry limit reached")
		}

		// The savepoint keeps tx usable for the reschedule when the insert fails.
		insertErr := pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
			return requeue(ctx, sp, entry, route)
		})
		if insertErr != nil {
			outcome = outcomeRescheduled
			delay := backoffDelay(m.baseDelay, entry.RetryCount+1)
			_, err := tx.Exec(ctx,
				`UPDATE outbox_dlq
                    SET retry_count = retry_count + 1,
                        last_attempt_at = NOW(),
                        next_retry_at = NOW() + $1::interval,
                        reason = $2
                  WHERE dlq_id = $3`,
				delay, insertErr.Error(), entry.ID)
			return err
		}

		outcome = outcomeRequeued
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
	return outcome, err
}

func quarantine(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	_, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, reason, id)
	return err
}

// requeue inserts the entry back into the outbox using the current route for
// its event type. Requeued rows carry no dedupe key.
func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry, route Route) error {
	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := tx.Exec(ctx, stmt,
		entry.TenantID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		route.Topic,
		route.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
	)
	return err
}

// backoffDelay doubles base per attempt and caps at one hour.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > time.Hour || delay <= 0 {
		delay = time.Hour
	}
	return delay
}

type dlqEntry struct {
	ID            int64
	TenantID      string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}
