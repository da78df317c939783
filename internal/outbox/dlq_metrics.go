package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dlqOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emissions",
		Subsystem: "dlq",
		Name:      "entries_processed_total",
		Help:      "DLQ entries handled by the manager, by outcome.",
	}, []string{"outcome", "topic", "event_type"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "emissions",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "DLQ entries that are neither requeued nor quarantined.",
	})
)

func init() {
	prometheus.MustRegister(dlqOutcomeCounter, dlqBacklogGauge)
}

func (o retryOutcome) String() string {
	switch o {
	case outcomeRequeued:
		return "requeued"
	case outcomeRescheduled:
		return "rescheduled"
	case outcomeQuarantined:
		return "quarantined"
	}
	return "unknown"
}

func observeDLQOutcome(outcome retryOutcome, entry dlqEntry) {
	dlqOutcomeCounter.WithLabelValues(outcome.String(), entry.Topic, entry.EventType).Inc()
}

func refreshBacklog(ctx context.Context, pool *pgxpool.Pool) error {
	var n int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&n); err != nil {
		return err
	}
	dlqBacklogGauge.Set(float64(n))
	return nil
}
