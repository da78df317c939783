package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	calculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emissions",
		Subsystem: "calculation",
		Name:      "calculations_total",
		Help:      "Calculated emissions persisted, by scope and method.",
	}, []string{"scope", "method"})
	unmatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emissions",
		Subsystem: "calculation",
		Name:      "unmatched_activities_total",
		Help:      "Activities skipped because no usable factor was found.",
	}, []string{"reason"})
	unitWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "emissions",
		Subsystem: "calculation",
		Name:      "unrecognized_units_total",
		Help:      "Activities whose unit string was not recognized by the normalizer.",
	})
	batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "emissions",
		Subsystem: "calculation",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of a calculation batch by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	aggregateFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "emissions",
		Subsystem: "aggregation",
		Name:      "failures_total",
		Help:      "Facility aggregate refreshes that failed and were reported as warnings.",
	})
	lastCalculationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "emissions",
		Subsystem: "persistence",
		Name:      "last_calculation_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent calculated emission persisted.",
	})
	ledgerVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emissions",
		Subsystem: "ledger",
		Name:      "verifications_total",
		Help:      "Ledger verification runs by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		calculationsTotal,
		unmatchedTotal,
		unitWarningsTotal,
		batchDuration,
		aggregateFailures,
		lastCalculationGauge,
		ledgerVerifications,
	)
}

// RecordCalculation counts one persisted calculation.
func RecordCalculation(scope, method string, ts time.Time) {
	calculationsTotal.WithLabelValues(scope, method).Inc()
	if !ts.IsZero() {
		lastCalculationGauge.Set(float64(ts.Unix()))
	}
}

// RecordUnmatched counts an activity skipped for reason.
func RecordUnmatched(reason string) {
	unmatchedTotal.WithLabelValues(reason).Inc()
}

// RecordUnitWarning counts an unrecognized unit.
func RecordUnitWarning() {
	unitWarningsTotal.Inc()
}

// ObserveBatch records batch duration under outcome.
func ObserveBatch(outcome string, d time.Duration) {
	batchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordAggregateFailure counts a failed aggregate refresh.
func RecordAggregateFailure() {
	aggregateFailures.Inc()
}

// RecordLedgerVerification counts a verification by validity.
func RecordLedgerVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "broken"
	}
	ledgerVerifications.WithLabelValues(result).Inc()
}
