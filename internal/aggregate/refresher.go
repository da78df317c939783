// Package aggregate maintains facility/period emission rollups.
package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"example.com/emissions/internal/cache"
	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/observability"
)

// Warning describes an aggregate that could not be refreshed. Aggregates are
// rebuildable, so a warning never fails the batch.
type Warning struct {
	FacilityID  string `json:"facility_id,omitempty"`
	PeriodStart string `json:"period_start,omitempty"`
	PeriodEnd   string `json:"period_end,omitempty"`
	Message     string `json:"message"`
}

// Outcome lists the aggregates written and the keys that failed.
type Outcome struct {
	Refreshed []domain.FacilityEmissionsAggregate
	Warnings  []Warning
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Refresher) { r.logger = logger }
}

// WithInvalidator sets the downstream cache invalidator.
func WithInvalidator(inv cache.Invalidator) Option {
	return func(r *Refresher) { r.invalidator = inv }
}

// WithClock overrides the time source used for calculated_at.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// Refresher recomputes facility aggregates from stored calculations.
type Refresher struct {
	repo        domain.AggregateRepository
	invalidator cache.Invalidator
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRefresher constructs a Refresher.
func NewRefresher(repo domain.AggregateRepository, opts ...Option) *Refresher {
	r := &Refresher{
		repo:        repo,
		invalidator: cache.NoopInvalidator{},
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh overwrites the aggregate for every touched key and every key the
// repository reports as stale. Each total is the sum over all calculations
// currently on record for the key.
func (r *Refresher) Refresh(ctx context.Context, organizationID string, touched []domain.FacilityPeriodKey) Outcome {
	var out Outcome

	keys := make(map[domain.FacilityPeriodKey]struct{}, len(touched))
	for _, k := range touched {
		keys[k] = struct{}{}
	}
	stale, err := r.repo.StaleFacilityKeys(ctx, organizationID)
	if err != nil {
		r.logger.Warn().Err(err).Str("organization_id", organizationID).Msg("list stale facility aggregates")
		out.Warnings = append(out.Warnings, Warning{Message: "stale aggregate scan failed: " + err.Error()})
	}
	for _, k := range stale {
		keys[k] = struct{}{}
	}

	for _, key := range sortedKeys(keys) {
		agg, err := r.refreshKey(ctx, organizationID, key)
		if err != nil {
			observability.RecordAggregateFailure()
			r.logger.Warn().Err(err).
				Str("organization_id", organizationID).
				Str("facility_id", key.FacilityID).
				Msg("facility aggregate refresh failed")
			out.Warnings = append(out.Warnings, newWarning(key, err))
			continue
		}
		out.Refreshed = append(out.Refreshed, agg)

		if err := r.invalidator.InvalidateFacility(ctx, organizationID, key); err != nil {
			r.logger.Warn().Err(err).Str("facility_id", key.FacilityID).Msg("cache invalidation failed")
			out.Warnings = append(out.Warnings, newWarning(key, err))
		}
	}
	return out
}

func (r *Refresher) refreshKey(ctx context.Context, organizationID string, key domain.FacilityPeriodKey) (domain.FacilityEmissionsAggregate, error) {
	total, count, err := r.repo.SumFacilityPeriod(ctx, organizationID, key)
	if err != nil {
		return domain.FacilityEmissionsAggregate{}, err
	}
	agg := domain.FacilityEmissionsAggregate{
		OrganizationID:    organizationID,
		FacilityID:        key.FacilityID,
		PeriodStart:       key.PeriodStart,
		PeriodEnd:         key.PeriodEnd,
		TotalCO2e:         total,
		ActivityCount:     count,
		CalculationMethod: domain.MethodFacilityRollup,
		CalculatedAt:      r.now().UTC(),
	}
	if err := r.repo.ReplaceFacilityAggregate(ctx, agg); err != nil {
		return domain.FacilityEmissionsAggregate{}, err
	}
	return agg, nil
}

func sortedKeys(set map[domain.FacilityPeriodKey]struct{}) []domain.FacilityPeriodKey {
	keys := make([]domain.FacilityPeriodKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FacilityID != keys[j].FacilityID {
			return keys[i].FacilityID < keys[j].FacilityID
		}
		if !keys[i].PeriodStart.Equal(keys[j].PeriodStart) {
			return keys[i].PeriodStart.Before(keys[j].PeriodStart)
		}
		return keys[i].PeriodEnd.Before(keys[j].PeriodEnd)
	})
	return keys
}

func newWarning(key domain.FacilityPeriodKey, err error) Warning {
	return Warning{
		FacilityID:  key.FacilityID,
		PeriodStart: key.PeriodStart.Format(time.DateOnly),
		PeriodEnd:   key.PeriodEnd.Format(time.DateOnly),
		Message:     err.Error(),
	}
}
