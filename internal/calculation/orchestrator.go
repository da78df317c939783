// Package calculation drives the emissions pipeline for an organization.
package calculation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/emissions/internal/aggregate"
	"example.com/emissions/internal/audit"
	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/engine"
	"example.com/emissions/internal/factors"
	"example.com/emissions/internal/fuelmap"
	"example.com/emissions/internal/observability"
	"example.com/emissions/internal/refdata"
	"example.com/emissions/internal/units"
)

// OutputUnitKgCO2e is the unit of quantity-based results.
const OutputUnitKgCO2e = "kgCO2e"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs Scope 1/2 batches.
type Orchestrator struct {
	repo       domain.CalculationRepository
	aggregates *aggregate.Refresher
	mapper     *fuelmap.Mapper
	tables     refdata.Tables
	logger     zerolog.Logger
	now        func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(repo domain.CalculationRepository, aggregates *aggregate.Refresher, tables refdata.Tables, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		aggregates: aggregates,
		mapper:     fuelmap.New(tables.FuelTypes),
		tables:     tables,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes every unprocessed Scope 1/2 activity of organizationID while
// holding the organization's batch lock. Re-running after a failure only
// picks up activities still lacking a calculated emission.
//
// On a persistence fault the returned report covers the records committed
// before the fault and the error is a *domain.PersistenceError.
func (o *Orchestrator) Run(ctx context.Context, organizationID, userID string) (Report, error) {
	start := time.Now()
	var report Report
	err := o.repo.WithOrganizationLock(ctx, organizationID, func(ctx context.Context) error {
		var runErr error
		report, runErr = o.run(ctx, organizationID, userID)
		return runErr
	})
	observability.ObserveBatch(outcome(err), time.Since(start))
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, organizationID, userID string) (Report, error) {
	report := newReport()
	logger := o.logger.With().Str("organization_id", organizationID).Logger()

	activities, err := o.repo.ListUnprocessedActivities(ctx, organizationID)
	if err != nil {
		return report, &domain.PersistenceError{Stage: domain.StageLoad, Index: -1, Err: fmt.Errorf("list unprocessed activities: %w", err)}
	}
	table, err := o.repo.ListEmissionFactors(ctx)
	if err != nil {
		return report, &domain.PersistenceError{Stage: domain.StageLoad, Index: -1, Err: fmt.Errorf("list emission factors: %w", err)}
	}
	if len(table) == 0 {
		return report, domain.ErrReferenceDataMissing
	}
	resolver := factors.NewResolver(table)
	report.TotalUnprocessed = len(activities)

	var touched []domain.FacilityPeriodKey
	for i, activity := range activities {
		calc, skip := o.prepare(activity, userID, resolver, &report, logger)
		if skip {
			continue
		}

		if _, err := o.repo.RecordCalculation(ctx, calc.emission, calc.entry); err != nil {
			perr := &domain.PersistenceError{
				Index:      i,
				ActivityID: activity.ID,
				Succeeded:  report.CalculationsPerformed,
				Stage:      stageOf(err),
				Err:        err,
			}
			logger.Error().Err(err).
				Str("activity_id", activity.ID).
				Int("index", i).
				Int("succeeded", perr.Succeeded).
				Str("stage", perr.Stage).
				Msg("batch halted on persistence fault")
			return report, perr
		}

		report.CalculationsPerformed++
		report.LogsCreated++
		report.Matched = report.CalculationsPerformed
		observability.RecordCalculation(string(calc.emission.Scope), calc.emission.CalculationMethod, calc.emission.CreatedAt)
		if key, ok := activity.FacilityKey(); ok {
			touched = append(touched, key)
		}
	}

	if o.aggregates != nil {
		outcome := o.aggregates.Refresh(ctx, organizationID, touched)
		report.FacilitiesAggregated = len(outcome.Refreshed)
		report.AggregationWarnings = append(report.AggregationWarnings, outcome.Warnings...)
	}

	logger.Info().
		Int("total_unprocessed", report.TotalUnprocessed).
		Int("matched", report.Matched).
		Int("unmatched", report.Unmatched).
		Int("facilities_aggregated", report.FacilitiesAggregated).
		Int("review_flags", len(report.ReviewFlags)).
		Msg("calculation batch complete")
	return report, nil
}

type preparedCalculation struct {
	emission domain.CalculatedEmission
	entry    domain.CalculationLog
}

// prepare runs the pure part of the pipeline for one activity. skip is true
// when the activity was recorded as unmatched.
func (o *Orchestrator) prepare(activity domain.ActivityRecord, userID string, resolver *factors.Resolver, report *Report, logger zerolog.Logger) (preparedCalculation, bool) {
	norm := units.Normalize(activity.Quantity, activity.Unit)
	if !norm.Recognized {
		observability.RecordUnitWarning()
		logger.Warn().Str("activity_id", activity.ID).Str("unit", activity.Unit).Msg("unrecognized unit passed through")
		report.UnitWarnings = append(report.UnitWarnings, UnitWarning{
			ActivityID: activity.ID,
			Unit:       activity.Unit,
			Message:    "unit not recognized; quantity used as entered",
		})
	}
	mapping := o.mapper.Map(activity.FuelType, activity.Category)

	snapshot := activitySnapshot(activity, norm, mapping)
	var (
		value  float64
		method string
		factor *domain.EmissionFactor
		scope  = mapping.Scope
	)

	if activity.SuppliedCO2ePerUnit != nil {
		perUnit := norm.ScalePerUnit(*activity.SuppliedCO2ePerUnit)
		value = engine.SuppliedEmission(norm, *activity.SuppliedCO2ePerUnit)
		method = domain.MethodSupplierSpecific
		snapshot["supplied_co2e_per_unit"] = *activity.SuppliedCO2ePerUnit
		snapshot["scaled_co2e_per_unit"] = perUnit
	} else {
		res, ok := resolver.Resolve(mapping.FuelType, activity.PeriodEnd(), activity.Geography)
		if !ok {
			o.skip(report, logger, UnmatchedActivity{ActivityID: activity.ID, FuelType: mapping.FuelType, Unit: norm.Unit, Reason: ReasonNoFactor})
			return preparedCalculation{}, true
		}
		if !units.SameUnit(norm.Unit, res.Factor.FactorUnit) {
			o.skip(report, logger, UnmatchedActivity{
				ActivityID: activity.ID,
				FuelType:   mapping.FuelType,
				Unit:       norm.Unit,
				FactorUnit: res.Factor.FactorUnit,
				Reason:     ReasonUnitMismatch,
			})
			return preparedCalculation{}, true
		}
		f := res.Factor
		factor = &f
		value = engine.FactorEmission(norm, f)
		method = domain.MethodFactorBased
		if f.Scope != "" {
			snapshot["factor_scope"] = string(f.Scope)
		}
		snapshot["target_year"] = res.TargetYear
		if res.Fallback != factors.FallbackNone {
			snapshot["factor_year_fallback"] = string(res.Fallback)
		}
		if res.FutureYear() {
			report.ReviewFlags = append(report.ReviewFlags, ReviewFlag{
				ActivityID: activity.ID,
				FactorID:   f.ID,
				FactorYear: f.FactorYear,
				TargetYear: res.TargetYear,
				Reason:     "factor year is later than reporting period; oldest available factor applied",
			})
			logger.Warn().Str("activity_id", activity.ID).Int("factor_year", f.FactorYear).Int("target_year", res.TargetYear).Msg("future factor year applied")
		}
	}

	now := o.now().UTC()
	emission := domain.CalculatedEmission{
		ID:                  uuid.NewString(),
		OrganizationID:      activity.OrganizationID,
		ActivityDataID:      activity.ID,
		CalculatedValueCO2e: value,
		Scope:               scope,
		CalculationMethod:   method,
		CreatedAt:           now,
	}
	if factor != nil {
		emission.EmissionsFactorID = factor.ID
	}

	entry := audit.NewEntry(audit.Record{
		OrganizationID:       activity.OrganizationID,
		UserID:               userID,
		CalculatedEmissionID: emission.ID,
		CalculationType:      domain.CalculationTypeScope12,
		Input:                snapshot,
		Factor:               factor,
		OutputValue:          value,
		OutputUnit:           OutputUnitKgCO2e,
		MethodologyVersion:   o.tables.MethodologyVersion,
	})
	entry.CreatedAt = now
	return preparedCalculation{emission: emission, entry: entry}, false
}

func (o *Orchestrator) skip(report *Report, logger zerolog.Logger, u UnmatchedActivity) {
	report.unmatched(u)
	observability.RecordUnmatched(u.Reason)
	logger.Warn().Str("activity_id", u.ActivityID).Str("fuel_type", u.FuelType).Str("reason", u.Reason).Msg("activity unmatched")
}

func activitySnapshot(a domain.ActivityRecord, norm units.Result, mapping fuelmap.Mapping) map[string]any {
	snapshot := map[string]any{
		"activity_id":         a.ID,
		"category":            a.Category,
		"fuel_type":           a.FuelType,
		"mapped_fuel_type":    mapping.FuelType,
		"fuel_type_mapped":    mapping.Mapped,
		"scope":               string(mapping.Scope),
		"quantity":            a.Quantity,
		"unit":                a.Unit,
		"normalized_quantity": norm.Quantity,
		"normalized_unit":     norm.Unit,
		"conversion_ratio":    norm.Ratio,
		"unit_recognized":     norm.Recognized,
	}
	if a.FacilityID != "" {
		snapshot["facility_id"] = a.FacilityID
	}
	if a.Geography != "" {
		snapshot["geography"] = a.Geography
	}
	if a.ReportingPeriodStart != nil {
		snapshot["reporting_period_start"] = a.ReportingPeriodStart.UTC().Format(time.DateOnly)
	}
	if a.ReportingPeriodEnd != nil {
		snapshot["reporting_period_end"] = a.ReportingPeriodEnd.UTC().Format(time.DateOnly)
	}
	if !a.ActivityDate.IsZero() {
		snapshot["activity_date"] = a.ActivityDate.UTC().Format(time.DateOnly)
	}
	return snapshot
}

func stageOf(err error) string {
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return domain.StageCalculatedEmission
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrBatchInProgress):
		return "locked"
	case errors.Is(err, domain.ErrReferenceDataMissing):
		return "no_reference_data"
	default:
		return "failed"
	}
}
