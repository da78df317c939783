// Package postgres implements the emissions store on PostgreSQL. Every tenant
// table is protected by row level security keyed on app.tenant_id.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"example.com/emissions/internal/audit"
	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/events"
	"example.com/emissions/internal/outbox"
)

// Advisory lock namespaces (the first key of the two-key form).
const (
	batchLockNamespace  int32 = 7101
	ledgerLockNamespace int32 = 7102
)

// Repository provides Postgres-backed persistence for the calculation pipeline.
type Repository struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger overrides the repository logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithClock overrides the time source used when sealing ledger entries.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// inTenantTx runs fn in a transaction scoped to tenantID. fn's error rolls the
// transaction back.
func (r *Repository) inTenantTx(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListUnprocessedActivities returns Scope 1/2 activities with no calculated emission.
func (r *Repository) ListUnprocessedActivities(ctx context.Context, organizationID string) ([]domain.ActivityRecord, error) {
	const query = `SELECT a.id, a.organization_id, a.category, a.quantity, a.unit, a.fuel_type,
            COALESCE(a.facility_id, ''), COALESCE(a.geography, ''),
            a.reporting_period_start, a.reporting_period_end, a.activity_date,
            a.supplied_co2e_per_unit, a.created_at
        FROM activity_data a
        WHERE a.organization_id = $1
          AND btrim(a.category) = ANY($2)
          AND NOT EXISTS (SELECT 1 FROM calculated_emissions ce WHERE ce.activity_data_id = a.id)
        ORDER BY a.created_at, a.id`

	if !isUUID(organizationID) {
		return nil, nil
	}
	var out []domain.ActivityRecord
	err := r.inTenantTx(ctx, organizationID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, organizationID, []string{domain.CategoryScope1, domain.CategoryScope2})
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				a            domain.ActivityRecord
				activityDate *time.Time
			)
			if err := rows.Scan(&a.ID, &a.OrganizationID, &a.Category, &a.Quantity, &a.Unit, &a.FuelType,
				&a.FacilityID, &a.Geography, &a.ReportingPeriodStart, &a.ReportingPeriodEnd, &activityDate,
				&a.SuppliedCO2ePerUnit, &a.CreatedAt); err != nil {
				return err
			}
			if activityDate != nil {
				a.ActivityDate = *activityDate
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListEmissionFactors returns the full reference table.
func (r *Repository) ListEmissionFactors(ctx context.Context) ([]domain.EmissionFactor, error) {
	const query = `SELECT id, fuel_type, factor_year, co2e_factor, factor_unit, scope, geographic_scope, source
        FROM emission_factors
        ORDER BY fuel_type, factor_year, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EmissionFactor
	for rows.Next() {
		var f domain.EmissionFactor
		if err := rows.Scan(&f.ID, &f.FuelType, &f.FactorYear, &f.CO2eFactor, &f.FactorUnit, &f.Scope, &f.GeographicScope, &f.Source); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordCalculation writes the emission, its sealed log entry and the
// emission.calculated outbox event in one transaction.
func (r *Repository) RecordCalculation(ctx context.Context, emission domain.CalculatedEmission, entry domain.CalculationLog) (domain.CalculationLog, error) {
	if emission.CreatedAt.IsZero() {
		emission.CreatedAt = r.now().UTC()
	}
	var sealed domain.CalculationLog
	err := r.inTenantTx(ctx, emission.OrganizationID, func(tx pgx.Tx) error {
		head, err := lockLedgerHead(ctx, tx, emission.OrganizationID)
		if err != nil {
			return &domain.StageError{Stage: domain.StageCalculationLog, Err: err}
		}

		const insertEmission = `INSERT INTO calculated_emissions (id, organization_id, activity_data_id, emissions_factor_id, calculated_value_co2e, scope, calculation_method, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
		if _, err := tx.Exec(ctx, insertEmission,
			emission.ID,
			emission.OrganizationID,
			emission.ActivityDataID,
			nullIfEmpty(emission.EmissionsFactorID),
			emission.CalculatedValueCO2e,
			string(emission.Scope),
			emission.CalculationMethod,
			emission.CreatedAt,
		); err != nil {
			return &domain.StageError{Stage: domain.StageCalculatedEmission, Err: err}
		}

		entry.CalculatedEmissionID = emission.ID
		sealed, err = insertLog(ctx, tx, head, entry, r.now())
		if err != nil {
			return &domain.StageError{Stage: domain.StageCalculationLog, Err: err}
		}

		if err := outbox.Insert(ctx, tx, outbox.Event{
			TenantID:      emission.OrganizationID,
			AggregateType: "calculated_emission",
			AggregateID:   emission.ID,
			EventType:     events.TypeEmissionCalculated,
			PartitionKey:  emission.OrganizationID,
			Payload:       events.EmissionCalculatedFrom(emission, sealed),
		}); err != nil {
			return &domain.StageError{Stage: domain.StageOutbox, Err: err}
		}
		return nil
	})
	if err != nil {
		return domain.CalculationLog{}, tagStage(err, domain.StageCalculationLog)
	}
	return sealed, nil
}

// AppendLog seals and stores a log entry that has no calculated emission.
func (r *Repository) AppendLog(ctx context.Context, entry domain.CalculationLog) (domain.CalculationLog, error) {
	var sealed domain.CalculationLog
	err := r.inTenantTx(ctx, entry.OrganizationID, func(tx pgx.Tx) error {
		head, err := lockLedgerHead(ctx, tx, entry.OrganizationID)
		if err != nil {
			return &domain.StageError{Stage: domain.StageCalculationLog, Err: err}
		}
		sealed, err = insertLog(ctx, tx, head, entry, r.now())
		if err != nil {
			return &domain.StageError{Stage: domain.StageCalculationLog, Err: err}
		}
		if sealed.CalculationType != domain.CalculationTypeScope3TravelSpend {
			return nil
		}
		if err := outbox.Insert(ctx, tx, outbox.Event{
			TenantID:      sealed.OrganizationID,
			AggregateType: "calculation_log",
			AggregateID:   sealed.ID,
			EventType:     events.TypeSpendEmissionCalculated,
			PartitionKey:  sealed.OrganizationID,
			Payload:       events.SpendEmissionFromLog(sealed),
		}); err != nil {
			return &domain.StageError{Stage: domain.StageOutbox, Err: err}
		}
		return nil
	})
	if err != nil {
		return domain.CalculationLog{}, tagStage(err, domain.StageCalculationLog)
	}
	return sealed, nil
}

// lockLedgerHead serialises ledger appends for an organization until the
// transaction ends and returns the current head.
func lockLedgerHead(ctx context.Context, tx pgx.Tx, organizationID string) (audit.Head, error) {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, $2)", ledgerLockNamespace, lockKey(organizationID)); err != nil {
		return audit.Head{}, fmt.Errorf("lock ledger: %w", err)
	}
	var head audit.Head
	err := tx.QueryRow(ctx,
		`SELECT sequence, hash FROM calculation_logs WHERE organization_id = $1 ORDER BY sequence DESC LIMIT 1`,
		organizationID,
	).Scan(&head.Sequence, &head.Hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Head{}, nil
	}
	if err != nil {
		return audit.Head{}, fmt.Errorf("read ledger head: %w", err)
	}
	return head, nil
}

func insertLog(ctx context.Context, tx pgx.Tx, head audit.Head, entry domain.CalculationLog, now time.Time) (domain.CalculationLog, error) {
	sealed, err := audit.Seal(head, entry, now)
	if err != nil {
		return domain.CalculationLog{}, err
	}
	input, err := json.Marshal(sealed.InputData)
	if err != nil {
		return domain.CalculationLog{}, fmt.Errorf("encode input_data: %w", err)
	}

	const stmt = `INSERT INTO calculation_logs (id, organization_id, user_id, calculated_emission_id, provenance_id, calculation_type, input_data, output_value, output_unit, methodology_version, factor_ids_used, sequence, prev_hash, hash, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	if _, err := tx.Exec(ctx, stmt,
		sealed.ID,
		sealed.OrganizationID,
		nullIfEmpty(sealed.UserID),
		nullIfEmpty(sealed.CalculatedEmissionID),
		nullIfEmpty(sealed.ProvenanceID),
		sealed.CalculationType,
		input,
		sealed.OutputValue,
		sealed.OutputUnit,
		sealed.MethodologyVersion,
		sealed.FactorIDsUsed,
		sealed.Sequence,
		sealed.PrevHash,
		sealed.Hash,
		sealed.CreatedAt,
	); err != nil {
		return domain.CalculationLog{}, err
	}
	return sealed, nil
}

// ListLogs returns an organization's ledger in sequence order.
func (r *Repository) ListLogs(ctx context.Context, organizationID string) ([]domain.CalculationLog, error) {
	const query = `SELECT id, organization_id, COALESCE(user_id, ''), COALESCE(calculated_emission_id::text, ''),
            COALESCE(provenance_id::text, ''), calculation_type, input_data, output_value, output_unit,
            methodology_version, factor_ids_used, sequence, prev_hash, hash, created_at
        FROM calculation_logs
        WHERE organization_id = $1
        ORDER BY sequence`

	if !isUUID(organizationID) {
		return nil, nil
	}
	var out []domain.CalculationLog
	err := r.inTenantTx(ctx, organizationID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, organizationID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var entry domain.CalculationLog
			if err := rows.Scan(&entry.ID, &entry.OrganizationID, &entry.UserID, &entry.CalculatedEmissionID,
				&entry.ProvenanceID, &entry.CalculationType, &entry.InputData, &entry.OutputValue, &entry.OutputUnit,
				&entry.MethodologyVersion, &entry.FactorIDsUsed, &entry.Sequence, &entry.PrevHash, &entry.Hash,
				&entry.CreatedAt); err != nil {
				return err
			}
			entry.CreatedAt = entry.CreatedAt.UTC()
			out = append(out, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithOrganizationLock holds a session advisory lock on a dedicated
// connection while fn runs.
func (r *Repository) WithOrganizationLock(ctx context.Context, organizationID string, fn func(context.Context) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	key := lockKey(organizationID)
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1, $2)", batchLockNamespace, key).Scan(&acquired); err != nil {
		return fmt.Errorf("acquire organization lock: %w", err)
	}
	if !acquired {
		return domain.ErrBatchInProgress
	}
	defer releaseSessionLock(context.WithoutCancel(ctx), conn.Conn(), r.logger.With().Str("organization_id", organizationID).Logger(), key)
	return fn(ctx)
}

type sessionConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// releaseSessionLock drops the batch lock. A connection whose unlock cannot
// be confirmed is closed, ending the session and every lock it holds.
func releaseSessionLock(ctx context.Context, conn sessionConn, logger zerolog.Logger, key int32) {
	var released bool
	err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1, $2)", batchLockNamespace, key).Scan(&released)
	if err == nil && released {
		return
	}
	if err == nil {
		err = errors.New("lock was not held")
	}
	logger.Error().Err(err).Msg("organization lock release failed, closing connection")
	if closeErr := conn.Close(ctx); closeErr != nil {
		logger.Warn().Err(closeErr).Msg("close locked connection")
	}
}

// StaleFacilityKeys lists facility periods whose aggregate is missing or older
// than the newest calculation attributed to them.
func (r *Repository) StaleFacilityKeys(ctx context.Context, organizationID string) ([]domain.FacilityPeriodKey, error) {
	const query = `SELECT btrim(a.facility_id), a.reporting_period_start, a.reporting_period_end
        FROM calculated_emissions ce
        JOIN activity_data a ON a.id = ce.activity_data_id
        LEFT JOIN facility_emissions_aggregates f
          ON f.organization_id = ce.organization_id
         AND f.facility_id = btrim(a.facility_id)
         AND f.period_start = a.reporting_period_start
         AND f.period_end = a.reporting_period_end
        WHERE ce.organization_id = $1
          AND COALESCE(btrim(a.facility_id), '') <> ''
          AND a.reporting_period_start IS NOT NULL
          AND a.reporting_period_end IS NOT NULL
        GROUP BY btrim(a.facility_id), a.reporting_period_start, a.reporting_period_end, f.calculated_at
        HAVING f.calculated_at IS NULL OR f.calculated_at < MAX(ce.created_at)`

	if !isUUID(organizationID) {
		return nil, nil
	}
	var out []domain.FacilityPeriodKey
	err := r.inTenantTx(ctx, organizationID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, organizationID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				facility   string
				start, end time.Time
			)
			if err := rows.Scan(&facility, &start, &end); err != nil {
				return err
			}
			out = append(out, domain.NewFacilityPeriodKey(facility, start, end))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SumFacilityPeriod totals the calculated emissions attributed to key.
func (r *Repository) SumFacilityPeriod(ctx context.Context, organizationID string, key domain.FacilityPeriodKey) (float64, int, error) {
	const query = `SELECT COALESCE(SUM(ce.calculated_value_co2e), 0), COUNT(ce.id)
        FROM calculated_emissions ce
        JOIN activity_data a ON a.id = ce.activity_data_id
        WHERE ce.organization_id = $1
          AND btrim(a.facility_id) = $2
          AND a.reporting_period_start = $3
          AND a.reporting_period_end = $4`

	var (
		total float64
		count int
	)
	err := r.inTenantTx(ctx, organizationID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, organizationID, key.FacilityID, key.PeriodStart, key.PeriodEnd).Scan(&total, &count)
	})
	if err != nil {
		return 0, 0, err
	}
	return total, count, nil
}

// ReplaceFacilityAggregate overwrites the aggregate row for the key and emits
// facility_aggregate.updated in the same transaction.
func (r *Repository) ReplaceFacilityAggregate(ctx context.Context, agg domain.FacilityEmissionsAggregate) error {
	const upsert = `INSERT INTO facility_emissions_aggregates (organization_id, facility_id, period_start, period_end, total_co2e, activity_count, calculation_method, calculated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (organization_id, facility_id, period_start, period_end) DO UPDATE
        SET total_co2e = EXCLUDED.total_co2e,
            activity_count = EXCLUDED.activity_count,
            calculation_method = EXCLUDED.calculation_method,
            calculated_at = EXCLUDED.calculated_at`

	key := agg.Key()
	aggregateID := fmt.Sprintf("%s:%s:%s", key.FacilityID, key.PeriodStart.Format(time.DateOnly), key.PeriodEnd.Format(time.DateOnly))
	return r.inTenantTx(ctx, agg.OrganizationID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsert,
			agg.OrganizationID,
			key.FacilityID,
			key.PeriodStart,
			key.PeriodEnd,
			agg.TotalCO2e,
			agg.ActivityCount,
			agg.CalculationMethod,
			agg.CalculatedAt,
		); err != nil {
			return err
		}
		return outbox.Insert(ctx, tx, outbox.Event{
			TenantID:      agg.OrganizationID,
			AggregateType: "facility_emissions_aggregate",
			AggregateID:   aggregateID,
			EventType:     events.TypeFacilityAggregateUpdated,
			PartitionKey:  agg.OrganizationID + ":" + key.FacilityID,
			DedupeKey:     fmt.Sprintf("%s:%s:%d", aggregateID, events.TypeFacilityAggregateUpdated, agg.CalculatedAt.UnixMicro()),
			Payload:       events.FacilityAggregateFrom(agg),
		})
	})
}

// GetProvenance loads a provenance record visible to organizationID.
func (r *Repository) GetProvenance(ctx context.Context, organizationID, provenanceID string) (*domain.DataProvenanceRecord, error) {
	const query = `SELECT id, organization_id, source_type, COALESCE(reference, ''), created_at
        FROM data_provenance WHERE organization_id = $1 AND id = $2`

	if !isUUID(organizationID) || !isUUID(provenanceID) {
		return nil, domain.ErrNotFound
	}
	var rec domain.DataProvenanceRecord
	err := r.inTenantTx(ctx, organizationID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, organizationID, provenanceID).
			Scan(&rec.ID, &rec.OrganizationID, &rec.SourceType, &rec.Reference, &rec.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IsMember reports whether userID belongs to organizationID.
func (r *Repository) IsMember(ctx context.Context, organizationID, userID string) (bool, error) {
	if !isUUID(organizationID) || strings.TrimSpace(userID) == "" {
		return false, nil
	}
	var member bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM organization_members WHERE organization_id = $1 AND user_id = $2)`,
		organizationID, userID,
	).Scan(&member)
	return member, err
}

func tagStage(err error, fallback string) error {
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		return err
	}
	return &domain.StageError{Stage: fallback, Err: err}
}

func lockKey(organizationID string) int32 {
	return int32(crc32.ChecksumIEEE([]byte(strings.ToLower(strings.TrimSpace(organizationID)))))
}

func isUUID(value string) bool {
	_, err := uuid.Parse(strings.TrimSpace(value))
	return err == nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

var _ domain.Store = (*Repository)(nil)
