package domain

import "context"

// CalculationRepository captures persistence for the calculation pipeline.
type CalculationRepository interface {
	ListUnprocessedActivities(ctx context.Context, organizationID string) ([]ActivityRecord, error)
	ListEmissionFactors(ctx context.Context) ([]EmissionFactor, error)
	// RecordCalculation stores the emission and its sealed audit log as one
	// unit of work. Either both rows exist afterwards or neither does.
	RecordCalculation(ctx context.Context, emission CalculatedEmission, entry CalculationLog) (CalculationLog, error)
	// AppendLog seals and stores a log entry that has no CalculatedEmission.
	AppendLog(ctx context.Context, entry CalculationLog) (CalculationLog, error)
	ListLogs(ctx context.Context, organizationID string) ([]CalculationLog, error)
	// WithOrganizationLock runs fn while holding the organization's batch
	// lock. It returns ErrBatchInProgress when the lock is already held.
	WithOrganizationLock(ctx context.Context, organizationID string, fn func(context.Context) error) error
}

// AggregateRepository persists facility aggregates.
type AggregateRepository interface {
	// StaleFacilityKeys lists keys whose stored aggregate is missing or older
	// than the newest calculation attributed to them.
	StaleFacilityKeys(ctx context.Context, organizationID string) ([]FacilityPeriodKey, error)
	SumFacilityPeriod(ctx context.Context, organizationID string, key FacilityPeriodKey) (float64, int, error)
	ReplaceFacilityAggregate(ctx context.Context, aggregate FacilityEmissionsAggregate) error
}

// ProvenanceRepository loads evidentiary records.
type ProvenanceRepository interface {
	GetProvenance(ctx context.Context, organizationID, provenanceID string) (*DataProvenanceRecord, error)
}

// MembershipRepository answers organization membership questions.
type MembershipRepository interface {
	IsMember(ctx context.Context, organizationID, userID string) (bool, error)
}

// Store bundles every repository the service needs.
type Store interface {
	CalculationRepository
	AggregateRepository
	ProvenanceRepository
	MembershipRepository
}
