// Package memory provides an in-process Store for local runs and tests. It
// honours the same atomicity, locking and ledger rules as the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/emissions/internal/audit"
	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/events"
)

// FaultFunc lets tests fail a write at a given stage. Returning nil lets the
// write proceed.
type FaultFunc func(stage string, emission domain.CalculatedEmission, entry domain.CalculationLog) error

// Event is an outbox entry captured by the in-memory store.
type Event struct {
	Type     string
	TenantID string
	Payload  any
}

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu         sync.RWMutex
	activities map[string][]domain.ActivityRecord
	factors    []domain.EmissionFactor
	emissions  map[string]domain.CalculatedEmission
	byActivity map[string]string
	logs       map[string][]domain.CalculationLog
	provenance map[string]domain.DataProvenanceRecord
	members    map[string]map[string]struct{}
	aggregates map[string]map[domain.FacilityPeriodKey]domain.FacilityEmissionsAggregate
	events     []Event

	lockMu sync.Mutex
	locks  map[string]struct{}

	now   func() time.Time
	fault FaultFunc
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used when sealing ledger entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFault installs a write fault hook.
func WithFault(fn FaultFunc) Option {
	return func(s *Store) { s.fault = fn }
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		activities: make(map[string][]domain.ActivityRecord),
		emissions:  make(map[string]domain.CalculatedEmission),
		byActivity: make(map[string]string),
		logs:       make(map[string][]domain.CalculationLog),
		provenance: make(map[string]domain.DataProvenanceRecord),
		members:    make(map[string]map[string]struct{}),
		aggregates: make(map[string]map[domain.FacilityPeriodKey]domain.FacilityEmissionsAggregate),
		locks:      make(map[string]struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault replaces the write fault hook.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// AddActivity seeds an activity record.
func (s *Store) AddActivity(a domain.ActivityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.activities[a.OrganizationID] = append(s.activities[a.OrganizationID], a)
}

// AddFactor seeds an emission factor.
func (s *Store) AddFactor(f domain.EmissionFactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(f.ID) == "" {
		f.ID = uuid.NewString()
	}
	s.factors = append(s.factors, f)
}

// AddProvenance seeds a provenance record.
func (s *Store) AddProvenance(p domain.DataProvenanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provenance[p.ID] = p
}

// AddMember grants userID membership of organizationID.
func (s *Store) AddMember(organizationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[organizationID] == nil {
		s.members[organizationID] = make(map[string]struct{})
	}
	s.members[organizationID][userID] = struct{}{}
}

// ListUnprocessedActivities implements domain.CalculationRepository.
func (s *Store) ListUnprocessedActivities(_ context.Context, organizationID string) ([]domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ActivityRecord
	for _, a := range s.activities[organizationID] {
		if !a.IsScope12() {
			continue
		}
		if _, done := s.byActivity[a.ID]; done {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListEmissionFactors implements domain.CalculationRepository.
func (s *Store) ListEmissionFactors(context.Context) ([]domain.EmissionFactor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.EmissionFactor(nil), s.factors...), nil
}

// RecordCalculation implements domain.CalculationRepository.
func (s *Store) RecordCalculation(_ context.Context, emission domain.CalculatedEmission, entry domain.CalculationLog) (domain.CalculationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byActivity[emission.ActivityDataID]; exists {
		return domain.CalculationLog{}, &domain.StageError{
			Stage: domain.StageCalculatedEmission,
			Err:   fmt.Errorf("activity %s already has a calculated emission", emission.ActivityDataID),
		}
	}
	if err := s.injectFault(domain.StageCalculatedEmission, emission, entry); err != nil {
		return domain.CalculationLog{}, err
	}

	entry.CalculatedEmissionID = emission.ID
	sealed, err := audit.Seal(s.headLocked(entry.OrganizationID), entry, s.now())
	if err != nil {
		return domain.CalculationLog{}, &domain.StageError{Stage: domain.StageCalculationLog, Err: err}
	}
	if err := s.injectFault(domain.StageCalculationLog, emission, sealed); err != nil {
		return domain.CalculationLog{}, err
	}

	s.emissions[emission.ID] = emission
	s.byActivity[emission.ActivityDataID] = emission.ID
	s.logs[sealed.OrganizationID] = append(s.logs[sealed.OrganizationID], sealed)
	s.events = append(s.events, Event{
		Type:     events.TypeEmissionCalculated,
		TenantID: emission.OrganizationID,
		Payload:  events.EmissionCalculatedFrom(emission, sealed),
	})
	return sealed, nil
}

// AppendLog implements domain.CalculationRepository.
func (s *Store) AppendLog(_ context.Context, entry domain.CalculationLog) (domain.CalculationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := audit.Seal(s.headLocked(entry.OrganizationID), entry, s.now())
	if err != nil {
		return domain.CalculationLog{}, &domain.StageError{Stage: domain.StageCalculationLog, Err: err}
	}
	if err := s.injectFault(domain.StageCalculationLog, domain.CalculatedEmission{}, sealed); err != nil {
		return domain.CalculationLog{}, err
	}
	s.logs[sealed.OrganizationID] = append(s.logs[sealed.OrganizationID], sealed)
	if sealed.CalculationType == domain.CalculationTypeScope3TravelSpend {
		s.events = append(s.events, Event{
			Type:     events.TypeSpendEmissionCalculated,
			TenantID: sealed.OrganizationID,
			Payload:  events.SpendEmissionFromLog(sealed),
		})
	}
	return sealed, nil
}

// ListLogs implements domain.CalculationRepository.
func (s *Store) ListLogs(_ context.Context, organizationID string) ([]domain.CalculationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CalculationLog(nil), s.logs[organizationID]...), nil
}

// WithOrganizationLock implements domain.CalculationRepository.
func (s *Store) WithOrganizationLock(ctx context.Context, organizationID string, fn func(context.Context) error) error {
	s.lockMu.Lock()
	if _, held := s.locks[organizationID]; held {
		s.lockMu.Unlock()
		return domain.ErrBatchInProgress
	}
	s.locks[organizationID] = struct{}{}
	s.lockMu.Unlock()

	defer func() {
		s.lockMu.Lock()
		delete(s.locks, organizationID)
		s.lockMu.Unlock()
	}()
	return fn(ctx)
}

// StaleFacilityKeys implements domain.AggregateRepository.
func (s *Store) StaleFacilityKeys(_ context.Context, organizationID string) ([]domain.FacilityPeriodKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	newest := make(map[domain.FacilityPeriodKey]time.Time)
	for _, a := range s.activities[organizationID] {
		key, ok := a.FacilityKey()
		if !ok {
			continue
		}
		id, done := s.byActivity[a.ID]
		if !done {
			continue
		}
		created := s.emissions[id].CreatedAt
		if prev, seen := newest[key]; !seen || created.After(prev) {
			newest[key] = created
		}
	}

	var out []domain.FacilityPeriodKey
	for key, latest := range newest {
		agg, ok := s.aggregates[organizationID][key]
		if !ok || agg.CalculatedAt.Before(latest) {
			out = append(out, key)
		}
	}
	return out, nil
}

// SumFacilityPeriod implements domain.AggregateRepository.
func (s *Store) SumFacilityPeriod(_ context.Context, organizationID string, key domain.FacilityPeriodKey) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		total float64
		count int
	)
	for _, a := range s.activities[organizationID] {
		k, ok := a.FacilityKey()
		if !ok || k != key {
			continue
		}
		id, done := s.byActivity[a.ID]
		if !done {
			continue
		}
		total += s.emissions[id].CalculatedValueCO2e
		count++
	}
	return total, count, nil
}

// ReplaceFacilityAggregate implements domain.AggregateRepository.
func (s *Store) ReplaceFacilityAggregate(_ context.Context, agg domain.FacilityEmissionsAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aggregates[agg.OrganizationID] == nil {
		s.aggregates[agg.OrganizationID] = make(map[domain.FacilityPeriodKey]domain.FacilityEmissionsAggregate)
	}
	s.aggregates[agg.OrganizationID][agg.Key()] = agg
	s.events = append(s.events, Event{
		Type:     events.TypeFacilityAggregateUpdated,
		TenantID: agg.OrganizationID,
		Payload:  events.FacilityAggregateFrom(agg),
	})
	return nil
}

// GetProvenance implements domain.ProvenanceRepository. Records of other
// organizations are invisible, as they are under row level security.
func (s *Store) GetProvenance(_ context.Context, organizationID, provenanceID string) (*domain.DataProvenanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.provenance[provenanceID]
	if !ok || rec.OrganizationID != organizationID {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

// IsMember implements domain.MembershipRepository.
func (s *Store) IsMember(_ context.Context, organizationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[organizationID][userID]
	return ok, nil
}

// Emissions returns every stored calculated emission for an organization.
func (s *Store) Emissions(organizationID string) []domain.CalculatedEmission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CalculatedEmission
	for _, e := range s.emissions {
		if e.OrganizationID == organizationID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityDataID < out[j].ActivityDataID })
	return out
}

// Aggregate returns the stored aggregate for key.
func (s *Store) Aggregate(organizationID string, key domain.FacilityPeriodKey) (domain.FacilityEmissionsAggregate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[organizationID][key]
	return agg, ok
}

// Events returns the captured outbox events.
func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// TamperLog overwrites a stored log entry in place. It exists so ledger
// verification can be exercised; nothing in the service calls it.
func (s *Store) TamperLog(organizationID string, sequence int64, mutate func(*domain.CalculationLog)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.logs[organizationID] {
		if s.logs[organizationID][i].Sequence == sequence {
			mutate(&s.logs[organizationID][i])
			return true
		}
	}
	return false
}

func (s *Store) headLocked(organizationID string) audit.Head {
	logs := s.logs[organizationID]
	if len(logs) == 0 {
		return audit.Head{}
	}
	return audit.HeadOf(logs[len(logs)-1])
}

func (s *Store) injectFault(stage string, emission domain.CalculatedEmission, entry domain.CalculationLog) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(stage, emission, entry); err != nil {
		return &domain.StageError{Stage: stage, Err: err}
	}
	return nil
}

var _ domain.Store = (*Store)(nil)
