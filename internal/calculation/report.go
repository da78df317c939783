package calculation

import "example.com/emissions/internal/aggregate"

// Unmatched reasons.
const (
	ReasonNoFactor     = "no factor for fuel type"
	ReasonUnitMismatch = "unit mismatch"
)

// UnmatchedActivity is an activity skipped by the batch. It is reported, never
// treated as a failure.
type UnmatchedActivity struct {
	ActivityID string `json:"activity_id"`
	FuelType   string `json:"fuel_type"`
	Unit       string `json:"unit"`
	FactorUnit string `json:"factor_unit,omitempty"`
	Reason     string `json:"reason"`
}

// ReviewFlag marks a calculation that completed but needs human review.
type ReviewFlag struct {
	ActivityID string `json:"activity_id"`
	FactorID   string `json:"factor_id"`
	FactorYear int    `json:"factor_year"`
	TargetYear int    `json:"target_year"`
	Reason     string `json:"reason"`
}

// UnitWarning reports a unit string the normalizer did not recognize.
type UnitWarning struct {
	ActivityID string `json:"activity_id"`
	Unit       string `json:"unit"`
	Message    string `json:"message"`
}

// Report summarises one batch invocation.
type Report struct {
	TotalUnprocessed      int
	Matched               int
	Unmatched             int
	UnmatchedList         []UnmatchedActivity
	CalculationsPerformed int
	LogsCreated           int
	FacilitiesAggregated  int
	ReviewFlags           []ReviewFlag
	UnitWarnings          []UnitWarning
	AggregationWarnings   []aggregate.Warning
}

func newReport() Report {
	return Report{
		UnmatchedList:       []UnmatchedActivity{},
		ReviewFlags:         []ReviewFlag{},
		UnitWarnings:        []UnitWarning{},
		AggregationWarnings: []aggregate.Warning{},
	}
}

func (r *Report) unmatched(u UnmatchedActivity) {
	r.UnmatchedList = append(r.UnmatchedList, u)
	r.Unmatched = len(r.UnmatchedList)
}
