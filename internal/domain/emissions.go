// Package domain defines the records exchanged by the emissions calculation pipeline.
package domain

import (
	"strings"
	"time"
)

// Scope is the GHG Protocol scope an emission is reported under.
type Scope string

const (
	Scope1 Scope = "1"
	Scope2 Scope = "2"
	Scope3 Scope = "3"
)

// Activity categories recognised by the pipeline.
const (
	CategoryScope1               = "Scope 1"
	CategoryScope2               = "Scope 2"
	CategoryScope3BusinessTravel = "Scope 3 - Business Travel"
)

// Calculation types recorded on audit log entries.
const (
	CalculationTypeScope12           = "scope1_2_activity"
	CalculationTypeScope3TravelSpend = "scope3_travel_spend"
)

// Calculation method tags.
const (
	MethodFactorBased      = "emission_factor"
	MethodSupplierSpecific = "supplier_specific"
	MethodSpendBased       = "spend_based"
	MethodFacilityRollup   = "sum_of_calculated_emissions"
)

// ActivityRecord is an organization-scoped quantity of something consumed.
// The pipeline reads activity records but never mutates them.
type ActivityRecord struct {
	ID                   string
	OrganizationID       string
	Category             string
	Quantity             float64
	Unit                 string
	FuelType             string
	FacilityID           string
	Geography            string
	ReportingPeriodStart *time.Time
	ReportingPeriodEnd   *time.Time
	ActivityDate         time.Time
	// SuppliedCO2ePerUnit is a supplier-specific intensity expressed per
	// unit of the activity's original Unit.
	SuppliedCO2ePerUnit *float64
	CreatedAt           time.Time
}

// PeriodEnd returns the reporting period end, falling back to the activity date.
func (a ActivityRecord) PeriodEnd() time.Time {
	if a.ReportingPeriodEnd != nil && !a.ReportingPeriodEnd.IsZero() {
		return *a.ReportingPeriodEnd
	}
	return a.ActivityDate
}

// FacilityKey returns the aggregation key for the activity, or false when the
// activity is not attributable to a facility reporting period.
func (a ActivityRecord) FacilityKey() (FacilityPeriodKey, bool) {
	if strings.TrimSpace(a.FacilityID) == "" || a.ReportingPeriodStart == nil || a.ReportingPeriodEnd == nil {
		return FacilityPeriodKey{}, false
	}
	return NewFacilityPeriodKey(a.FacilityID, *a.ReportingPeriodStart, *a.ReportingPeriodEnd), true
}

// IsScope12 reports whether the activity belongs to the Scope 1/2 batch.
func (a ActivityRecord) IsScope12() bool {
	switch strings.TrimSpace(a.Category) {
	case CategoryScope1, CategoryScope2:
		return true
	}
	return false
}

// EmissionFactor is externally curated reference data.
type EmissionFactor struct {
	ID              string
	FuelType        string
	FactorYear      int
	CO2eFactor      float64
	FactorUnit      string
	Scope           Scope
	GeographicScope string
	Source          string
}

// CalculatedEmission is the primary engine output; one per activity record.
type CalculatedEmission struct {
	ID                  string
	OrganizationID      string
	ActivityDataID      string
	EmissionsFactorID   string
	CalculatedValueCO2e float64
	Scope               Scope
	CalculationMethod   string
	CreatedAt           time.Time
}

// CalculationLog is an append-only audit entry chained per organization.
type CalculationLog struct {
	ID                   string
	OrganizationID       string
	UserID               string
	CalculatedEmissionID string
	ProvenanceID         string
	CalculationType      string
	InputData            map[string]any
	OutputValue          float64
	OutputUnit           string
	MethodologyVersion   string
	FactorIDsUsed        []string
	Sequence             int64
	PrevHash             string
	Hash                 string
	CreatedAt            time.Time
}

// DataProvenanceRecord anchors a calculation to evidence such as an invoice.
type DataProvenanceRecord struct {
	ID             string
	OrganizationID string
	SourceType     string
	Reference      string
	CreatedAt      time.Time
}

// FacilityPeriodKey identifies a facility aggregate row.
type FacilityPeriodKey struct {
	FacilityID  string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// NewFacilityPeriodKey truncates period bounds to UTC calendar dates so keys
// compare equal regardless of the time component they were loaded with.
func NewFacilityPeriodKey(facilityID string, start, end time.Time) FacilityPeriodKey {
	return FacilityPeriodKey{
		FacilityID:  strings.TrimSpace(facilityID),
		PeriodStart: civilDate(start),
		PeriodEnd:   civilDate(end),
	}
}

func civilDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FacilityEmissionsAggregate is the rolled-up total for one facility period.
type FacilityEmissionsAggregate struct {
	OrganizationID    string
	FacilityID        string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TotalCO2e         float64
	ActivityCount     int
	CalculationMethod string
	CalculatedAt      time.Time
}

// Key returns the aggregate's facility period key.
func (a FacilityEmissionsAggregate) Key() FacilityPeriodKey {
	return NewFacilityPeriodKey(a.FacilityID, a.PeriodStart, a.PeriodEnd)
}

// Input snapshot keys written by the spend-based flow and read back by the
// event feed.
const (
	SpendInputTravelType     = "travel_type"
	SpendInputCurrency       = "currency_original"
	SpendInputNormalised     = "spend_normalised_usd"
	SpendInputProvenanceType = "provenance_source_type"
)
