// Package events defines the payloads published through the outbox.
package events

import "time"

// Event type names carried in the event_type header.
const (
	TypeEmissionCalculated       = "emission.calculated"
	TypeSpendEmissionCalculated  = "spend_emission.calculated"
	TypeFacilityAggregateUpdated = "facility_aggregate.updated"
)

// EmissionCalculated is emitted once per persisted CalculatedEmission.
type EmissionCalculated struct {
	CalculatedEmissionID string    `json:"calculated_emission_id"`
	TenantID             string    `json:"tenant_id"`
	ActivityDataID       string    `json:"activity_data_id"`
	EmissionsFactorID    string    `json:"emissions_factor_id,omitempty"`
	CalculatedValueCO2e  float64   `json:"calculated_value_co2e"`
	Scope                string    `json:"scope"`
	CalculationMethod    string    `json:"calculation_method"`
	CalculationLogID     string    `json:"calculation_log_id"`
	LogSequence          int64     `json:"log_sequence"`
	LogHash              string    `json:"log_hash"`
	CalculatedAt         time.Time `json:"calculated_at"`
}

// SpendEmissionCalculated is emitted for each spend-based calculation.
type SpendEmissionCalculated struct {
	CalculationLogID string    `json:"calculation_log_id"`
	TenantID         string    `json:"tenant_id"`
	ProvenanceID     string    `json:"provenance_id"`
	TravelType       string    `json:"travel_type"`
	EmissionsTCO2e   float64   `json:"emissions_tco2e"`
	NormalisedSpend  float64   `json:"normalised_spend"`
	Currency         string    `json:"currency"`
	LogSequence      int64     `json:"log_sequence"`
	LogHash          string    `json:"log_hash"`
	CalculatedAt     time.Time `json:"calculated_at"`
}

// FacilityAggregateUpdated is emitted whenever an aggregate row is overwritten.
type FacilityAggregateUpdated struct {
	TenantID          string    `json:"tenant_id"`
	FacilityID        string    `json:"facility_id"`
	PeriodStart       string    `json:"period_start"`
	PeriodEnd         string    `json:"period_end"`
	TotalCO2e         float64   `json:"total_co2e"`
	ActivityCount     int       `json:"activity_count"`
	CalculationMethod string    `json:"calculation_method"`
	CalculatedAt      time.Time `json:"calculated_at"`
}
