package audit

import (
	"github.com/google/uuid"

	"example.com/emissions/internal/domain"
)

// Record is the full computation context captured for one calculation.
type Record struct {
	OrganizationID       string
	UserID               string
	CalculatedEmissionID string
	ProvenanceID         string
	CalculationType      string
	Input                map[string]any
	Factor               *domain.EmissionFactor
	OutputValue          float64
	OutputUnit           string
	MethodologyVersion   string
}

// NewEntry builds an unsealed log entry. The factor used is embedded in the
// input snapshot under "factor" so the entry is self-describing.
func NewEntry(r Record) domain.CalculationLog {
	input := make(map[string]any, len(r.Input)+1)
	for k, v := range r.Input {
		input[k] = v
	}
	factorIDs := []string{}
	if r.Factor != nil {
		input["factor"] = map[string]any{
			"id":               r.Factor.ID,
			"fuel_type":        r.Factor.FuelType,
			"factor_year":      r.Factor.FactorYear,
			"co2e_factor":      r.Factor.CO2eFactor,
			"factor_unit":      r.Factor.FactorUnit,
			"scope":            string(r.Factor.Scope),
			"geographic_scope": r.Factor.GeographicScope,
			"source":           r.Factor.Source,
		}
		if r.Factor.ID != "" {
			factorIDs = append(factorIDs, r.Factor.ID)
		}
	}
	return domain.CalculationLog{
		ID:                   uuid.NewString(),
		OrganizationID:       r.OrganizationID,
		UserID:               r.UserID,
		CalculatedEmissionID: r.CalculatedEmissionID,
		ProvenanceID:         r.ProvenanceID,
		CalculationType:      r.CalculationType,
		InputData:            input,
		OutputValue:          r.OutputValue,
		OutputUnit:           r.OutputUnit,
		MethodologyVersion:   r.MethodologyVersion,
		FactorIDsUsed:        factorIDs,
	}
}
