package events

import (
	"time"

	"example.com/emissions/internal/domain"
)

// SpendEmissionFromLog builds the spend event from a sealed spend log entry.
func SpendEmissionFromLog(entry domain.CalculationLog) SpendEmissionCalculated {
	travelType, _ := entry.InputData[domain.SpendInputTravelType].(string)
	currency, _ := entry.InputData[domain.SpendInputCurrency].(string)
	normalised, _ := entry.InputData[domain.SpendInputNormalised].(float64)
	return SpendEmissionCalculated{
		CalculationLogID: entry.ID,
		TenantID:         entry.OrganizationID,
		ProvenanceID:     entry.ProvenanceID,
		TravelType:       travelType,
		EmissionsTCO2e:   entry.OutputValue,
		NormalisedSpend:  normalised,
		Currency:         currency,
		LogSequence:      entry.Sequence,
		LogHash:          entry.Hash,
		CalculatedAt:     entry.CreatedAt,
	}
}

// FacilityAggregateFrom builds the aggregate event.
func FacilityAggregateFrom(agg domain.FacilityEmissionsAggregate) FacilityAggregateUpdated {
	return FacilityAggregateUpdated{
		TenantID:          agg.OrganizationID,
		FacilityID:        agg.FacilityID,
		PeriodStart:       agg.PeriodStart.Format(time.DateOnly),
		PeriodEnd:         agg.PeriodEnd.Format(time.DateOnly),
		TotalCO2e:         agg.TotalCO2e,
		ActivityCount:     agg.ActivityCount,
		CalculationMethod: agg.CalculationMethod,
		CalculatedAt:      agg.CalculatedAt,
	}
}

// EmissionCalculatedFrom builds the emission event from the stored pair.
func EmissionCalculatedFrom(emission domain.CalculatedEmission, entry domain.CalculationLog) EmissionCalculated {
	return EmissionCalculated{
		CalculatedEmissionID: emission.ID,
		TenantID:             emission.OrganizationID,
		ActivityDataID:       emission.ActivityDataID,
		EmissionsFactorID:    emission.EmissionsFactorID,
		CalculatedValueCO2e:  emission.CalculatedValueCO2e,
		Scope:                string(emission.Scope),
		CalculationMethod:    emission.CalculationMethod,
		CalculationLogID:     entry.ID,
		LogSequence:          entry.Sequence,
		LogHash:              entry.Hash,
		CalculatedAt:         emission.CreatedAt,
	}
}
