package outbox

const emissionCalculatedSchema = `{
  "type": "object",
  "title": "EmissionCalculated",
  "properties": {
    "calculated_emission_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "activity_data_id": {"type": "string"},
    "emissions_factor_id": {"type": "string"},
    "calculated_value_co2e": {"type": "number"},
    "scope": {"type": "string"},
    "calculation_method": {"type": "string"},
    "calculation_log_id": {"type": "string"},
    "log_sequence": {"type": "integer"},
    "log_hash": {"type": "string"},
    "calculated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["calculated_emission_id", "tenant_id", "activity_data_id", "calculated_value_co2e", "scope", "calculation_method", "calculation_log_id", "log_sequence", "log_hash", "calculated_at"],
  "additionalProperties": false
}`

const spendEmissionCalculatedSchema = `{
  "type": "object",
  "title": "SpendEmissionCalculated",
  "properties": {
    "calculation_log_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "provenance_id": {"type": "string"},
    "travel_type": {"type": "string"},
    "emissions_tco2e": {"type": "number"},
    "normalised_spend": {"type": "number"},
    "currency": {"type": "string"},
    "log_sequence": {"type": "integer"},
    "log_hash": {"type": "string"},
    "calculated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["calculation_log_id", "tenant_id", "provenance_id", "travel_type", "emissions_tco2e", "normalised_spend", "currency", "log_sequence", "log_hash", "calculated_at"],
  "additionalProperties": false
}`

const facilityAggregateUpdatedSchema = `{
  "type": "object",
  "title": "FacilityAggregateUpdated",
  "properties": {
    "tenant_id": {"type": "string"},
    "facility_id": {"type": "string"},
    "period_start": {"type": "string", "format": "date"},
    "period_end": {"type": "string", "format": "date"},
    "total_co2e": {"type": "number"},
    "activity_count": {"type": "integer"},
    "calculation_method": {"type": "string"},
    "calculated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "facility_id", "period_start", "period_end", "total_co2e", "activity_count", "calculation_method", "calculated_at"],
  "additionalProperties": false
}`
