package calculation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/emissions/internal/audit"
	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/engine"
	"example.com/emissions/internal/factors"
	"example.com/emissions/internal/observability"
	"example.com/emissions/internal/provenance"
	"example.com/emissions/internal/refdata"
)

// OutputUnitTCO2e is the unit of spend-based results.
const OutputUnitTCO2e = "tCO2e"

// SpendRequest is a validated travel-spend calculation request.
type SpendRequest struct {
	OrganizationID string
	UserID         string
	ProvenanceID   string
	TravelType     string
	Spend          float64
	Currency       string
}

// SpendMetadata explains how a spend result was produced.
type SpendMetadata struct {
	TravelType         string  `json:"travel_type"`
	FactorValue        float64 `json:"factor_value"`
	FactorUnit         string  `json:"factor_unit"`
	FactorSource       string  `json:"factor_source"`
	FactorYear         int     `json:"factor_year"`
	SpendOriginal      float64 `json:"spend_original"`
	CurrencyOriginal   string  `json:"currency_original"`
	SpendNormalisedUSD float64 `json:"spend_normalised_usd"`
	ExchangeRateUsed   float64 `json:"exchange_rate_used"`
	Methodology        string  `json:"methodology"`
	CalculationType    string  `json:"calculation_type"`
}

// SpendResult is the outcome of a travel-spend calculation.
type SpendResult struct {
	EmissionsTCO2e   float64       `json:"emissions_tco2e"`
	CalculationLogID string        `json:"calculation_log_id"`
	Metadata         SpendMetadata `json:"metadata"`
}

// TravelSpend calculates Scope 3 business travel emissions from spend.
type TravelSpend struct {
	repo       domain.CalculationRepository
	provenance *provenance.Validator
	calculator *engine.SpendCalculator
	tables     refdata.Tables
	logger     zerolog.Logger
	now        func() time.Time
}

// TravelOption configures TravelSpend.
type TravelOption func(*TravelSpend)

// WithTravelLogger overrides the logger.
func WithTravelLogger(logger zerolog.Logger) TravelOption {
	return func(t *TravelSpend) { t.logger = logger }
}

// WithTravelClock overrides the time source. The current year selects the factor.
func WithTravelClock(now func() time.Time) TravelOption {
	return func(t *TravelSpend) { t.now = now }
}

// NewTravelSpend constructs the travel-spend flow.
func NewTravelSpend(repo domain.CalculationRepository, validator *provenance.Validator, tables refdata.Tables, opts ...TravelOption) *TravelSpend {
	t := &TravelSpend{
		repo:       repo,
		provenance: validator,
		calculator: engine.NewSpendCalculator(tables, tables.ReferenceCurrency),
		tables:     tables,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Calculate validates, computes and logs one spend-based calculation. Every
// validation and lookup happens before the single ledger write.
func (t *TravelSpend) Calculate(ctx context.Context, req SpendRequest) (SpendResult, error) {
	if err := t.validate(req); err != nil {
		return SpendResult{}, err
	}
	record, err := t.provenance.Validate(ctx, req.ProvenanceID, req.OrganizationID)
	if err != nil {
		return SpendResult{}, err
	}

	table, err := t.repo.ListEmissionFactors(ctx)
	if err != nil {
		return SpendResult{}, fmt.Errorf("list emission factors: %w", err)
	}
	now := t.now().UTC()
	travelType := strings.TrimSpace(req.TravelType)
	res, ok := factors.NewResolver(table).ResolveYear(travelType, now.Year(), "")
	if !ok {
		return SpendResult{}, fmt.Errorf("no emission factor for travel_type %q: %w", travelType, domain.ErrNotFound)
	}

	computed, err := t.calculator.Calculate(engine.SpendInput{Spend: req.Spend, Currency: req.Currency}, res.Factor)
	if err != nil {
		return SpendResult{}, err
	}

	factor := res.Factor
	entry := audit.NewEntry(audit.Record{
		OrganizationID:  req.OrganizationID,
		UserID:          req.UserID,
		ProvenanceID:    record.ID,
		CalculationType: domain.CalculationTypeScope3TravelSpend,
		Input: map[string]any{
			domain.SpendInputTravelType:     travelType,
			"spend":                         req.Spend,
			domain.SpendInputCurrency:       computed.CurrencyOriginal,
			"exchange_rate_used":            computed.ExchangeRate,
			"reference_currency":            computed.ReferenceCurrency,
			domain.SpendInputNormalised:     computed.NormalisedSpend,
			domain.SpendInputProvenanceType: record.SourceType,
			"target_year":                   res.TargetYear,
		},
		Factor:             &factor,
		OutputValue:        computed.EmissionsTCO2e,
		OutputUnit:         OutputUnitTCO2e,
		MethodologyVersion: t.tables.SpendMethodologyVersion,
	})
	entry.CreatedAt = now

	sealed, err := t.repo.AppendLog(ctx, entry)
	if err != nil {
		t.logger.Error().Err(err).Str("organization_id", req.OrganizationID).Msg("spend calculation log write failed")
		return SpendResult{}, &domain.PersistenceError{Stage: stageOf(err), Err: err}
	}
	observability.RecordCalculation(string(domain.Scope3), domain.MethodSpendBased, now)

	return SpendResult{
		EmissionsTCO2e:   computed.EmissionsTCO2e,
		CalculationLogID: sealed.ID,
		Metadata: SpendMetadata{
			TravelType:         travelType,
			FactorValue:        factor.CO2eFactor,
			FactorUnit:         factor.FactorUnit,
			FactorSource:       factor.Source,
			FactorYear:         factor.FactorYear,
			SpendOriginal:      computed.SpendOriginal,
			CurrencyOriginal:   computed.CurrencyOriginal,
			SpendNormalisedUSD: computed.NormalisedSpend,
			ExchangeRateUsed:   computed.ExchangeRate,
			Methodology:        t.tables.SpendMethodologyVersion,
			CalculationType:    domain.CalculationTypeScope3TravelSpend,
		},
	}, nil
}

func (t *TravelSpend) validate(req SpendRequest) error {
	var errs []error
	if strings.TrimSpace(req.TravelType) == "" {
		errs = append(errs, &domain.ValidationError{Field: "activity_data.travel_type", Message: "is required"})
	}
	if req.Spend <= 0 {
		errs = append(errs, &domain.ValidationError{Field: "activity_data.spend", Message: "must be a positive number"})
	}
	if _, ok := t.tables.ExchangeRate(req.Currency); !ok {
		errs = append(errs, &domain.ValidationError{
			Field:   "activity_data.currency",
			Message: fmt.Sprintf("unsupported currency %q", req.Currency),
			Allowed: t.tables.SupportedCurrencies(),
		})
	}
	return errors.Join(errs...)
}
