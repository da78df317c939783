// Package engine holds the pure arithmetic of the calculation pipeline. Nothing
// here touches storage; callers persist the returned values.
package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/units"
)

// SpendPrecision is the number of decimal places kept for spend-based results.
const SpendPrecision = 6

var gramsPerTonne = decimal.NewFromInt(1_000_000)

// FactorEmission returns normalized quantity times factor value. The result is
// not rounded because aggregates re-sum raw values.
func FactorEmission(norm units.Result, factor domain.EmissionFactor) float64 {
	return norm.Quantity * factor.CO2eFactor
}

// SuppliedEmission applies a supplier-specific intensity expressed per unit of
// the activity's original unit. The intensity is rescaled by the same ratio
// the quantity was converted with.
func SuppliedEmission(norm units.Result, perOriginalUnit float64) float64 {
	return norm.Quantity * norm.ScalePerUnit(perOriginalUnit)
}

// RateTable resolves exchange rates into the reference currency.
type RateTable interface {
	ExchangeRate(currency string) (float64, bool)
	SupportedCurrencies() []string
}

// SpendInput is a validated spend-based activity.
type SpendInput struct {
	Spend    float64
	Currency string
}

// SpendResult carries the values reported back to the caller.
type SpendResult struct {
	SpendOriginal     float64
	CurrencyOriginal  string
	ExchangeRate      float64
	NormalisedSpend   float64
	EmissionsTCO2e    float64
	ReferenceCurrency string
}

// SpendCalculator converts spend into the reference currency and applies a
// per-currency-unit factor.
type SpendCalculator struct {
	rates             RateTable
	referenceCurrency string
}

// NewSpendCalculator constructs a calculator over a fixed rate table.
func NewSpendCalculator(rates RateTable, referenceCurrency string) *SpendCalculator {
	return &SpendCalculator{rates: rates, referenceCurrency: strings.ToUpper(referenceCurrency)}
}

// Calculate returns emissions in tonnes CO2e rounded to SpendPrecision places.
// The factor value is grams CO2e per unit of reference currency.
func (c *SpendCalculator) Calculate(in SpendInput, factor domain.EmissionFactor) (SpendResult, error) {
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	rate, ok := c.rates.ExchangeRate(currency)
	if !ok {
		return SpendResult{}, &domain.ValidationError{
			Field:   "activity_data.currency",
			Message: fmt.Sprintf("unsupported currency %q", in.Currency),
			Allowed: c.rates.SupportedCurrencies(),
		}
	}
	if in.Spend <= 0 {
		return SpendResult{}, &domain.ValidationError{Field: "activity_data.spend", Message: "must be a positive number"}
	}

	rateDec := decimal.NewFromFloat(rate)
	normalised := decimal.NewFromFloat(in.Spend).Mul(rateDec)
	emissions := normalised.Mul(decimal.NewFromFloat(factor.CO2eFactor)).
		Div(gramsPerTonne).
		Round(SpendPrecision)

	return SpendResult{
		SpendOriginal:     in.Spend,
		CurrencyOriginal:  currency,
		ExchangeRate:      rate,
		NormalisedSpend:   normalised.InexactFloat64(),
		EmissionsTCO2e:    emissions.InexactFloat64(),
		ReferenceCurrency: c.referenceCurrency,
	}, nil
}
