// Package refdata holds the versioned lookup tables the calculation pipeline
// depends on: activity label mapping, exchange rates and methodology tags.
package refdata

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FuelMapping maps a user-facing activity label to a factor table key.
type FuelMapping struct {
	FuelType string `yaml:"fuel_type"`
	Scope    string `yaml:"scope"`
}

// Tables is the full reference data document.
type Tables struct {
	Version                 string                 `yaml:"version"`
	MethodologyVersion      string                 `yaml:"methodology_version"`
	SpendMethodologyVersion string                 `yaml:"spend_methodology_version"`
	ReferenceCurrency       string                 `yaml:"reference_currency"`
	FuelTypes               map[string]FuelMapping `yaml:"fuel_types"`
	// ExchangeRates are expressed as reference currency per one unit of the keyed currency.
	ExchangeRates map[string]float64 `yaml:"exchange_rates"`
}

// Default returns the compiled-in tables used when no file is configured.
func Default() Tables {
	return Tables{
		Version:                 "2024.1",
		MethodologyVersion:      "ghg-protocol-corporate-v1.0",
		SpendMethodologyVersion: "eeio-spend-based-v1.0",
		ReferenceCurrency:       "USD",
		FuelTypes: map[string]FuelMapping{
			"electricity":        {FuelType: "electricity_grid", Scope: "2"},
			"electricity_grid":   {FuelType: "electricity_grid", Scope: "2"},
			"grid_electricity":   {FuelType: "electricity_grid", Scope: "2"},
			"district_heating":   {FuelType: "district_heat_steam", Scope: "2"},
			"natural_gas":        {FuelType: "natural_gas_kwh", Scope: "1"},
			"natural_gas_kwh":    {FuelType: "natural_gas_kwh", Scope: "1"},
			"diesel":             {FuelType: "diesel", Scope: "1"},
			"diesel_mobile":      {FuelType: "diesel", Scope: "1"},
			"diesel_stationary":  {FuelType: "diesel", Scope: "1"},
			"petrol":             {FuelType: "petrol", Scope: "1"},
			"petrol_mobile":      {FuelType: "petrol", Scope: "1"},
			"lpg":                {FuelType: "lpg", Scope: "1"},
			"heating_oil":        {FuelType: "burning_oil", Scope: "1"},
			"refrigerant_r410a":  {FuelType: "refrigerant_r410a", Scope: "1"},
			"company_vehicle_ev": {FuelType: "electricity_grid", Scope: "2"},
		},
		ExchangeRates: map[string]float64{
			"USD": 1.0,
			"GBP": 1.27,
			"EUR": 1.08,
			"CAD": 0.74,
			"AUD": 0.66,
			"CHF": 1.13,
			"JPY": 0.0067,
		},
	}
}

// Load reads tables from a YAML file. An empty path yields Default().
func Load(path string) (Tables, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("read reference data: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document and validates it.
func Parse(data []byte) (Tables, error) {
	var tables Tables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return Tables{}, fmt.Errorf("decode reference data: %w", err)
	}
	tables.normalize()
	if err := tables.Validate(); err != nil {
		return Tables{}, err
	}
	return tables, nil
}

func (t *Tables) normalize() {
	t.ReferenceCurrency = strings.ToUpper(strings.TrimSpace(t.ReferenceCurrency))
	rates := make(map[string]float64, len(t.ExchangeRates))
	for code, rate := range t.ExchangeRates {
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	t.ExchangeRates = rates
	labels := make(map[string]FuelMapping, len(t.FuelTypes))
	for label, mapping := range t.FuelTypes {
		labels[strings.ToLower(strings.TrimSpace(label))] = mapping
	}
	t.FuelTypes = labels
}

// Validate checks internal consistency of the tables.
func (t Tables) Validate() error {
	var errs []error
	if t.MethodologyVersion == "" {
		errs = append(errs, errors.New("methodology_version is required"))
	}
	if t.ReferenceCurrency == "" {
		errs = append(errs, errors.New("reference_currency is required"))
	} else if rate, ok := t.ExchangeRates[t.ReferenceCurrency]; !ok || rate != 1 {
		errs = append(errs, fmt.Errorf("exchange_rates must map reference currency %s to 1", t.ReferenceCurrency))
	}
	for code, rate := range t.ExchangeRates {
		if rate <= 0 {
			errs = append(errs, fmt.Errorf("exchange rate for %s must be positive", code))
		}
	}
	for label, mapping := range t.FuelTypes {
		if strings.TrimSpace(mapping.FuelType) == "" {
			errs = append(errs, fmt.Errorf("fuel_types[%s]: fuel_type is required", label))
		}
		if mapping.Scope != "1" && mapping.Scope != "2" {
			errs = append(errs, fmt.Errorf("fuel_types[%s]: scope must be 1 or 2", label))
		}
	}
	return errors.Join(errs...)
}

// SupportedCurrencies returns the sorted currency codes with a known rate.
func (t Tables) SupportedCurrencies() []string {
	out := make([]string, 0, len(t.ExchangeRates))
	for code := range t.ExchangeRates {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// ExchangeRate returns the rate to the reference currency.
func (t Tables) ExchangeRate(currency string) (float64, bool) {
	rate, ok := t.ExchangeRates[strings.ToUpper(strings.TrimSpace(currency))]
	return rate, ok
}
