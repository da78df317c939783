// Package fuelmap resolves activity labels to emission factor keys.
package fuelmap

import (
	"strings"

	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/refdata"
)

// Mapping is the mapper's answer for one label. Mapped is false when the label
// had no table entry and the raw label was used as the factor key.
type Mapping struct {
	FuelType string
	Scope    domain.Scope
	Mapped   bool
}

// Mapper is a static lookup over the reference fuel type table.
type Mapper struct {
	table map[string]refdata.FuelMapping
}

// New constructs a Mapper. Keys are matched case-insensitively.
func New(table map[string]refdata.FuelMapping) *Mapper {
	normalized := make(map[string]refdata.FuelMapping, len(table))
	for label, mapping := range table {
		normalized[normalizeLabel(label)] = mapping
	}
	return &Mapper{table: normalized}
}

// Map always returns a result: unmapped labels fall back to the raw label as
// the fuel type with the scope inferred from the activity category.
func (m *Mapper) Map(label, category string) Mapping {
	if mapping, ok := m.table[normalizeLabel(label)]; ok {
		return Mapping{FuelType: mapping.FuelType, Scope: domain.Scope(mapping.Scope), Mapped: true}
	}
	return Mapping{FuelType: strings.TrimSpace(label), Scope: ScopeFromCategory(category)}
}

// ScopeFromCategory infers the scope from an activity category label.
func ScopeFromCategory(category string) domain.Scope {
	c := strings.ToLower(strings.TrimSpace(category))
	switch {
	case strings.HasPrefix(c, "scope 2"), c == "2":
		return domain.Scope2
	case strings.HasPrefix(c, "scope 3"), c == "3":
		return domain.Scope3
	default:
		return domain.Scope1
	}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
