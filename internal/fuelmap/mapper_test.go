package fuelmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/refdata"
)

func TestMapKnownLabel(t *testing.T) {
	m := New(refdata.Default().FuelTypes)

	got := m.Map("Electricity_Grid", domain.CategoryScope1)
	require.True(t, got.Mapped)
	require.Equal(t, "electricity_grid", got.FuelType)
	require.Equal(t, domain.Scope2, got.Scope, "table scope wins over category")

	got = m.Map("diesel_mobile", domain.CategoryScope1)
	require.Equal(t, "diesel", got.FuelType)
	require.Equal(t, domain.Scope1, got.Scope)
}

func TestMapFallsBackToRawLabel(t *testing.T) {
	m := New(map[string]refdata.FuelMapping{})

	got := m.Map(" biomass_chips ", domain.CategoryScope2)
	require.False(t, got.Mapped)
	require.Equal(t, "biomass_chips", got.FuelType)
	require.Equal(t, domain.Scope2, got.Scope)

	got = m.Map("", "")
	require.False(t, got.Mapped)
	require.Equal(t, domain.Scope1, got.Scope)
}

func TestScopeFromCategory(t *testing.T) {
	require.Equal(t, domain.Scope1, ScopeFromCategory("Scope 1"))
	require.Equal(t, domain.Scope2, ScopeFromCategory("scope 2"))
	require.Equal(t, domain.Scope3, ScopeFromCategory(domain.CategoryScope3BusinessTravel))
	require.Equal(t, domain.Scope1, ScopeFromCategory("unknown"))
}
