package factors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/emissions/internal/domain"
)

func yearTable() []domain.EmissionFactor {
	return []domain.EmissionFactor{
		{ID: "f-2024", FuelType: "diesel", FactorYear: 2024, CO2eFactor: 2.51, FactorUnit: "L"},
		{ID: "f-2022", FuelType: "diesel", FactorYear: 2022, CO2eFactor: 2.55, FactorUnit: "L"},
		{ID: "f-2023", FuelType: "diesel", FactorYear: 2023, CO2eFactor: 2.53, FactorUnit: "L"},
	}
}

func periodEnd(year int) time.Time {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

func TestResolveNewestYearNotAfterTarget(t *testing.T) {
	r := NewResolver(yearTable())

	res, ok := r.Resolve("diesel", periodEnd(2025), "")
	require.True(t, ok)
	require.Equal(t, "f-2024", res.Factor.ID)
	require.Equal(t, FallbackEarlier, res.Fallback)
	require.Equal(t, 2025, res.TargetYear)

	res, ok = r.Resolve("diesel", periodEnd(2023), "")
	require.True(t, ok)
	require.Equal(t, "f-2023", res.Factor.ID)
	require.Equal(t, FallbackNone, res.Fallback)
	require.False(t, res.FutureYear())
}

func TestResolveFallsBackToOldestYear(t *testing.T) {
	r := NewResolver(yearTable())

	res, ok := r.Resolve("diesel", periodEnd(2021), "")
	require.True(t, ok)
	require.Equal(t, "f-2022", res.Factor.ID)
	require.True(t, res.FutureYear())
}

func TestResolveUnknownFuel(t *testing.T) {
	r := NewResolver(yearTable())
	_, ok := r.Resolve("hydrogen", periodEnd(2024), "")
	require.False(t, ok)
	require.Equal(t, 3, r.Len())
}

func TestResolvePrefersGeography(t *testing.T) {
	r := NewResolver([]domain.EmissionFactor{
		{ID: "grid-global", FuelType: "electricity_grid", FactorYear: 2024, GeographicScope: "global"},
		{ID: "grid-uk", FuelType: "electricity_grid", FactorYear: 2023, GeographicScope: "UK"},
		{ID: "grid-fr", FuelType: "electricity_grid", FactorYear: 2024, GeographicScope: "FR"},
	})

	res, ok := r.ResolveYear("Electricity_Grid", 2024, "uk")
	require.True(t, ok)
	require.Equal(t, "grid-uk", res.Factor.ID)

	res, ok = r.ResolveYear("electricity_grid", 2024, "DE")
	require.True(t, ok)
	require.Equal(t, "grid-global", res.Factor.ID)

	res, ok = r.ResolveYear("electricity_grid", 2024, "")
	require.True(t, ok)
	require.Equal(t, "grid-global", res.Factor.ID)
}

func TestResolveTieBreaksOnID(t *testing.T) {
	r := NewResolver([]domain.EmissionFactor{
		{ID: "b", FuelType: "lpg", FactorYear: 2024},
		{ID: "a", FuelType: "lpg", FactorYear: 2024},
	})
	for i := 0; i < 5; i++ {
		res, ok := r.ResolveYear("lpg", 2024, "")
		require.True(t, ok)
		require.Equal(t, "a", res.Factor.ID)
	}
}
