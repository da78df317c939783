package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		quantity   float64
		unit       string
		wantQty    float64
		wantUnit   string
		recognized bool
	}{
		{name: "grams to kilograms", quantity: 2500, unit: "g", wantQty: 2.5, wantUnit: Kilogram, recognized: true},
		{name: "grams spelled out", quantity: 1000, unit: "Grams", wantQty: 1, wantUnit: Kilogram, recognized: true},
		{name: "millilitres to litres", quantity: 750, unit: "ml", wantQty: 0.75, wantUnit: Litre, recognized: true},
		{name: "litres pass through", quantity: 40, unit: "litres", wantQty: 40, wantUnit: Litre, recognized: true},
		{name: "ltr alias", quantity: 12, unit: "ltr", wantQty: 12, wantUnit: Litre, recognized: true},
		{name: "kwh lower case", quantity: 1000, unit: "kwh", wantQty: 1000, wantUnit: KilowattHour, recognized: true},
		{name: "megawatt hours", quantity: 2, unit: "MWh", wantQty: 2000, wantUnit: KilowattHour, recognized: true},
		{name: "kilograms", quantity: 3, unit: " kilograms ", wantQty: 3, wantUnit: Kilogram, recognized: true},
		{name: "unknown unit passes through", quantity: 9, unit: "gallonz", wantQty: 9, wantUnit: "gallonz", recognized: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.quantity, tt.unit)
			assert.InDelta(t, tt.wantQty, got.Quantity, 1e-9)
			assert.Equal(t, tt.wantUnit, got.Unit)
			assert.Equal(t, tt.recognized, got.Recognized)
			assert.Equal(t, tt.unit, got.OriginalUnit)
		})
	}
}

func TestNormalizeThousandthConversions(t *testing.T) {
	for _, q := range []float64{0, 1, 12.5, 999, 1e6} {
		g := Normalize(q, "g")
		require.InDelta(t, q/1000, g.Quantity, 1e-9)
		require.Equal(t, Kilogram, g.Unit)

		ml := Normalize(q, "ml")
		require.InDelta(t, q/1000, ml.Quantity, 1e-9)
		require.Equal(t, Litre, ml.Unit)
	}
}

func TestNormalizeCountUnitsUnchanged(t *testing.T) {
	for _, unit := range []string{"unit", "units", "piece", "pieces", "bottle", "bottles", "item", "items"} {
		got := Normalize(42, unit)
		require.Equal(t, 42.0, got.Quantity, unit)
		require.Equal(t, unit, got.Unit, unit)
		require.False(t, got.Converted(), unit)
		require.True(t, got.Recognized, unit)
	}
}

func TestScalePerUnitKeepsProductInvariant(t *testing.T) {
	perGram := 0.002
	got := Normalize(5000, "g")

	require.True(t, got.Converted())
	require.InDelta(t, 2.0, got.ScalePerUnit(perGram), 1e-12)
	require.InDelta(t, 5000*perGram, got.Quantity*got.ScalePerUnit(perGram), 1e-9)

	same := Normalize(10, "kg")
	require.Equal(t, perGram, same.ScalePerUnit(perGram))
}

func TestSameUnit(t *testing.T) {
	assert.True(t, SameUnit("kWh", "kWh"))
	assert.True(t, SameUnit("kWh", "kgCO2e/kWh"))
	assert.True(t, SameUnit("L", "litres"))
	assert.True(t, SameUnit("items", "units"))
	assert.False(t, SameUnit("L", "kWh"))
	assert.False(t, SameUnit("gallonz", "L"))
}
