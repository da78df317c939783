// Package units canonicalizes activity unit strings into the units emission
// factor tables are published in.
package units

import (
	"strings"
)

// Canonical unit names.
const (
	Litre        = "L"
	KilowattHour = "kWh"
	Kilogram     = "kg"
	Tonne        = "tonnes"
	CubicMetre   = "m3"
	Kilometre    = "km"
	Count        = "unit"
)

// Conversion ratios applied to quantities (normalized = quantity * ratio).
const (
	GramsToKg           = 0.001
	MillilitresToLitres = 0.001
	MWhToKWh            = 1000.0
	Identity            = 1.0
)

type conversion struct {
	canonical string
	ratio     float64
}

var aliases = map[string]conversion{
	"l":      {Litre, Identity},
	"litre":  {Litre, Identity},
	"litres": {Litre, Identity},
	"liter":  {Litre, Identity},
	"liters": {Litre, Identity},
	"ltr":    {Litre, Identity},
	"ltrs":   {Litre, Identity},

	"ml":          {Litre, MillilitresToLitres},
	"millilitre":  {Litre, MillilitresToLitres},
	"millilitres": {Litre, MillilitresToLitres},
	"milliliter":  {Litre, MillilitresToLitres},
	"milliliters": {Litre, MillilitresToLitres},

	"kwh":            {KilowattHour, Identity},
	"kw h":           {KilowattHour, Identity},
	"kw-h":           {KilowattHour, Identity},
	"kilowatt hour":  {KilowattHour, Identity},
	"kilowatt hours": {KilowattHour, Identity},
	"kilowatt-hour":  {KilowattHour, Identity},
	"kilowatt-hours": {KilowattHour, Identity},

	"mwh":            {KilowattHour, MWhToKWh},
	"megawatt hour":  {KilowattHour, MWhToKWh},
	"megawatt hours": {KilowattHour, MWhToKWh},
	"megawatt-hour":  {KilowattHour, MWhToKWh},
	"megawatt-hours": {KilowattHour, MWhToKWh},

	"kg":        {Kilogram, Identity},
	"kgs":       {Kilogram, Identity},
	"kilo":      {Kilogram, Identity},
	"kilos":     {Kilogram, Identity},
	"kilogram":  {Kilogram, Identity},
	"kilograms": {Kilogram, Identity},
	"g":         {Kilogram, GramsToKg},
	"gram":      {Kilogram, GramsToKg},
	"grams":     {Kilogram, GramsToKg},

	"t":           {Tonne, Identity},
	"tonne":       {Tonne, Identity},
	"tonnes":      {Tonne, Identity},
	"metric ton":  {Tonne, Identity},
	"metric tons": {Tonne, Identity},

	"m3":           {CubicMetre, Identity},
	"m³":           {CubicMetre, Identity},
	"cubic metre":  {CubicMetre, Identity},
	"cubic metres": {CubicMetre, Identity},
	"cubic meter":  {CubicMetre, Identity},
	"cubic meters": {CubicMetre, Identity},

	"km":         {Kilometre, Identity},
	"kilometre":  {Kilometre, Identity},
	"kilometres": {Kilometre, Identity},
	"kilometer":  {Kilometre, Identity},
	"kilometers": {Kilometre, Identity},
}

// countUnits pass through unchanged.
var countUnits = map[string]struct{}{
	"unit":    {},
	"units":   {},
	"piece":   {},
	"pieces":  {},
	"bottle":  {},
	"bottles": {},
	"item":    {},
	"items":   {},
}

// Result is a normalized quantity. Recognized is false when the unit was not
// understood; the quantity and unit are then passed through untouched and the
// caller is expected to surface the warning.
type Result struct {
	Quantity     float64
	Unit         string
	Ratio        float64
	Recognized   bool
	OriginalUnit string
}

// Converted reports whether a proportional conversion was applied.
func (r Result) Converted() bool {
	return r.Ratio != Identity
}

// ScalePerUnit rescales a per-unit value expressed against the original unit
// so it applies to the normalized quantity. A per-gram intensity becomes a
// per-kilogram intensity, keeping quantity * intensity invariant.
func (r Result) ScalePerUnit(perUnit float64) float64 {
	if r.Ratio == 0 || r.Ratio == Identity {
		return perUnit
	}
	return perUnit / r.Ratio
}

func key(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}

// Normalize converts quantity and unit into canonical units.
func Normalize(quantity float64, unit string) Result {
	k := key(unit)
	if _, ok := countUnits[k]; ok {
		return Result{Quantity: quantity, Unit: unit, Ratio: Identity, Recognized: true, OriginalUnit: unit}
	}
	if conv, ok := aliases[k]; ok {
		return Result{
			Quantity:     quantity * conv.ratio,
			Unit:         conv.canonical,
			Ratio:        conv.ratio,
			Recognized:   true,
			OriginalUnit: unit,
		}
	}
	return Result{Quantity: quantity, Unit: unit, Ratio: Identity, Recognized: false, OriginalUnit: unit}
}

// Canonical returns the canonical name for a unit without converting magnitude.
// Count units collapse to Count so "items" and "pieces" compare equal.
func Canonical(unit string) (string, bool) {
	k := key(unit)
	if _, ok := countUnits[k]; ok {
		return Count, true
	}
	if conv, ok := aliases[k]; ok && conv.ratio == Identity {
		return conv.canonical, true
	}
	return strings.TrimSpace(unit), false
}

// FactorDenominator extracts the activity unit from a factor unit such as
// "kgCO2e/kWh". Units without a slash are returned as is.
func FactorDenominator(factorUnit string) string {
	if idx := strings.LastIndex(factorUnit, "/"); idx >= 0 {
		return strings.TrimSpace(factorUnit[idx+1:])
	}
	return strings.TrimSpace(factorUnit)
}

// SameUnit reports whether a normalized activity unit matches a factor's unit.
func SameUnit(activityUnit, factorUnit string) bool {
	a, _ := Canonical(activityUnit)
	f, _ := Canonical(FactorDenominator(factorUnit))
	return strings.EqualFold(a, f)
}
