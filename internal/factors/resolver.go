// Package factors selects the emission factor that applies to an activity.
package factors

import (
	"sort"
	"strings"
	"time"

	"example.com/emissions/internal/domain"
)

// Fallback describes how the selected factor year relates to the target year.
type Fallback string

const (
	// FallbackNone means a factor for the target year itself was found.
	FallbackNone Fallback = ""
	// FallbackEarlier means the newest year before the target year was used.
	FallbackEarlier Fallback = "earlier"
	// FallbackFuture means no year at or before the target existed and the
	// oldest available year, which is later than the target, was used.
	FallbackFuture Fallback = "future"
)

// Resolution is a selected factor plus how it was chosen.
type Resolution struct {
	Factor     domain.EmissionFactor
	TargetYear int
	Fallback   Fallback
}

// FutureYear reports whether a factor newer than the reporting period was applied.
func (r Resolution) FutureYear() bool { return r.Fallback == FallbackFuture }

// Resolver indexes a factor table by fuel type. It is safe for concurrent
// reads once constructed.
type Resolver struct {
	byFuel map[string][]domain.EmissionFactor
	total  int
}

// NewResolver builds a resolver over the given factor table.
func NewResolver(table []domain.EmissionFactor) *Resolver {
	byFuel := make(map[string][]domain.EmissionFactor)
	for _, f := range table {
		k := fuelKey(f.FuelType)
		byFuel[k] = append(byFuel[k], f)
	}
	for _, list := range byFuel {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].FactorYear != list[j].FactorYear {
				return list[i].FactorYear < list[j].FactorYear
			}
			return list[i].ID < list[j].ID
		})
	}
	return &Resolver{byFuel: byFuel, total: len(table)}
}

// Len returns the number of factors loaded.
func (r *Resolver) Len() int { return r.total }

// Resolve selects the factor for a fuel type and reporting period end.
func (r *Resolver) Resolve(fuelType string, periodEnd time.Time, geography string) (Resolution, bool) {
	return r.ResolveYear(fuelType, periodEnd.UTC().Year(), geography)
}

// ResolveYear picks max(factor_year) <= year, falling back to the oldest year
// available. Factors for the activity's geography are preferred, then global
// factors, then any geography. Equal years resolve to the lowest ID so the
// choice is stable across runs.
func (r *Resolver) ResolveYear(fuelType string, year int, geography string) (Resolution, bool) {
	candidates := r.candidates(fuelType, geography)
	if len(candidates) == 0 {
		return Resolution{}, false
	}

	best := -1
	for i, f := range candidates {
		if f.FactorYear > year {
			break
		}
		if best < 0 || f.FactorYear > candidates[best].FactorYear {
			best = i
		}
	}
	if best >= 0 {
		res := Resolution{Factor: candidates[best], TargetYear: year}
		if candidates[best].FactorYear < year {
			res.Fallback = FallbackEarlier
		}
		return res, true
	}
	return Resolution{Factor: candidates[0], TargetYear: year, Fallback: FallbackFuture}, true
}

func (r *Resolver) candidates(fuelType, geography string) []domain.EmissionFactor {
	all := r.byFuel[fuelKey(fuelType)]
	if len(all) == 0 {
		return nil
	}
	geo := strings.TrimSpace(geography)
	if geo != "" {
		if local := filter(all, func(f domain.EmissionFactor) bool {
			return strings.EqualFold(strings.TrimSpace(f.GeographicScope), geo)
		}); len(local) > 0 {
			return local
		}
	}
	if global := filter(all, func(f domain.EmissionFactor) bool { return isGlobal(f.GeographicScope) }); len(global) > 0 {
		return global
	}
	return all
}

func filter(in []domain.EmissionFactor, keep func(domain.EmissionFactor) bool) []domain.EmissionFactor {
	var out []domain.EmissionFactor
	for _, f := range in {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

func isGlobal(scope string) bool {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "", "global", "world":
		return true
	}
	return false
}

func fuelKey(fuelType string) string {
	return strings.ToLower(strings.TrimSpace(fuelType))
}
