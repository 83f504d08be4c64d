// Package panel assembles the balanced municipality-by-period panel from the
// aligned source observations.
package panel

import (
	"fmt"
	"sort"

	"github.com/epibel/covid-panel-etl/internal/align"
	"github.com/epibel/covid-panel-etl/internal/domain"
)

// Inputs carries everything Merge joins: the municipality universe and the
// aligned observations per source variable.
type Inputs struct {
	Municipalities []domain.Municipality
	Cases          []domain.Observation
	Vaccinations   []domain.Observation
	Stringency     []domain.Observation
}

// Result is a finished panel build plus its coverage warnings. Warnings are
// advisory: rows for undercovered municipalities are kept with nulls.
type Result struct {
	Rows     []domain.PanelRow
	Warnings []domain.Warning
}

// Merge produces a balanced outer join: one row per municipality per period,
// for every municipality in the universe and every requested period, sorted
// by (nis, period). Gap handling differs per variable. Case counts stay null
// where unobserved. Cumulative vaccinations and the stringency index
// forward-fill from the last observed value, seeded from observations ahead
// of the requested range and null before the first observation anywhere;
// vaccination fills additionally clamp to non-decreasing so a
// stale carry-forward never exceeds a later report. Population is a constant
// broadcast across periods, and the vaccination percentage is derived as
// cumulative doses over population times 100.
func Merge(in Inputs, periods []domain.Period) (*Result, error) {
	if len(in.Municipalities) == 0 {
		return nil, fmt.Errorf("merge: empty municipality universe")
	}
	if len(periods) == 0 {
		return nil, fmt.Errorf("merge: empty period range")
	}

	munis := make([]domain.Municipality, len(in.Municipalities))
	copy(munis, in.Municipalities)
	sort.Slice(munis, func(i, j int) bool { return munis[i].NISCode < munis[j].NISCode })

	cases := align.Index(in.Cases)
	vaccinations := align.Index(in.Vaccinations)
	stringency := align.Index(in.Stringency)

	res := &Result{Rows: make([]domain.PanelRow, 0, len(munis)*len(periods))}
	for _, m := range munis {
		res.Warnings = append(res.Warnings, coverageWarnings(m.NISCode, cases, vaccinations, stringency)...)

		var population *int64
		if m.Population > 0 {
			population = domain.Int(m.Population)
		} else {
			res.Warnings = append(res.Warnings, domain.Warning{
				Kind:    domain.WarnIncompleteMunicipalityCoverage,
				NISCode: m.NISCode,
				Source:  "population",
				Detail:  "no population figure, vaccination percentage unavailable",
			})
		}

		lastVacc := seed(vaccinations, m.NISCode, periods[0])
		lastStringency := seed(stringency, m.NISCode, periods[0])
		for _, p := range periods {
			row := domain.PanelRow{
				NISCode:    m.NISCode,
				Name:       m.Name,
				Period:     p,
				Cases:      lookup(cases, m.NISCode, p),
				Population: population,
			}

			if v := lookup(vaccinations, m.NISCode, p); v != nil {
				if lastVacc != nil && *v < *lastVacc {
					v = lastVacc
				}
				lastVacc = v
			}
			row.Vaccinations = lastVacc

			if v := lookup(stringency, m.NISCode, p); v != nil {
				lastStringency = v
			}
			row.StringencyIndex = lastStringency

			if row.Vaccinations != nil && population != nil {
				row.VaccinationPct = domain.Float(*row.Vaccinations / float64(*population) * 100)
			}
			res.Rows = append(res.Rows, row)
		}
	}
	return res, nil
}

func lookup(idx map[string]map[domain.Period]*float64, nis string, p domain.Period) *float64 {
	return idx[nis][p]
}

// seed returns the latest value observed strictly before first, so a stock
// already known when the configured range opens carries into its first rows.
func seed(idx map[string]map[domain.Period]*float64, nis string, first domain.Period) *float64 {
	var (
		best *float64
		at   domain.Period
	)
	for p, v := range idx[nis] {
		if v == nil || !p.Before(first) {
			continue
		}
		if best == nil || at.Before(p) {
			best, at = v, p
		}
	}
	return best
}

// coverageWarnings flags sources that never reported for a municipality.
func coverageWarnings(nis string, cases, vaccinations, stringency map[string]map[domain.Period]*float64) []domain.Warning {
	var warnings []domain.Warning
	for _, src := range []struct {
		name string
		idx  map[string]map[domain.Period]*float64
	}{
		{"cases", cases},
		{"vaccinations", vaccinations},
		{"stringency_index", stringency},
	} {
		if observed(src.idx[nis]) {
			continue
		}
		warnings = append(warnings, domain.Warning{
			Kind:    domain.WarnIncompleteMunicipalityCoverage,
			NISCode: nis,
			Source:  src.name,
			Detail:  "municipality absent from source, rows kept with nulls",
		})
	}
	return warnings
}

func observed(periods map[domain.Period]*float64) bool {
	for _, v := range periods {
		if v != nil {
			return true
		}
	}
	return false
}
