package domain

import (
	"time"

	"github.com/twpayne/go-geom"
)

// Variable identifies one of the panel's source-backed columns.
type Variable string

const (
	VarCases        Variable = "cases"
	VarVaccinations Variable = "vaccinations"
	VarStringency   Variable = "stringency_index"
	VarPopulation   Variable = "population"
)

// Observation is one (municipality, period, value) point of a single
// variable. A nil Value is an explicit gap: the period exists on the time
// axis but the source reported nothing for it, which downstream consumers
// must be able to distinguish from zero.
type Observation struct {
	NISCode string
	Period  Period
	Value   *float64
}

// Sample is one raw, pre-alignment reading from a source: an instant rather
// than a period, in whatever cadence the source publishes.
type Sample struct {
	NISCode string
	At      time.Time
	Value   float64
}

// Municipality is one of the 581 Belgian municipalities, keyed by NIS code.
type Municipality struct {
	NISCode    string
	Name       string
	Population int64
}

// PanelRow is one merged (municipality, period) row of the finished panel.
// Pointer fields are nil where the configured fill policy left a gap.
// VaccinationPct is derived (cumulative doses / population * 100) and nil
// whenever either input is missing.
type PanelRow struct {
	NISCode         string
	Name            string
	Period          Period
	Cases           *float64
	Vaccinations    *float64
	StringencyIndex *float64
	Population      *int64
	VaccinationPct  *float64
}

// GeometryRecord attaches a municipality's simplified boundary to its NIS
// code. Created once by the geometry preprocessing step and immutable after.
type GeometryRecord struct {
	NISCode  string
	Name     string
	Geometry *geom.MultiPolygon
}

// WarningKind labels a non-fatal coverage condition on a build report.
type WarningKind string

const (
	// WarnIncompleteMunicipalityCoverage marks a municipality the geometry
	// source knows but some data source never reported; its rows were kept
	// with null values instead of being dropped.
	WarnIncompleteMunicipalityCoverage WarningKind = "incomplete_municipality_coverage"

	// WarnUnmatchedMunicipality marks a NIS code present on only one side of
	// the panel/geometry join.
	WarnUnmatchedMunicipality WarningKind = "unmatched_municipality"
)

// Warning annotates a build result without failing it. The final consumer
// decides whether a warning is fatal.
type Warning struct {
	Kind    WarningKind
	NISCode string
	Source  string
	Detail  string
}

// Float returns a pointer to v. Convenience for building observations.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
