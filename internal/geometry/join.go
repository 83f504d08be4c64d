package geometry

import (
	"sort"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

// Join matches the panel's municipality codes against the aggregated
// geometry records. It returns the records for codes present on both sides,
// sorted by NIS code, plus one warning per code that appears on only one
// side. Neither side's extras are silently dropped without a warning.
func Join(codes []string, records []domain.GeometryRecord) ([]domain.GeometryRecord, []domain.Warning) {
	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}

	var matched []domain.GeometryRecord
	var warnings []domain.Warning
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.NISCode] = true
		if wanted[rec.NISCode] {
			matched = append(matched, rec)
			continue
		}
		warnings = append(warnings, domain.Warning{
			Kind:    domain.WarnUnmatchedMunicipality,
			NISCode: rec.NISCode,
			Source:  sectorsSource,
			Detail:  "geometry has no corresponding panel municipality",
		})
	}

	missing := make([]string, 0)
	for _, c := range codes {
		if !seen[c] {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	for _, c := range missing {
		warnings = append(warnings, domain.Warning{
			Kind:    domain.WarnUnmatchedMunicipality,
			NISCode: c,
			Source:  "panel",
			Detail:  "panel municipality has no geometry",
		})
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].NISCode < matched[j].NISCode })
	return matched, warnings
}
