// Package export renders finished builds into their published artifact
// formats. Both writers are deterministic: the same build produces
// byte-identical output on every run.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

// panelHeader is the fixed column order of the panel CSV.
var panelHeader = []string{
	"nis_code",
	"municipality",
	"period",
	"cases",
	"cumulative_vaccinations",
	"vaccination_pct",
	"stringency_index",
	"population",
}

// WritePanelCSV writes the panel rows in their merge order. Null values
// render as empty fields, not zeros.
func WritePanelCSV(w io.Writer, rows []domain.PanelRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(panelHeader); err != nil {
		return fmt.Errorf("write panel header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.NISCode,
			row.Name,
			row.Period.String(),
			formatFloat(row.Cases),
			formatFloat(row.Vaccinations),
			formatFloat(row.VaccinationPct),
			formatFloat(row.StringencyIndex),
			formatInt(row.Population),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write panel row %s/%s: %w", row.NISCode, row.Period, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGeoJSON writes the municipality boundaries as a FeatureCollection
// with features sorted by NIS code. Records are expected pre-sorted, the way
// Aggregate and Join return them.
func WriteGeoJSON(w io.Writer, records []domain.GeometryRecord) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(records))}
	for _, rec := range records {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       rec.NISCode,
			Geometry: rec.Geometry,
			Properties: map[string]interface{}{
				"nis_code": rec.NISCode,
				"name":     rec.Name,
			},
		})
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(&fc); err != nil {
		return fmt.Errorf("encode geometry collection: %w", err)
	}
	return nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
