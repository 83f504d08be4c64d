// Package geometry turns the statistical-sector boundary file into one
// simplified MultiPolygon per municipality, keyed by NIS code.
package geometry

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

const sectorsSource = "boundaries"

// Property names on the StatBel sector features.
const (
	propNIS  = "CNIS5"
	propName = "T_MUN_NL"
)

// Sector is one statistical-sector feature: a fragment of a municipality's
// territory. Municipalities are split across many sectors in the source file.
type Sector struct {
	NISCode  string
	Name     string
	Geometry geom.T
}

// ParseSectors decodes the sector feature collection. Features without a NIS
// code and non-polygonal geometries are schema violations; an empty
// collection is too.
func ParseSectors(data []byte) ([]Sector, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, &domain.SchemaMismatchError{
			Source: sectorsSource,
			Reason: fmt.Sprintf("invalid GeoJSON: %v", err),
		}
	}
	if len(fc.Features) == 0 {
		return nil, &domain.SchemaMismatchError{Source: sectorsSource, Reason: "no features"}
	}

	sectors := make([]Sector, 0, len(fc.Features))
	for i, f := range fc.Features {
		raw, ok := propertyString(f.Properties, propNIS)
		if !ok {
			return nil, &domain.SchemaMismatchError{
				Source: sectorsSource, Column: propNIS,
				Reason: fmt.Sprintf("feature %d: property missing", i),
			}
		}
		nis, err := domain.NormalizeNIS(raw)
		if err != nil {
			return nil, &domain.SchemaMismatchError{
				Source: sectorsSource, Column: propNIS,
				Reason: fmt.Sprintf("feature %d: %v", i, err),
			}
		}

		switch f.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
		default:
			return nil, &domain.SchemaMismatchError{
				Source: sectorsSource,
				Reason: fmt.Sprintf("feature %d: geometry %T is not polygonal", i, f.Geometry),
			}
		}

		name, _ := propertyString(f.Properties, propName)
		sectors = append(sectors, Sector{NISCode: nis, Name: name, Geometry: f.Geometry})
	}
	return sectors, nil
}

// propertyString reads a GeoJSON property that may have been encoded as a
// string or a number.
func propertyString(props map[string]interface{}, key string) (string, bool) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}
