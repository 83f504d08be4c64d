package geometry

import (
	"fmt"
	"sort"

	"github.com/twpayne/go-geom"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

// Aggregate collects every sector of a municipality into one MultiPolygon.
// Sectors are appended as sibling polygons without topological union, so
// interior sector borders survive. Output is sorted by NIS code.
func Aggregate(sectors []Sector) ([]domain.GeometryRecord, error) {
	byCode := make(map[string]*domain.GeometryRecord)
	for _, s := range sectors {
		rec := byCode[s.NISCode]
		if rec == nil {
			rec = &domain.GeometryRecord{
				NISCode:  s.NISCode,
				Geometry: geom.NewMultiPolygon(geom.XY),
			}
			byCode[s.NISCode] = rec
		}
		if rec.Name == "" {
			rec.Name = s.Name
		}
		if err := appendPolygons(rec.Geometry, s.Geometry); err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", s.NISCode, err)
		}
	}

	records := make([]domain.GeometryRecord, 0, len(byCode))
	for _, rec := range byCode {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].NISCode < records[j].NISCode })
	return records, nil
}

func appendPolygons(dst *geom.MultiPolygon, g geom.T) error {
	switch t := g.(type) {
	case *geom.Polygon:
		return dst.Push(clonePolygon(t))
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if err := dst.Push(clonePolygon(t.Polygon(i))); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("geometry %T is not polygonal", g)
	}
}

// clonePolygon copies a polygon so the aggregate does not alias the parsed
// feature's coordinate storage.
func clonePolygon(p *geom.Polygon) *geom.Polygon {
	out := geom.NewPolygon(geom.XY)
	if _, err := out.SetCoords(p.Coords()); err != nil {
		// Coords round-trip on the same layout cannot fail.
		panic(err)
	}
	return out
}
