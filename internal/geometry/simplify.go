package geometry

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

// minRingCoords is the smallest valid closed ring: a triangle plus the
// closing repeat of the first vertex.
const minRingCoords = 4

// Simplify applies Douglas-Peucker ring simplification with the given
// tolerance (in coordinate units) to every record. Rings stay closed, and a
// ring that would collapse below a valid triangle keeps its original shape.
// Tolerance zero or negative leaves the records untouched.
func Simplify(records []domain.GeometryRecord, tolerance float64) []domain.GeometryRecord {
	if tolerance <= 0 {
		return records
	}
	out := make([]domain.GeometryRecord, len(records))
	for i, rec := range records {
		out[i] = domain.GeometryRecord{
			NISCode:  rec.NISCode,
			Name:     rec.Name,
			Geometry: simplifyMultiPolygon(rec.Geometry, tolerance),
		}
	}
	return out
}

func simplifyMultiPolygon(mp *geom.MultiPolygon, tolerance float64) *geom.MultiPolygon {
	out := geom.NewMultiPolygon(geom.XY)
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		rings := make([][]geom.Coord, 0, poly.NumLinearRings())
		for j := 0; j < poly.NumLinearRings(); j++ {
			rings = append(rings, simplifyRing(poly.LinearRing(j).Coords(), tolerance))
		}
		simplified := geom.NewPolygon(geom.XY)
		if _, err := simplified.SetCoords(rings); err != nil {
			panic(err)
		}
		if err := out.Push(simplified); err != nil {
			panic(err)
		}
	}
	return out
}

// simplifyRing runs Douglas-Peucker over a closed ring. The endpoints of the
// open part are always kept, so closure is preserved by construction.
func simplifyRing(ring []geom.Coord, tolerance float64) []geom.Coord {
	if len(ring) <= minRingCoords {
		return ring
	}
	kept := douglasPeucker(ring, tolerance)
	if len(kept) < minRingCoords {
		return ring
	}
	return kept
}

func douglasPeucker(coords []geom.Coord, tolerance float64) []geom.Coord {
	if len(coords) <= 2 {
		return coords
	}

	first, last := coords[0], coords[len(coords)-1]
	maxDist, maxIdx := 0.0, 0
	for i := 1; i < len(coords)-1; i++ {
		if d := xy.DistanceFromPointToLine(coords[i], first, last); d > maxDist {
			maxDist, maxIdx = d, i
		}
	}
	if maxDist <= tolerance {
		return []geom.Coord{first, last}
	}

	left := douglasPeucker(coords[:maxIdx+1], tolerance)
	right := douglasPeucker(coords[maxIdx:], tolerance)
	out := make([]geom.Coord, 0, len(left)+len(right)-1)
	out = append(out, left[:len(left)-1]...)
	return append(out, right...)
}
