package geometry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

func sectorFeature(nis any, name string) string {
	nisJSON := fmt.Sprintf("%v", nis)
	if s, ok := nis.(string); ok {
		nisJSON = fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf(`{
		"type": "Feature",
		"properties": {"CNIS5": %s, "T_MUN_NL": %q},
		"geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}
	}`, nisJSON, name)
}

func collection(features ...string) []byte {
	out := `{"type":"FeatureCollection","features":[`
	for i, f := range features {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return []byte(out + "]}")
}

func TestParseSectors(t *testing.T) {
	t.Run("string and numeric NIS properties", func(t *testing.T) {
		sectors, err := ParseSectors(collection(
			sectorFeature("11001", "Aartselaar"),
			sectorFeature(21004, "Brussel"),
		))
		require.NoError(t, err)
		require.Len(t, sectors, 2)
		assert.Equal(t, "11001", sectors[0].NISCode)
		assert.Equal(t, "Aartselaar", sectors[0].Name)
		assert.Equal(t, "21004", sectors[1].NISCode)
	})

	t.Run("missing NIS property", func(t *testing.T) {
		_, err := ParseSectors(collection(`{
			"type": "Feature",
			"properties": {"T_MUN_NL": "Brussel"},
			"geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}
		}`))
		var mismatch *domain.SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "CNIS5", mismatch.Column)
	})

	t.Run("non-polygonal geometry", func(t *testing.T) {
		_, err := ParseSectors(collection(`{
			"type": "Feature",
			"properties": {"CNIS5": "11001"},
			"geometry": {"type": "Point", "coordinates": [0, 0]}
		}`))
		var mismatch *domain.SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
	})

	t.Run("empty collection", func(t *testing.T) {
		_, err := ParseSectors([]byte(`{"type":"FeatureCollection","features":[]}`))
		var mismatch *domain.SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseSectors([]byte(`{`))
		var mismatch *domain.SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
	})
}

func TestAggregate(t *testing.T) {
	sectors, err := ParseSectors(collection(
		sectorFeature("11001", ""),
		sectorFeature("11001", "Aartselaar"),
		sectorFeature("21004", "Brussel"),
	))
	require.NoError(t, err)

	records, err := Aggregate(sectors)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "11001", records[0].NISCode)
	assert.Equal(t, "Aartselaar", records[0].Name, "name taken from first sector that has one")
	assert.Equal(t, 2, records[0].Geometry.NumPolygons())
	assert.Equal(t, "21004", records[1].NISCode)
	assert.Equal(t, 1, records[1].Geometry.NumPolygons())
}

func ring(coords ...geom.Coord) *geom.MultiPolygon {
	poly := geom.NewPolygon(geom.XY)
	if _, err := poly.SetCoords([][]geom.Coord{coords}); err != nil {
		panic(err)
	}
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return mp
}

func TestSimplify(t *testing.T) {
	t.Run("drops near-collinear vertices", func(t *testing.T) {
		// The vertex at (5, 0.001) sits within tolerance of the base edge.
		rec := domain.GeometryRecord{NISCode: "11001", Geometry: ring(
			geom.Coord{0, 0}, geom.Coord{5, 0.001}, geom.Coord{10, 0},
			geom.Coord{10, 10}, geom.Coord{0, 10}, geom.Coord{0, 0},
		)}

		out := Simplify([]domain.GeometryRecord{rec}, 0.01)
		coords := out[0].Geometry.Polygon(0).LinearRing(0).Coords()
		require.Len(t, coords, 5)
		assert.Equal(t, coords[0], coords[len(coords)-1], "ring stays closed")
	})

	t.Run("keeps rings at minimum size", func(t *testing.T) {
		triangle := ring(geom.Coord{0, 0}, geom.Coord{1, 0}, geom.Coord{1, 1}, geom.Coord{0, 0})
		rec := domain.GeometryRecord{NISCode: "11001", Geometry: triangle}

		out := Simplify([]domain.GeometryRecord{rec}, 100)
		assert.Len(t, out[0].Geometry.Polygon(0).LinearRing(0).Coords(), 4)
	})

	t.Run("huge tolerance never collapses below a triangle", func(t *testing.T) {
		rec := domain.GeometryRecord{NISCode: "11001", Geometry: ring(
			geom.Coord{0, 0}, geom.Coord{5, 0}, geom.Coord{10, 0},
			geom.Coord{10, 10}, geom.Coord{0, 10}, geom.Coord{0, 0},
		)}

		out := Simplify([]domain.GeometryRecord{rec}, 1e6)
		assert.GreaterOrEqual(t, len(out[0].Geometry.Polygon(0).LinearRing(0).Coords()), 4)
	})

	t.Run("zero tolerance is a no-op", func(t *testing.T) {
		rec := domain.GeometryRecord{NISCode: "11001", Geometry: ring(
			geom.Coord{0, 0}, geom.Coord{1, 0}, geom.Coord{1, 1}, geom.Coord{0, 0},
		)}
		out := Simplify([]domain.GeometryRecord{rec}, 0)
		assert.Same(t, rec.Geometry, out[0].Geometry)
	})
}

func TestJoin(t *testing.T) {
	records := []domain.GeometryRecord{
		{NISCode: "21004", Name: "Brussel"},
		{NISCode: "11001", Name: "Aartselaar"},
		{NISCode: "99999", Name: "Ghost"},
	}

	matched, warnings := Join([]string{"11001", "21004", "44021"}, records)

	require.Len(t, matched, 2)
	assert.Equal(t, "11001", matched[0].NISCode)
	assert.Equal(t, "21004", matched[1].NISCode)

	require.Len(t, warnings, 2)
	byCode := map[string]domain.Warning{}
	for _, w := range warnings {
		byCode[w.NISCode] = w
		assert.Equal(t, domain.WarnUnmatchedMunicipality, w.Kind)
	}
	assert.Equal(t, sectorsSource, byCode["99999"].Source)
	assert.Equal(t, "panel", byCode["44021"].Source)
}
