package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

func panelFixture() []domain.PanelRow {
	p := domain.PeriodOf(time.Date(2021, 2, 15, 0, 0, 0, 0, time.UTC), domain.Weekly)
	return []domain.PanelRow{
		{
			NISCode:         "11001",
			Name:            "Aartselaar",
			Period:          p,
			Cases:           domain.Float(12),
			Vaccinations:    domain.Float(7000),
			VaccinationPct:  domain.Float(50),
			StringencyIndex: domain.Float(63.89),
			Population:      domain.Int(14000),
		},
		{NISCode: "21004", Name: "Brussel", Period: p},
	}
}

func TestWritePanelCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePanelCSV(&buf, panelFixture()))

	lines := strings.Split(buf.String(), "\n")
	require.Len(t, lines, 4, "header, two rows, trailing newline")
	assert.Equal(t, "nis_code,municipality,period,cases,cumulative_vaccinations,vaccination_pct,stringency_index,population", lines[0])
	assert.Equal(t, "11001,Aartselaar,2021-W07,12,7000,50,63.89,14000", lines[1])
	assert.Equal(t, "21004,Brussel,2021-W07,,,,,", lines[2])
	assert.Empty(t, lines[3])
}

func TestWritePanelCSV_Deterministic(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, WritePanelCSV(&first, panelFixture()))
	require.NoError(t, WritePanelCSV(&second, panelFixture()))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func testMultiPolygon(t *testing.T) *geom.MultiPolygon {
	t.Helper()
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	require.NoError(t, err)
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(poly))
	return mp
}

func TestWriteGeoJSON(t *testing.T) {
	records := []domain.GeometryRecord{
		{NISCode: "11001", Name: "Aartselaar", Geometry: testMultiPolygon(t)},
		{NISCode: "21004", Name: "Brussel", Geometry: testMultiPolygon(t)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, records))

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
			Geometry   struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "FeatureCollection", decoded.Type)
	require.Len(t, decoded.Features, 2)
	assert.Equal(t, "11001", decoded.Features[0].Properties["nis_code"])
	assert.Equal(t, "Aartselaar", decoded.Features[0].Properties["name"])
	assert.Equal(t, "MultiPolygon", decoded.Features[0].Geometry.Type)
}
