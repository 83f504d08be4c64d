package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	httpadapter "github.com/epibel/covid-panel-etl/internal/adapter/http"
	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/pipeline"
)

type mockHolder struct {
	build *pipeline.Build
}

func (m *mockHolder) Last() *pipeline.Build { return m.build }

func (m *mockHolder) CheckReadiness(_ context.Context) error {
	if m.build == nil {
		return errors.New("no panel build completed yet")
	}
	return nil
}

func testBuild() *pipeline.Build {
	p := domain.PeriodOf(time.Date(2021, 2, 15, 0, 0, 0, 0, time.UTC), domain.Weekly)
	poly := geom.NewPolygon(geom.XY)
	poly.MustSetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return &pipeline.Build{
		Rows: []domain.PanelRow{
			{NISCode: "11001", Name: "Aartselaar", Period: p, Cases: domain.Float(12)},
		},
		Geometry:    []domain.GeometryRecord{{NISCode: "11001", Name: "Aartselaar", Geometry: mp}},
		BuiltAt:     time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC),
		Fingerprint: "cafe0123cafe0123",
	}
}

func newTestServer(build *pipeline.Build) *httpadapter.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(":0", &mockHolder{build: build}, logger)
}

func get(srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(newTestServer(nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzBeforeAndAfterBuild(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, get(newTestServer(nil), "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(newTestServer(testBuild()), "/readyz").Code)
}

func TestPanelCSVBeforeBuildReturns503(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, get(newTestServer(nil), "/panel.csv").Code)
}

func TestPanelCSVServesBuild(t *testing.T) {
	rec := get(newTestServer(testBuild()), "/panel.csv")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "cafe0123cafe0123", rec.Header().Get("X-Build-Fingerprint"))
	assert.Empty(t, rec.Header().Get("X-Build-Stale"))

	lines := strings.Split(rec.Body.String(), "\n")
	assert.Contains(t, lines[0], "nis_code")
	assert.Contains(t, lines[1], "11001,Aartselaar,2021-W07,12")
}

func TestPanelCSVMarksStaleBuilds(t *testing.T) {
	build := testBuild()
	build.Stale = true
	rec := get(newTestServer(build), "/panel.csv")

	assert.Equal(t, "true", rec.Header().Get("X-Build-Stale"))
}

func TestGeoJSONServesBuild(t *testing.T) {
	rec := get(newTestServer(testBuild()), "/geometry.geojson")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var decoded struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "FeatureCollection", decoded.Type)
	assert.Len(t, decoded.Features, 1)
}

func TestMetricsEndpointExists(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(newTestServer(nil), "/metrics").Code)
}
