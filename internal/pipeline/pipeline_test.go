package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epibel/covid-panel-etl/internal/config"
	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/observability"
)

type stubCases struct {
	samples []domain.Sample
	stale   bool
	err     error
}

func (s *stubCases) Load(context.Context) ([]domain.Sample, bool, error) {
	return s.samples, s.stale, s.err
}

type stubVaccination struct {
	samples []domain.Sample
	stale   bool
}

func (s *stubVaccination) Load(context.Context) ([]domain.Sample, bool, error) {
	return s.samples, s.stale, nil
}

type stubPopulation struct {
	munis []domain.Municipality
}

func (s *stubPopulation) Load() ([]domain.Municipality, error) { return s.munis, nil }

type stubStringency struct {
	samples []domain.Sample
}

func (s *stubStringency) Load() ([]domain.Sample, error) { return s.samples, nil }

type stubBoundaries struct {
	data  []byte
	stale bool
}

func (s *stubBoundaries) Load(context.Context) ([]byte, bool, error) {
	return s.data, s.stale, nil
}

type recordingPublisher struct {
	rows    []domain.PanelRow
	builtAt time.Time
	err     error
}

func (p *recordingPublisher) PublishPanel(_ context.Context, rows []domain.PanelRow, builtAt time.Time) error {
	p.rows = rows
	p.builtAt = builtAt
	return p.err
}

func fixtureGeoJSON() []byte {
	feature := func(nis, name string) string {
		return fmt.Sprintf(`{
			"type": "Feature",
			"properties": {"CNIS5": %q, "T_MUN_NL": %q},
			"geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}
		}`, nis, name)
	}
	return []byte(`{"type":"FeatureCollection","features":[` +
		feature("11001", "Aartselaar") + "," + feature("21004", "Brussel") + `]}`)
}

func testConfig() *config.Config {
	return &config.Config{
		Granularity: domain.Weekly,
		RangeStart:  time.Date(2021, 2, 15, 0, 0, 0, 0, time.UTC),
		RangeEnd:    time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC),
	}
}

func fixtureSources() Sources {
	monday := time.Date(2021, 2, 15, 0, 0, 0, 0, time.UTC)
	return Sources{
		Cases: &stubCases{samples: []domain.Sample{
			{NISCode: "11001", At: monday, Value: 4},
			{NISCode: "11001", At: monday.AddDate(0, 0, 2), Value: 3},
		}},
		Vaccination: &stubVaccination{samples: []domain.Sample{
			{NISCode: "11001", At: monday, Value: 7000},
		}},
		Population: &stubPopulation{munis: []domain.Municipality{
			{NISCode: "11001", Name: "Aartselaar", Population: 14000},
			{NISCode: "21004", Name: "Brussel", Population: 180000},
		}},
		Stringency: &stubStringency{samples: []domain.Sample{
			{NISCode: "11001", At: monday, Value: 60},
			{NISCode: "21004", At: monday, Value: 60},
		}},
		Boundaries: &stubBoundaries{data: fixtureGeoJSON()},
	}
}

func newTestPipeline(sources Sources, publisher Publisher) *Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testConfig(), sources, publisher, logger, observability.NewMetricsForTesting())
}

func TestPipeline_RunBuildsBalancedPanel(t *testing.T) {
	p := newTestPipeline(fixtureSources(), nil)

	build, err := p.Run(context.Background())
	require.NoError(t, err)

	// 2 municipalities x 2 weekly periods.
	require.Len(t, build.Rows, 4)
	assert.Equal(t, "11001", build.Rows[0].NISCode)
	assert.Equal(t, "2021-W07", build.Rows[0].Period.String())
	assert.Equal(t, 7.0, *build.Rows[0].Cases)
	assert.Equal(t, 7000.0, *build.Rows[0].Vaccinations)
	assert.InDelta(t, 50.0, *build.Rows[0].VaccinationPct, 1e-9)

	require.Len(t, build.Geometry, 2)
	assert.Equal(t, "11001", build.Geometry[0].NISCode)
	assert.False(t, build.Stale)
	assert.NotEmpty(t, build.Fingerprint)
}

func TestPipeline_GeometryOnlyMunicipalityKeepsItsRows(t *testing.T) {
	feature := `,{
		"type": "Feature",
		"properties": {"CNIS5": "99999", "T_MUN_NL": "Nieuwdorp"},
		"geometry": {"type": "Polygon", "coordinates": [[[2,2],[3,2],[3,3],[2,2]]]}
	}`
	geo := fixtureGeoJSON()
	geo = append(geo[:len(geo)-2], []byte(feature+"]}")...)

	sources := fixtureSources()
	sources.Boundaries = &stubBoundaries{data: geo}
	p := newTestPipeline(sources, nil)

	build, err := p.Run(context.Background())
	require.NoError(t, err)

	// 99999 is absent from the population table but known to the boundary
	// data, so it still gets its full share of rows.
	var rows []domain.PanelRow
	for _, r := range build.Rows {
		if r.NISCode == "99999" {
			rows = append(rows, r)
		}
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "Nieuwdorp", rows[0].Name)
	assert.Nil(t, rows[0].Population)
	assert.Nil(t, rows[0].VaccinationPct)

	require.Len(t, build.Geometry, 3)
	assert.Equal(t, "99999", build.Geometry[2].NISCode)

	var warned bool
	for _, w := range build.Warnings {
		if w.NISCode == "99999" && w.Source == "population" {
			assert.Equal(t, domain.WarnIncompleteMunicipalityCoverage, w.Kind)
			warned = true
		}
		assert.NotEqual(t, domain.WarnUnmatchedMunicipality, w.Kind)
	}
	assert.True(t, warned, "missing population figure should warn")
}

func TestPipeline_RunSurfacesCoverageWarnings(t *testing.T) {
	p := newTestPipeline(fixtureSources(), nil)

	build, err := p.Run(context.Background())
	require.NoError(t, err)

	// 21004 never appears in cases or vaccinations.
	var warned []string
	for _, w := range build.Warnings {
		if w.Kind == domain.WarnIncompleteMunicipalityCoverage && w.NISCode == "21004" {
			warned = append(warned, w.Source)
		}
	}
	assert.ElementsMatch(t, []string{"cases", "vaccinations"}, warned)
}

func TestPipeline_RunPropagatesSourceErrors(t *testing.T) {
	sources := fixtureSources()
	sources.Cases = &stubCases{err: &domain.SourceUnavailableError{
		Source: "cases", Location: "http://example.invalid", Err: errors.New("boom"),
	}}
	p := newTestPipeline(sources, nil)

	_, err := p.Run(context.Background())
	var unavailable *domain.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Nil(t, p.Last())
}

func TestPipeline_StaleSourcePropagates(t *testing.T) {
	sources := fixtureSources()
	sources.Cases = &stubCases{samples: []domain.Sample{
		{NISCode: "11001", At: time.Date(2021, 2, 15, 0, 0, 0, 0, time.UTC), Value: 1},
	}, stale: true}
	p := newTestPipeline(sources, nil)

	build, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, build.Stale)
}

func TestPipeline_PublishesAfterBuild(t *testing.T) {
	frozen := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	pub := &recordingPublisher{}
	p := newTestPipeline(fixtureSources(), pub)

	build, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, build.Rows, pub.rows)
	assert.Equal(t, frozen, pub.builtAt)
}

func TestPipeline_PublishFailureFailsRun(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := newTestPipeline(fixtureSources(), pub)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "publish panel")

	// The build itself succeeded and stays available.
	assert.NotNil(t, p.Last())
}

func TestPipeline_Readiness(t *testing.T) {
	p := newTestPipeline(fixtureSources(), nil)

	require.Error(t, p.CheckReadiness(context.Background()))

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}
