// Package pipeline orchestrates a full panel build: load every source,
// align onto the period axis, merge into the balanced panel, and join the
// municipality geometry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/epibel/covid-panel-etl/internal/align"
	"github.com/epibel/covid-panel-etl/internal/config"
	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/geometry"
	"github.com/epibel/covid-panel-etl/internal/observability"
	"github.com/epibel/covid-panel-etl/internal/panel"
)

// Source seams, satisfied by the loaders in internal/source and by mocks in
// tests.
type (
	// CaseSource yields raw per-day case samples and whether they came from
	// a stale cache.
	CaseSource interface {
		Load(ctx context.Context) ([]domain.Sample, bool, error)
	}

	// VaccinationSource yields cumulative per-week dose samples.
	VaccinationSource interface {
		Load(ctx context.Context) ([]domain.Sample, bool, error)
	}

	// PopulationSource yields the municipality universe with populations.
	PopulationSource interface {
		Load() ([]domain.Municipality, error)
	}

	// StringencySource yields daily stringency index samples.
	StringencySource interface {
		Load() ([]domain.Sample, error)
	}

	// BoundarySource yields the raw sector GeoJSON bytes.
	BoundarySource interface {
		Load(ctx context.Context) ([]byte, bool, error)
	}

	// Publisher pushes finished panel rows to an external sink. Optional.
	Publisher interface {
		PublishPanel(ctx context.Context, rows []domain.PanelRow, builtAt time.Time) error
	}
)

// Sources bundles the five loaders a build needs.
type Sources struct {
	Cases       CaseSource
	Vaccination VaccinationSource
	Population  PopulationSource
	Stringency  StringencySource
	Boundaries  BoundarySource
}

// Build is one finished panel: the rows, the joined geometry, and the
// coverage warnings the merge and join raised. Stale marks builds that used
// at least one stale cached source.
type Build struct {
	Rows        []domain.PanelRow
	Geometry    []domain.GeometryRecord
	Warnings    []domain.Warning
	BuiltAt     time.Time
	Stale       bool
	Fingerprint string
}

// Pipeline runs builds and retains the most recent successful one for the
// HTTP artifact endpoints.
type Pipeline struct {
	cfg       *config.Config
	sources   Sources
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu   sync.RWMutex
	last *Build
}

// New assembles a pipeline. publisher may be nil when no sink is configured.
func New(cfg *config.Config, sources Sources, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		sources:   sources,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes one complete build. On success the build replaces the held
// last build and, when a publisher is configured, its rows are published.
func (p *Pipeline) Run(ctx context.Context) (*Build, error) {
	started := domain.Now()
	p.metrics.BuildRunning.Set(1)
	defer func() {
		p.metrics.BuildRunning.Set(0)
		p.metrics.BuildDuration.Observe(domain.Now().Sub(started).Seconds())
	}()
	p.logger.Info("panel build started",
		"granularity", p.cfg.Granularity,
		"range_start", p.cfg.RangeStart.Format("2006-01-02"),
		"range_end", p.cfg.RangeEnd.Format("2006-01-02"))

	build, err := p.build(ctx)
	if err != nil {
		p.logger.Error("panel build failed", "error", err)
		return nil, err
	}

	p.mu.Lock()
	p.last = build
	p.mu.Unlock()

	p.metrics.PanelRows.Set(float64(len(build.Rows)))
	for _, w := range build.Warnings {
		p.metrics.CoverageWarning.WithLabelValues(string(w.Kind)).Inc()
	}
	p.logger.Info("panel build finished",
		"rows", len(build.Rows),
		"municipalities", len(build.Geometry),
		"warnings", len(build.Warnings),
		"stale", build.Stale,
		"fingerprint", build.Fingerprint,
		"duration", domain.Now().Sub(started).String())

	if p.publisher != nil {
		if err := p.publisher.PublishPanel(ctx, build.Rows, build.BuiltAt); err != nil {
			return nil, fmt.Errorf("publish panel: %w", err)
		}
	}
	return build, nil
}

func (p *Pipeline) build(ctx context.Context) (*Build, error) {
	caseSamples, casesStale, err := p.sources.Cases.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cases: %w", err)
	}
	vaccSamples, vaccStale, err := p.sources.Vaccination.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vaccinations: %w", err)
	}
	municipalities, err := p.sources.Population.Load()
	if err != nil {
		return nil, fmt.Errorf("load population: %w", err)
	}
	stringencySamples, err := p.sources.Stringency.Load()
	if err != nil {
		return nil, fmt.Errorf("load stringency: %w", err)
	}
	boundaryJSON, boundariesStale, err := p.sources.Boundaries.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load boundaries: %w", err)
	}

	cases, err := align.Resample(caseSamples, p.cfg.Granularity, align.PolicySum)
	if err != nil {
		return nil, fmt.Errorf("align cases: %w", err)
	}
	vaccinations, err := align.Resample(vaccSamples, p.cfg.Granularity, align.PolicyLast)
	if err != nil {
		return nil, fmt.Errorf("align vaccinations: %w", err)
	}
	stringency, err := align.Resample(stringencySamples, p.cfg.Granularity, align.PolicyLast)
	if err != nil {
		return nil, fmt.Errorf("align stringency: %w", err)
	}

	periods := domain.PeriodRange(p.cfg.RangeStart, p.cfg.RangeEnd, p.cfg.Granularity)
	if len(periods) == 0 {
		return nil, errors.New("configured range contains no periods")
	}

	sectors, err := geometry.ParseSectors(boundaryJSON)
	if err != nil {
		return nil, fmt.Errorf("parse boundaries: %w", err)
	}
	records, err := geometry.Aggregate(sectors)
	if err != nil {
		return nil, fmt.Errorf("aggregate boundaries: %w", err)
	}
	records = geometry.Simplify(records, p.cfg.GeometryTolerance)

	universe := municipalityUniverse(municipalities, records)
	merged, err := panel.Merge(panel.Inputs{
		Municipalities: universe,
		Cases:          cases,
		Vaccinations:   vaccinations,
		Stringency:     stringency,
	}, periods)
	if err != nil {
		return nil, fmt.Errorf("merge panel: %w", err)
	}

	codes := make([]string, 0, len(universe))
	for _, m := range universe {
		codes = append(codes, m.NISCode)
	}
	joined, joinWarnings := geometry.Join(codes, records)

	return &Build{
		Rows:     merged.Rows,
		Geometry: joined,
		Warnings: append(merged.Warnings, joinWarnings...),
		BuiltAt:  domain.Now(),
		Stale:    casesStale || vaccStale || boundariesStale,
		Fingerprint: domain.Fingerprint(
			"build",
			string(p.cfg.Granularity),
			p.cfg.RangeStart.Format("2006-01-02"),
			p.cfg.RangeEnd.Format("2006-01-02"),
			fmt.Sprintf("%d", len(merged.Rows)),
		),
	}, nil
}

// municipalityUniverse is the population table unioned with the
// geometry-known municipalities. A code only the boundary data knows keeps
// its boundary name and a zero population, so the merge still emits its rows
// with a null population instead of dropping the municipality.
func municipalityUniverse(munis []domain.Municipality, records []domain.GeometryRecord) []domain.Municipality {
	seen := make(map[string]bool, len(munis))
	universe := make([]domain.Municipality, 0, len(munis)+len(records))
	for _, m := range munis {
		seen[m.NISCode] = true
		universe = append(universe, m)
	}
	for _, r := range records {
		if seen[r.NISCode] {
			continue
		}
		universe = append(universe, domain.Municipality{NISCode: r.NISCode, Name: r.Name})
	}
	return universe
}

// Last returns the most recent successful build, or nil before the first.
func (p *Pipeline) Last() *Build {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// CheckReadiness reports whether the pipeline has produced a build.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Last() == nil {
		return errors.New("no panel build completed yet")
	}
	return nil
}
