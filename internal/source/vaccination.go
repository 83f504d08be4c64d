package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/observability"
)

const vaccinationSource = "vaccinations"

const censoredVaccValue = 1

// Full-vaccination doses (B) and boosters (C); partial first doses under
// code A are not counted.
var includedDoses = map[string]bool{"B": true, "C": true}

var excludedAgeGroups = map[string]bool{"0-17": true}

// VaccinationLoader fetches and normalizes the cumulative Sciensano
// vaccination CSV (NIS5, YEAR_WEEK, DOSE, AGEGROUP, CUMUL) into one weekly
// sample per municipality, summed across doses and age groups.
type VaccinationLoader struct {
	fetcher *Fetcher
	url     string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewVaccinationLoader creates a loader for the vaccination source at url.
func NewVaccinationLoader(fetcher *Fetcher, url string, logger *slog.Logger, metrics *observability.Metrics) *VaccinationLoader {
	return &VaccinationLoader{fetcher: fetcher, url: url, logger: logger, metrics: metrics}
}

// Load returns one sample per (municipality, ISO week), stamped at the
// week's Monday. The stale flag mirrors the underlying fetch.
func (l *VaccinationLoader) Load(ctx context.Context) ([]domain.Sample, bool, error) {
	res, err := l.fetcher.Fetch(ctx, vaccinationSource, l.url)
	if err != nil {
		return nil, false, err
	}

	samples, filtered, err := parseVaccinationCSV(res.Data)
	if err != nil {
		return nil, false, err
	}

	l.metrics.RowsLoaded.WithLabelValues(vaccinationSource).Add(float64(len(samples)))
	l.logger.Info("vaccination source loaded",
		"rows", len(samples), "filtered", filtered, "stale", res.Stale)
	return samples, res.Stale, nil
}

func parseVaccinationCSV(data []byte) ([]domain.Sample, int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, 0, &domain.SchemaMismatchError{Source: vaccinationSource, Reason: fmt.Sprintf("malformed CSV: %v", err)}
	}
	if len(rows) == 0 {
		return nil, 0, &domain.SchemaMismatchError{Source: vaccinationSource, Reason: "empty file"}
	}

	cols, err := requireColumns(vaccinationSource, rows[0], "NIS5", "YEAR_WEEK", "DOSE", "AGEGROUP", "CUMUL")
	if err != nil {
		return nil, 0, err
	}

	type weekKey struct {
		nis  string
		week time.Time
	}
	sums := make(map[weekKey]float64)
	var filtered int

	for i, row := range rows[1:] {
		if !includedDoses[field(row, cols["DOSE"])] || excludedAgeGroups[field(row, cols["AGEGROUP"])] {
			filtered++
			continue
		}

		nisRaw := field(row, cols["NIS5"])
		if nisRaw == "" {
			filtered++
			continue
		}
		nis, err := domain.NormalizeNIS(nisRaw)
		if err != nil {
			return nil, 0, &domain.SchemaMismatchError{
				Source: vaccinationSource, Column: "NIS5",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		week, err := parseYearWeek(field(row, cols["YEAR_WEEK"]))
		if err != nil {
			return nil, 0, &domain.SchemaMismatchError{
				Source: vaccinationSource, Column: "YEAR_WEEK",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		value, err := parseCensoredCount(field(row, cols["CUMUL"]), "<10", censoredVaccValue)
		if err != nil {
			return nil, 0, &domain.SchemaMismatchError{
				Source: vaccinationSource, Column: "CUMUL",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		sums[weekKey{nis: nis, week: week}] += value
	}

	samples := make([]domain.Sample, 0, len(sums))
	for k, v := range sums {
		samples = append(samples, domain.Sample{NISCode: k.nis, At: k.week, Value: v})
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].NISCode != samples[j].NISCode {
			return samples[i].NISCode < samples[j].NISCode
		}
		return samples[i].At.Before(samples[j].At)
	})
	return samples, filtered, nil
}

// parseYearWeek parses Sciensano "21W05"-style keys (two- or four-digit
// years) into the ISO week's Monday.
func parseYearWeek(s string) (time.Time, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "W", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%q is not a YEAR_WEEK key", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("%q has a non-numeric year", s)
	}
	if year < 100 {
		year += 2000
	}
	week, err := strconv.Atoi(parts[1])
	if err != nil || week < 1 || week > 53 {
		return time.Time{}, fmt.Errorf("%q has an invalid week number", s)
	}

	// January 4th is always inside ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	p := domain.PeriodOf(jan4.AddDate(0, 0, (week-1)*7), domain.Weekly)
	return p.Start(), nil
}
