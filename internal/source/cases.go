package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/observability"
)

const casesSource = "cases"

// Sciensano censors counts below five as the literal "<5"; the original
// dashboard replaces them with 1.
const censoredCasesValue = 1

// CasesLoader fetches and normalizes the daily Sciensano case CSV
// (NIS5, DATE, CASES) into per-day samples.
type CasesLoader struct {
	fetcher *Fetcher
	url     string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCasesLoader creates a loader for the case-count source at url.
func NewCasesLoader(fetcher *Fetcher, url string, logger *slog.Logger, metrics *observability.Metrics) *CasesLoader {
	return &CasesLoader{fetcher: fetcher, url: url, logger: logger, metrics: metrics}
}

// Load returns one sample per (municipality, day). Rows with a missing NIS
// code or date are dropped, matching the source's own documentation of
// unassignable cases. The stale flag mirrors the underlying fetch.
func (l *CasesLoader) Load(ctx context.Context) ([]domain.Sample, bool, error) {
	res, err := l.fetcher.Fetch(ctx, casesSource, l.url)
	if err != nil {
		return nil, false, err
	}

	samples, dropped, err := parseCasesCSV(res.Data)
	if err != nil {
		return nil, false, err
	}

	l.metrics.RowsLoaded.WithLabelValues(casesSource).Add(float64(len(samples)))
	l.logger.Info("cases source loaded",
		"rows", len(samples), "dropped", dropped, "stale", res.Stale)
	return samples, res.Stale, nil
}

func parseCasesCSV(data []byte) ([]domain.Sample, int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, 0, &domain.SchemaMismatchError{Source: casesSource, Reason: fmt.Sprintf("malformed CSV: %v", err)}
	}
	if len(rows) == 0 {
		return nil, 0, &domain.SchemaMismatchError{Source: casesSource, Reason: "empty file"}
	}

	cols, err := requireColumns(casesSource, rows[0], "NIS5", "DATE", "CASES")
	if err != nil {
		return nil, 0, err
	}

	var samples []domain.Sample
	var dropped int
	for i, row := range rows[1:] {
		nisRaw := field(row, cols["NIS5"])
		dateRaw := field(row, cols["DATE"])
		if nisRaw == "" || dateRaw == "" {
			dropped++
			continue
		}

		nis, err := domain.NormalizeNIS(nisRaw)
		if err != nil {
			return nil, 0, &domain.SchemaMismatchError{
				Source: casesSource, Column: "NIS5",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		day, err := time.Parse("2006-01-02", dateRaw)
		if err != nil {
			return nil, 0, &domain.SchemaMismatchError{
				Source: casesSource, Column: "DATE",
				Reason: fmt.Sprintf("row %d: %q is not YYYY-MM-DD", i+2, dateRaw),
			}
		}

		value, err := parseCensoredCount(field(row, cols["CASES"]), "<5", censoredCasesValue)
		if err != nil {
			return nil, 0, &domain.SchemaMismatchError{
				Source: casesSource, Column: "CASES",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		samples = append(samples, domain.Sample{NISCode: nis, At: day.UTC(), Value: value})
	}
	return samples, dropped, nil
}

// parseCensoredCount parses a count column that may carry a censoring
// sentinel like "<5" or "<10".
func parseCensoredCount(raw, sentinel string, replacement float64) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == sentinel {
		return replacement, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not numeric", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative count %q", raw)
	}
	return v, nil
}

// requireColumns maps the named header columns to their indices, failing
// with a SchemaMismatchError for any missing column.
func requireColumns(source string, header []string, names ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	cols := make(map[string]int, len(names))
	for _, name := range names {
		i, ok := idx[name]
		if !ok {
			return nil, &domain.SchemaMismatchError{Source: source, Column: name, Reason: "column missing"}
		}
		cols[name] = i
	}
	return cols, nil
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
