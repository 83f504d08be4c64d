package source

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/observability"
)

const stringencySource = "stringency_index"

// stringencySheet is the sheet holding raw daily index values.
const stringencySheet = "raw_data"

// StringencyLoader reads the daily Oxford-style stringency spreadsheet from
// a local file: sheet "raw_data", columns CD_REFNIS, DATE,
// STRINGENCY_INDEX, one row per municipality per day.
type StringencyLoader struct {
	path    string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewStringencyLoader creates a loader for the stringency spreadsheet.
func NewStringencyLoader(path string, logger *slog.Logger, metrics *observability.Metrics) *StringencyLoader {
	return &StringencyLoader{path: path, logger: logger, metrics: metrics}
}

// Load returns one sample per (municipality, day). Index values outside
// [0,100] are a schema violation, not data to be clamped.
func (l *StringencyLoader) Load() ([]domain.Sample, error) {
	if _, err := os.Stat(l.path); err != nil {
		return nil, &domain.SourceUnavailableError{Source: stringencySource, Location: l.path, Err: err}
	}

	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: stringencySource, Location: l.path, Err: err}
	}
	defer f.Close()

	rows, err := f.GetRows(stringencySheet)
	if err != nil {
		return nil, &domain.SchemaMismatchError{
			Source: stringencySource,
			Reason: fmt.Sprintf("sheet %q missing: %v", stringencySheet, err),
		}
	}

	samples, err := parseStringencyRows(rows)
	if err != nil {
		return nil, err
	}

	l.metrics.RowsLoaded.WithLabelValues(stringencySource).Add(float64(len(samples)))
	l.logger.Info("stringency source loaded", "rows", len(samples))
	return samples, nil
}

func parseStringencyRows(rows [][]string) ([]domain.Sample, error) {
	if len(rows) == 0 {
		return nil, &domain.SchemaMismatchError{Source: stringencySource, Reason: "empty sheet"}
	}

	cols, err := requireColumns(stringencySource, rows[0], "CD_REFNIS", "DATE", "STRINGENCY_INDEX")
	if err != nil {
		return nil, err
	}

	var samples []domain.Sample
	for i, row := range rows[1:] {
		nisRaw := field(row, cols["CD_REFNIS"])
		if nisRaw == "" {
			continue
		}
		nis, err := domain.NormalizeNIS(nisRaw)
		if err != nil {
			return nil, &domain.SchemaMismatchError{
				Source: stringencySource, Column: "CD_REFNIS",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		day, err := parseSheetDate(field(row, cols["DATE"]))
		if err != nil {
			return nil, &domain.SchemaMismatchError{
				Source: stringencySource, Column: "DATE",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		raw := field(row, cols["STRINGENCY_INDEX"])
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &domain.SchemaMismatchError{
				Source: stringencySource, Column: "STRINGENCY_INDEX",
				Reason: fmt.Sprintf("row %d: %q is not numeric", i+2, raw),
			}
		}
		if value < 0 || value > 100 {
			return nil, &domain.SchemaMismatchError{
				Source: stringencySource, Column: "STRINGENCY_INDEX",
				Reason: fmt.Sprintf("row %d: %g outside [0,100]", i+2, value),
			}
		}

		samples = append(samples, domain.Sample{NISCode: nis, At: day, Value: value})
	}
	return samples, nil
}

// sheetDateLayouts covers the renderings excelize produces for date cells
// depending on the cell's number format.
var sheetDateLayouts = []string{
	"2006-01-02",
	"01-02-06",
	"1/2/06",
	"2006-01-02 15:04:05",
}

func parseSheetDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range sheetDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a recognized date", raw)
}
