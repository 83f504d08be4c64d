package source

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/epibel/covid-panel-etl/internal/domain"
	"github.com/epibel/covid-panel-etl/internal/observability"
)

const populationSource = "population"

// PopulationLoader reads the StatBel population spreadsheet
// (CD_REFNIS, TX_DESCR_NL, POPULATION) from a local file. The file carries
// one row per (municipality, sex, age, ...) breakdown; figures are summed
// per code.
type PopulationLoader struct {
	path    string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPopulationLoader creates a loader for the population spreadsheet.
func NewPopulationLoader(path string, logger *slog.Logger, metrics *observability.Metrics) *PopulationLoader {
	return &PopulationLoader{path: path, logger: logger, metrics: metrics}
}

// Load returns one Municipality per NIS code, sorted by code.
func (l *PopulationLoader) Load() ([]domain.Municipality, error) {
	if _, err := os.Stat(l.path); err != nil {
		return nil, &domain.SourceUnavailableError{Source: populationSource, Location: l.path, Err: err}
	}

	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: populationSource, Location: l.path, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &domain.SchemaMismatchError{Source: populationSource, Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &domain.SchemaMismatchError{Source: populationSource, Reason: fmt.Sprintf("read sheet %s: %v", sheets[0], err)}
	}

	munis, err := parsePopulationRows(rows)
	if err != nil {
		return nil, err
	}

	l.metrics.RowsLoaded.WithLabelValues(populationSource).Add(float64(len(munis)))
	l.logger.Info("population source loaded", "municipalities", len(munis))
	return munis, nil
}

func parsePopulationRows(rows [][]string) ([]domain.Municipality, error) {
	if len(rows) == 0 {
		return nil, &domain.SchemaMismatchError{Source: populationSource, Reason: "empty sheet"}
	}

	cols, err := requireColumns(populationSource, rows[0], "CD_REFNIS", "POPULATION")
	if err != nil {
		return nil, err
	}
	// The name column varies across StatBel exports; take the first
	// TX_DESCR_NL-style header when present.
	nameCol := -1
	for i, h := range rows[0] {
		if strings.Contains(strings.TrimSpace(h), "DESCR_NL") {
			nameCol = i
			break
		}
	}

	type entry struct {
		name string
		pop  int64
	}
	byCode := make(map[string]*entry)

	for i, row := range rows[1:] {
		nisRaw := field(row, cols["CD_REFNIS"])
		if nisRaw == "" {
			continue
		}
		nis, err := domain.NormalizeNIS(nisRaw)
		if err != nil {
			return nil, &domain.SchemaMismatchError{
				Source: populationSource, Column: "CD_REFNIS",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		pop, err := parseWholeNumber(field(row, cols["POPULATION"]))
		if err != nil {
			return nil, &domain.SchemaMismatchError{
				Source: populationSource, Column: "POPULATION",
				Reason: fmt.Sprintf("row %d: %v", i+2, err),
			}
		}

		e := byCode[nis]
		if e == nil {
			e = &entry{}
			byCode[nis] = e
		}
		e.pop += pop
		if e.name == "" && nameCol >= 0 {
			e.name = field(row, nameCol)
		}
	}

	munis := make([]domain.Municipality, 0, len(byCode))
	for nis, e := range byCode {
		munis = append(munis, domain.Municipality{NISCode: nis, Name: e.name, Population: e.pop})
	}
	sort.Slice(munis, func(i, j int) bool { return munis[i].NISCode < munis[j].NISCode })
	return munis, nil
}

// parseWholeNumber parses a non-negative integer that spreadsheet readers
// may render as "12345", "12345.0" or "1.2345e4".
func parseWholeNumber(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative value %q", raw)
		}
		return n, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not numeric", raw)
	}
	if v < 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%q is not a whole non-negative number", raw)
	}
	return int64(v), nil
}
