package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

func writeXLSX(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestPopulationLoader_Load(t *testing.T) {
	path := writeXLSX(t, "Sheet1", [][]any{
		{"CD_REFNIS", "TX_DESCR_NL", "CD_SEX", "POPULATION"},
		{"11001", "Aartselaar", "M", 7000},
		{"11001", "Aartselaar", "F", 7500},
		{"21004", "Brussel", "M", 90000},
		{"1000", "Testgemeente", "M", 10},
	})

	loader := NewPopulationLoader(path, testLogger(), newTestMetrics())
	munis, err := loader.Load()
	require.NoError(t, err)

	require.Len(t, munis, 3)
	// Sorted by normalized code; breakdown rows summed.
	assert.Equal(t, domain.Municipality{NISCode: "01000", Name: "Testgemeente", Population: 10}, munis[0])
	assert.Equal(t, domain.Municipality{NISCode: "11001", Name: "Aartselaar", Population: 14500}, munis[1])
	assert.Equal(t, domain.Municipality{NISCode: "21004", Name: "Brussel", Population: 90000}, munis[2])
}

func TestPopulationLoader_MissingColumn(t *testing.T) {
	path := writeXLSX(t, "Sheet1", [][]any{
		{"CD_REFNIS", "TX_DESCR_NL"},
		{"11001", "Aartselaar"},
	})

	loader := NewPopulationLoader(path, testLogger(), newTestMetrics())
	_, err := loader.Load()
	var mismatch *domain.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "POPULATION", mismatch.Column)
}

func TestPopulationLoader_MissingFile(t *testing.T) {
	loader := NewPopulationLoader(filepath.Join(t.TempDir(), "nope.xlsx"), testLogger(), newTestMetrics())
	_, err := loader.Load()
	var unavailable *domain.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "population", unavailable.Source)
}

func TestParseWholeNumber(t *testing.T) {
	for in, want := range map[string]int64{"12345": 12345, "12345.0": 12345, "0": 0} {
		got, err := parseWholeNumber(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "-5", "12.5", "abc"} {
		_, err := parseWholeNumber(in)
		assert.Error(t, err, "input %q", in)
	}
}
