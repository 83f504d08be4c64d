package align

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResample_SumCollapsesWeeks(t *testing.T) {
	samples := []domain.Sample{
		{NISCode: "11001", At: day(2021, 2, 15), Value: 4}, // W07 Mon
		{NISCode: "11001", At: day(2021, 2, 17), Value: 3}, // W07 Wed
		{NISCode: "11001", At: day(2021, 2, 22), Value: 5}, // W08 Mon
	}

	obs, err := Resample(samples, domain.Weekly, PolicySum)
	require.NoError(t, err)

	require.Len(t, obs, 2)
	assert.Equal(t, "2021-W07", obs[0].Period.String())
	assert.Equal(t, 7.0, *obs[0].Value)
	assert.Equal(t, "2021-W08", obs[1].Period.String())
	assert.Equal(t, 5.0, *obs[1].Value)
}

func TestResample_LastKeepsLatestInPeriod(t *testing.T) {
	samples := []domain.Sample{
		{NISCode: "11001", At: day(2021, 2, 17), Value: 120},
		{NISCode: "11001", At: day(2021, 2, 15), Value: 100},
	}

	obs, err := Resample(samples, domain.Weekly, PolicyLast)
	require.NoError(t, err)

	require.Len(t, obs, 1)
	assert.Equal(t, 120.0, *obs[0].Value)
}

func TestResample_GapsAreExplicitNils(t *testing.T) {
	// 11001 reports in W07 and W09, 21004 only in W08. Both codes must
	// still span the full W07..W09 range.
	samples := []domain.Sample{
		{NISCode: "11001", At: day(2021, 2, 15), Value: 1},
		{NISCode: "11001", At: day(2021, 3, 1), Value: 2},
		{NISCode: "21004", At: day(2021, 2, 22), Value: 9},
	}

	obs, err := Resample(samples, domain.Weekly, PolicySum)
	require.NoError(t, err)
	require.Len(t, obs, 6)

	byKey := make(map[string]*float64)
	for _, o := range obs {
		byKey[o.NISCode+"|"+o.Period.String()] = o.Value
	}

	require.Contains(t, byKey, "11001|2021-W08")
	assert.Nil(t, byKey["11001|2021-W08"])
	assert.Nil(t, byKey["21004|2021-W07"])
	assert.Nil(t, byKey["21004|2021-W09"])
	assert.Equal(t, 9.0, *byKey["21004|2021-W08"])
}

func TestResample_SortedAndDeterministic(t *testing.T) {
	samples := []domain.Sample{
		{NISCode: "73109", At: day(2021, 2, 15), Value: 1},
		{NISCode: "11001", At: day(2021, 2, 15), Value: 2},
		{NISCode: "44021", At: day(2021, 2, 15), Value: 3},
	}

	first, err := Resample(samples, domain.Daily, PolicySum)
	require.NoError(t, err)
	second, err := Resample(samples, domain.Daily, PolicySum)
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, "11001", first[0].NISCode)
	assert.Equal(t, "44021", first[1].NISCode)
	assert.Equal(t, "73109", first[2].NISCode)
	if diff := cmp.Diff(first, second, cmp.AllowUnexported(domain.Period{})); diff != "" {
		t.Errorf("repeated resample differs (-first +second):\n%s", diff)
	}
}

func TestResample_EmptyAndBadPolicy(t *testing.T) {
	obs, err := Resample(nil, domain.Weekly, PolicySum)
	require.NoError(t, err)
	assert.Nil(t, obs)

	_, err = Resample([]domain.Sample{{NISCode: "11001", At: day(2021, 1, 1), Value: 1}}, domain.Weekly, Policy("mean"))
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	p := domain.PeriodOf(day(2021, 2, 15), domain.Weekly)
	idx := Index([]domain.Observation{
		{NISCode: "11001", Period: p, Value: domain.Float(7)},
		{NISCode: "11001", Period: p.Next()},
	})

	require.Contains(t, idx, "11001")
	assert.Equal(t, 7.0, *idx["11001"][p])
	val, ok := idx["11001"][p.Next()]
	assert.True(t, ok)
	assert.Nil(t, val)
}
