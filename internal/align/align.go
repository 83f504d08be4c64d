// Package align turns raw per-instant source samples into a regular panel
// time axis: one observation per (municipality, period), with gaps kept as
// explicit nils rather than dropped rows.
package align

import (
	"fmt"
	"sort"

	"github.com/epibel/covid-panel-etl/internal/domain"
)

// Policy selects how samples falling into the same period collapse into one
// observation.
type Policy string

const (
	// PolicySum adds all samples in the period. Correct for flow variables
	// such as new case counts.
	PolicySum Policy = "sum"

	// PolicyLast keeps the sample with the latest timestamp in the period.
	// Correct for stock variables such as cumulative doses or an index level.
	PolicyLast Policy = "last"
)

// Resample buckets samples into periods of granularity g and collapses each
// bucket per policy. The result covers the full observed range: every
// municipality present in samples gets exactly one observation for every
// period between the earliest and latest sample overall, nil where the
// municipality reported nothing. Output is sorted by (nis, period).
func Resample(samples []domain.Sample, g domain.Granularity, policy Policy) ([]domain.Observation, error) {
	if policy != PolicySum && policy != PolicyLast {
		return nil, fmt.Errorf("unknown resample policy %q", policy)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	type cell struct {
		value  float64
		latest int // index into samples, breaks timestamp ties by input order
	}
	buckets := make(map[string]map[domain.Period]cell)
	var first, last domain.Period

	for i, s := range samples {
		p := domain.PeriodOf(s.At, g)
		if first.IsZero() || p.Before(first) {
			first = p
		}
		if last.IsZero() || last.Before(p) {
			last = p
		}

		perCode := buckets[s.NISCode]
		if perCode == nil {
			perCode = make(map[domain.Period]cell)
			buckets[s.NISCode] = perCode
		}

		c, seen := perCode[p]
		switch policy {
		case PolicySum:
			c.value += s.Value
		case PolicyLast:
			if !seen || !samples[i].At.Before(samples[c.latest].At) {
				c.value = s.Value
				c.latest = i
			}
		}
		perCode[p] = c
	}

	codes := make([]string, 0, len(buckets))
	for code := range buckets {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []domain.Observation
	for _, code := range codes {
		perCode := buckets[code]
		for p := first; !last.Before(p); p = p.Next() {
			obs := domain.Observation{NISCode: code, Period: p}
			if c, ok := perCode[p]; ok {
				obs.Value = domain.Float(c.value)
			}
			out = append(out, obs)
		}
	}
	return out, nil
}

// Index arranges observations for constant-time panel lookup.
func Index(observations []domain.Observation) map[string]map[domain.Period]*float64 {
	idx := make(map[string]map[domain.Period]*float64)
	for _, obs := range observations {
		perCode := idx[obs.NISCode]
		if perCode == nil {
			perCode = make(map[domain.Period]*float64)
			idx[obs.NISCode] = perCode
		}
		perCode[obs.Period] = obs.Value
	}
	return idx
}
