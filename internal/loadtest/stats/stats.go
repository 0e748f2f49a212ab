// Package stats turns raw sample sequences into summary statistics.
package stats

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptyDataset is returned by Compute when there is nothing to summarize.
var ErrEmptyDataset = errors.New("dataset cannot be empty")

// Percentiles is the fixed percentile set reported for every statistic, in
// report order.
var Percentiles = []float64{2.5, 50, 75, 90, 97.5, 99, 99.9, 99.99, 99.999}

// PerformanceStats is a statistical summary of one sample sequence.
type PerformanceStats struct {
	Min     float64 `json:"min" yaml:"min"`         // The lowest value for this statistic.
	Max     float64 `json:"max" yaml:"max"`         // The highest value for this statistic.
	Average float64 `json:"average" yaml:"average"` // The mean value.
	StdDev  float64 `json:"stddev" yaml:"stddev"`   // Population standard deviation.
	P2_5    float64 `json:"p2_5" yaml:"p2_5"`
	P50     float64 `json:"p50" yaml:"p50"`
	P75     float64 `json:"p75" yaml:"p75"`
	P90     float64 `json:"p90" yaml:"p90"`
	P97_5   float64 `json:"p97_5" yaml:"p97_5"`
	P99     float64 `json:"p99" yaml:"p99"`
	P99_9   float64 `json:"p99_9" yaml:"p99_9"`
	P99_99  float64 `json:"p99_99" yaml:"p99_99"`
	P99_999 float64 `json:"p99_999" yaml:"p99_999"`
	Count   int     `json:"count" yaml:"count"`
}

// Compute summarizes data.
//
// The input slice is not modified; a sorted copy is used for the order
// statistics. Percentiles use linear interpolation between the two closest
// ranks, so the result depends only on the multiset of values.
func Compute(data []float64) (PerformanceStats, error) {
	n := len(data)
	if n == 0 {
		return PerformanceStats{}, ErrEmptyDataset
	}

	sorted := make([]float64, n)
	copy(sorted, data)
	sort.Float64s(sorted)

	var sum float64
	for _, x := range sorted {
		sum += x
	}
	mean := sum / float64(n)

	var sq float64
	for _, x := range sorted {
		d := x - mean
		sq += d * d
	}

	p := make([]float64, len(Percentiles))
	for i, pct := range Percentiles {
		p[i] = Percentile(sorted, pct)
	}

	return PerformanceStats{
		Min:     sorted[0],
		Max:     sorted[n-1],
		Average: mean,
		StdDev:  math.Sqrt(sq / float64(n)),
		P2_5:    p[0],
		P50:     p[1],
		P75:     p[2],
		P90:     p[3],
		P97_5:   p[4],
		P99:     p[5],
		P99_9:   p[6],
		P99_99:  p[7],
		P99_999: p[8],
		Count:   n,
	}, nil
}

// Percentile returns the pct-th percentile of data, which must already be
// sorted ascending and non-empty.
func Percentile(sorted []float64, pct float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	rank := (pct / 100) * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}

	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Values returns the percentile values in the same order as Percentiles.
func (s PerformanceStats) Values() []float64 {
	return []float64{s.P2_5, s.P50, s.P75, s.P90, s.P97_5, s.P99, s.P99_9, s.P99_99, s.P99_999}
}
