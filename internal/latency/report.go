package latency

import (
	"math"
	"slices"
	"time"

	kerrors "github.com/kvlat/kvlat/internal/errors"
)

// Report holds summary statistics over a non-empty set of samples.
//
// Percentiles use the nearest-rank method: for n samples sorted ascending,
// percentile p is the sample at 1-based rank ceil(p/100 * n), with the rank
// clamped to [1, n]. Percentile(0) is therefore the minimum and
// Percentile(100) the maximum.
type Report struct {
	sorted []time.Duration
	total  time.Duration
}

// NewReport builds a report from samples. The input is copied.
func NewReport(samples []Sample) (*Report, error) {
	if len(samples) == 0 {
		return nil, kerrors.NewReportError(kerrors.CodeEmptySampleSet, "cannot summarise zero samples")
	}

	sorted := make([]time.Duration, len(samples))
	var total time.Duration
	for i, s := range samples {
		sorted[i] = s.Duration
		total += s.Duration
	}
	slices.Sort(sorted)

	return &Report{sorted: sorted, total: total}, nil
}

// NewReportFromDurations is NewReport for bare durations.
func NewReportFromDurations(durations []time.Duration) (*Report, error) {
	samples := make([]Sample, len(durations))
	for i, d := range durations {
		samples[i] = Sample{Duration: d}
	}
	return NewReport(samples)
}

// Count returns the number of samples.
func (r *Report) Count() int {
	return len(r.sorted)
}

// Total returns the sum of all sample durations.
func (r *Report) Total() time.Duration {
	return r.total
}

// Mean returns the arithmetic mean, truncated to the nanosecond.
func (r *Report) Mean() time.Duration {
	return r.total / time.Duration(len(r.sorted))
}

// Min returns the smallest sample.
func (r *Report) Min() time.Duration {
	return r.sorted[0]
}

// Max returns the largest sample.
func (r *Report) Max() time.Duration {
	return r.sorted[len(r.sorted)-1]
}

// Percentile returns the nearest-rank percentile p, with p in [0, 100].
func (r *Report) Percentile(p float64) (time.Duration, error) {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return 0, kerrors.NewValidationError(kerrors.CodeInvalidPercentile, "percentile must be within [0, 100]").
			WithDetails(map[string]interface{}{"percentile": p})
	}

	n := len(r.sorted)
	// p*n first keeps integral percentiles exact.
	rank := int(math.Ceil(p * float64(n) / 100))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return r.sorted[rank-1], nil
}

// MustPercentile is Percentile for constant, known-valid p.
func (r *Report) MustPercentile(p float64) time.Duration {
	d, err := r.Percentile(p)
	if err != nil {
		panic(err)
	}
	return d
}
