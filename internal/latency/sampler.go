// Package latency measures individual operations and summarises the
// resulting durations.
package latency

import "time"

// OpKind identifies the kind of operation a sample was taken for.
type OpKind string

const (
	OpWrite OpKind = "write"
	OpRead  OpKind = "read"
)

// Sample is a single measured operation.
type Sample struct {
	Op       OpKind
	Duration time.Duration
}

// Sampler times operations against a clock. The default clock is
// time.Now, whose readings carry the monotonic clock, so wall clock steps
// during a long run do not skew samples.
type Sampler struct {
	now func() time.Time
}

// NewSampler creates a sampler backed by the monotonic clock.
func NewSampler() *Sampler {
	return &Sampler{now: time.Now}
}

// NewSamplerWithClock creates a sampler that reads time from now.
// Intended for tests that need deterministic durations.
func NewSamplerWithClock(now func() time.Time) *Sampler {
	return &Sampler{now: now}
}

// Measure invokes fn and returns how long it took. If fn fails, its error
// is returned unchanged and no sample is produced.
func (s *Sampler) Measure(op OpKind, fn func() error) (Sample, error) {
	start := s.now()
	err := fn()
	elapsed := s.now().Sub(start)
	if err != nil {
		return Sample{}, err
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return Sample{Op: op, Duration: elapsed}, nil
}
