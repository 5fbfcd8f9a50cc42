package bench

import (
	"time"

	"github.com/kvlat/kvlat/internal/latency"
)

// PhaseResult is the ordered set of samples one phase produced for one
// operation kind. It is immutable once returned by the driver.
type PhaseResult struct {
	name       string
	phase      Phase
	op         latency.OpKind
	samples    []latency.Sample
	elapsed    time.Duration
	sinceStart time.Duration
}

// Name identifies the result: write, read, mixed-write or mixed-read.
func (p PhaseResult) Name() string { return p.name }

// Phase returns the phase that produced the samples.
func (p PhaseResult) Phase() Phase { return p.phase }

// Op returns the operation kind sampled.
func (p PhaseResult) Op() latency.OpKind { return p.op }

// Len returns the number of samples.
func (p PhaseResult) Len() int { return len(p.samples) }

// Samples returns a copy of the samples in recording order.
func (p PhaseResult) Samples() []latency.Sample {
	out := make([]latency.Sample, len(p.samples))
	copy(out, p.samples)
	return out
}

// Elapsed is the wall time the phase took, sampling overhead included.
func (p PhaseResult) Elapsed() time.Duration { return p.elapsed }

// SinceStart is the time from run start to the end of the phase.
func (p PhaseResult) SinceStart() time.Duration { return p.sinceStart }

// Report summarises the samples.
func (p PhaseResult) Report() (*latency.Report, error) {
	return latency.NewReport(p.samples)
}

// Result is the outcome of a completed run. A run that aborted has no
// Result.
type Result struct {
	RunID        string
	Backend      string
	Config       Config
	StartedAt    time.Time
	Elapsed      time.Duration
	DistinctKeys int

	Write      PhaseResult
	Read       PhaseResult
	MixedWrite PhaseResult
	MixedRead  PhaseResult
}

// Phases returns the four results in execution order.
func (r *Result) Phases() []PhaseResult {
	return []PhaseResult{r.Write, r.Read, r.MixedWrite, r.MixedRead}
}

// Reports summarises every phase result, keyed by result name.
func (r *Result) Reports() (map[string]*latency.Report, error) {
	out := make(map[string]*latency.Report, 4)
	for _, p := range r.Phases() {
		rep, err := p.Report()
		if err != nil {
			return nil, err
		}
		out[p.Name()] = rep
	}
	return out, nil
}
