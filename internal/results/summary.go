// Package results turns a completed run into a printable and serialisable
// summary, and publishes summaries to object storage.
package results

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kvlat/kvlat/internal/bench"
)

// Summary is the stable, serialisable view of a run. Latencies are in
// microseconds.
type Summary struct {
	RunID        string         `json:"run_id"`
	Backend      string         `json:"backend"`
	Durable      bool           `json:"durable"`
	Compression  bool           `json:"compression"`
	Iterations   int            `json:"iterations"`
	KeyLength    int            `json:"key_length"`
	ValueLength  int            `json:"value_length"`
	StartedAt    time.Time      `json:"started_at"`
	ElapsedUS    float64        `json:"elapsed_us"`
	DistinctKeys int            `json:"distinct_keys"`
	Phases       []PhaseSummary `json:"phases"`
}

// PhaseSummary holds the statistics of one phase result.
type PhaseSummary struct {
	Name         string  `json:"name"`
	Op           string  `json:"op"`
	Count        int     `json:"count"`
	MeanUS       float64 `json:"mean_us"`
	MinUS        float64 `json:"min_us"`
	P50US        float64 `json:"p50_us"`
	P90US        float64 `json:"p90_us"`
	P99US        float64 `json:"p99_us"`
	MaxUS        float64 `json:"max_us"`
	ElapsedUS    float64 `json:"elapsed_us"`
	SinceStartUS float64 `json:"since_start_us"`
}

// Meta carries run settings the driver does not know about.
type Meta struct {
	Durable     bool
	Compression bool
}

// Build summarises res.
func Build(res *bench.Result, meta Meta) (*Summary, error) {
	s := &Summary{
		RunID:        res.RunID,
		Backend:      res.Backend,
		Durable:      meta.Durable,
		Compression:  meta.Compression,
		Iterations:   res.Config.Iterations,
		KeyLength:    res.Config.KeyLength,
		ValueLength:  res.Config.ValueLength,
		StartedAt:    res.StartedAt.UTC(),
		ElapsedUS:    micros(res.Elapsed),
		DistinctKeys: res.DistinctKeys,
	}

	for _, p := range res.Phases() {
		rep, err := p.Report()
		if err != nil {
			return nil, fmt.Errorf("summarising %s: %w", p.Name(), err)
		}
		s.Phases = append(s.Phases, PhaseSummary{
			Name:         p.Name(),
			Op:           string(p.Op()),
			Count:        rep.Count(),
			MeanUS:       micros(rep.Mean()),
			MinUS:        micros(rep.Min()),
			P50US:        micros(rep.MustPercentile(50)),
			P90US:        micros(rep.MustPercentile(90)),
			P99US:        micros(rep.MustPercentile(99)),
			MaxUS:        micros(rep.Max()),
			ElapsedUS:    micros(p.Elapsed()),
			SinceStartUS: micros(p.SinceStart()),
		})
	}
	return s, nil
}

// Phase returns the named phase summary.
func (s *Summary) Phase(name string) (PhaseSummary, bool) {
	for _, p := range s.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseSummary{}, false
}

// WriteJSON writes s as indented JSON.
func WriteJSON(w io.Writer, s *Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteBanner prints the run parameters before any phase starts.
func WriteBanner(w io.Writer, backend string, cfg bench.Config, meta Meta) {
	fmt.Fprintf(w, "Starting %s benchmark\n", backend)
	fmt.Fprintf(w, "Iterations: %d\n", cfg.Iterations)
	fmt.Fprintf(w, "Key length: %d\n", cfg.KeyLength)
	fmt.Fprintf(w, "Value length: %d\n", cfg.ValueLength)
	fmt.Fprintf(w, "Durable writes: %v\n", meta.Durable)
	if meta.Compression {
		fmt.Fprintf(w, "Compression: snappy\n")
	}
}

// WriteText prints the human-readable report: one block per phase with
// average and p90 latency, the phase's own duration and the time since
// the run started.
func WriteText(w io.Writer, s *Summary) {
	blocks := []struct {
		title string
		names []string
	}{
		{"Write Test Results", []string{"write"}},
		{"Read Test Results", []string{"read"}},
		{"Read and Write Test Results", []string{"mixed-write", "mixed-read"}},
	}

	for _, b := range blocks {
		fmt.Fprintf(w, "\n%s:\n", b.title)
		var elapsed, sinceStart float64
		for _, name := range b.names {
			p, ok := s.Phase(name)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  Average %s latency: %.2f mus\n", p.Op, p.MeanUS)
			fmt.Fprintf(w, "  P90 %s latency: %.2f mus\n", p.Op, p.P90US)
			fmt.Fprintf(w, "  P99 %s latency: %.2f mus (p50 %.2f, min %.2f, max %.2f)\n", p.Op, p.P99US, p.P50US, p.MinUS, p.MaxUS)
			elapsed, sinceStart = p.ElapsedUS, p.SinceStartUS
		}
		fmt.Fprintf(w, "  Phase time: %s\n", fromMicros(elapsed))
		fmt.Fprintf(w, "  Total time: %s\n", fromMicros(sinceStart))
	}

	fmt.Fprintf(w, "\nTotal time to run tests: %s\n", fromMicros(s.ElapsedUS))
	if s.DistinctKeys < 2*s.Iterations {
		fmt.Fprintf(w, "Note: %d key collisions overwrote earlier writes\n", 2*s.Iterations-s.DistinctKeys)
	}
	fmt.Fprintf(w, "Run ID: %s\n", s.RunID)
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

func fromMicros(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond)).Round(time.Microsecond)
}
