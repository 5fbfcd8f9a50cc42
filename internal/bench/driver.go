// Package bench drives a key-value backend through the write, read and
// mixed phases and collects per-operation latency samples.
//
// Execution is single-threaded and synchronous: each operation is issued
// and awaited in turn, so the numbers are single-client latency, not
// throughput under contention. There is no per-operation timeout. A backend
// call that hangs hangs the run; cancellation is only observed between
// iterations.
package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	kerrors "github.com/kvlat/kvlat/internal/errors"
	"github.com/kvlat/kvlat/internal/latency"
	"github.com/kvlat/kvlat/internal/payload"
)

// Backend is the subset of backend.Backend the driver needs.
type Backend interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
}

// Phase names a block of iterations with one access pattern.
type Phase string

const (
	PhaseWrite Phase = "write"
	PhaseRead  Phase = "read"
	PhaseMixed Phase = "mixed"
)

// State is the driver lifecycle position.
type State int

const (
	StateIdle State = iota
	StateWritePhase
	StateReadPhase
	StateMixedPhase
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWritePhase:
		return "write-phase"
	case StateReadPhase:
		return "read-phase"
	case StateMixedPhase:
		return "mixed-phase"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the run parameters. All three must be positive.
type Config struct {
	Iterations  int `json:"iterations" yaml:"iterations"`
	KeyLength   int `json:"key_length" yaml:"key_length"`
	ValueLength int `json:"value_length" yaml:"value_length"`
}

// Validate reports the first non-positive field.
func (c Config) Validate() error {
	if c.Iterations <= 0 {
		return kerrors.NewConfigError("iterations must be positive, got %d", c.Iterations)
	}
	if c.KeyLength <= 0 {
		return kerrors.NewConfigError("key length must be positive, got %d", c.KeyLength)
	}
	if c.ValueLength <= 0 {
		return kerrors.NewConfigError("value length must be positive, got %d", c.ValueLength)
	}
	return nil
}

// Observer is notified of every sample and every failed operation as the
// run progresses. It must not block.
type Observer interface {
	OnSample(phase Phase, sample latency.Sample)
	OnFailure(phase Phase, op latency.OpKind, err error)
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger for phase progress and aborts.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithGenerator sets the payload generator, which also drives key
// selection. Use a seeded generator for reproducible key streams.
func WithGenerator(gen *payload.Generator) Option {
	return func(d *Driver) { d.gen = gen }
}

// WithClock replaces the monotonic clock for both samples and phase timing.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
		d.sampler = latency.NewSamplerWithClock(now)
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observers = append(d.observers, o) }
}

// WithBackendName labels results, logs and metrics.
func WithBackendName(name string) Option {
	return func(d *Driver) { d.backendName = name }
}

// Driver runs a single benchmark. It is not reusable: after Run returns,
// the driver is Done or Aborted. The backend stays owned by the caller.
type Driver struct {
	backend     Backend
	backendName string
	cfg         Config
	gen         *payload.Generator
	sampler     *latency.Sampler
	now         func() time.Time
	logger      *zap.Logger
	observers   []Observer

	state State
	keys  *KeySet
}

// New validates cfg and creates an idle driver.
func New(b Backend, cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, kerrors.NewConfigError("backend is required")
	}

	d := &Driver{
		backend:     b,
		backendName: "unnamed",
		cfg:         cfg,
		gen:         payload.NewGenerator(),
		sampler:     latency.NewSampler(),
		now:         time.Now,
		logger:      zap.NewNop(),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return d.state
}

// Keys exposes the key set written so far.
func (d *Driver) Keys() *KeySet {
	return d.keys
}

// Run executes the write, read and mixed phases in order. On any failure
// the run aborts and no Result is returned; the error carries the phase,
// op and 1-based iteration in its details.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if d.state != StateIdle {
		return nil, kerrors.NewRunError(kerrors.CodeInvalidState,
			fmt.Sprintf("driver already ran (state %s)", d.state), nil)
	}

	n := d.cfg.Iterations
	d.keys = NewKeySet(2 * n)
	res := &Result{
		RunID:     uuid.New().String(),
		Backend:   d.backendName,
		Config:    d.cfg,
		StartedAt: time.Now(),
	}
	start := d.now()

	d.logger.Info("starting benchmark",
		zap.String("run_id", res.RunID),
		zap.String("backend", d.backendName),
		zap.Int("iterations", n),
		zap.Int("key_length", d.cfg.KeyLength),
		zap.Int("value_length", d.cfg.ValueLength))

	writes := make([]latency.Sample, 0, n)
	d.state = StateWritePhase
	elapsed, err := d.runPhase(ctx, PhaseWrite, func(i int) error {
		s, err := d.write(PhaseWrite, i)
		if err != nil {
			return err
		}
		writes = append(writes, s)
		return nil
	})
	if err != nil {
		return nil, d.abort(err)
	}
	res.Write = d.phaseResult("write", PhaseWrite, latency.OpWrite, writes, elapsed, start)

	reads := make([]latency.Sample, 0, n)
	d.state = StateReadPhase
	elapsed, err = d.runPhase(ctx, PhaseRead, func(i int) error {
		s, err := d.read(PhaseRead, i)
		if err != nil {
			return err
		}
		reads = append(reads, s)
		return nil
	})
	if err != nil {
		return nil, d.abort(err)
	}
	res.Read = d.phaseResult("read", PhaseRead, latency.OpRead, reads, elapsed, start)

	mixedWrites := make([]latency.Sample, 0, n)
	mixedReads := make([]latency.Sample, 0, n)
	d.state = StateMixedPhase
	elapsed, err = d.runPhase(ctx, PhaseMixed, func(i int) error {
		ws, err := d.write(PhaseMixed, i)
		if err != nil {
			return err
		}
		mixedWrites = append(mixedWrites, ws)

		rs, err := d.read(PhaseMixed, i)
		if err != nil {
			return err
		}
		mixedReads = append(mixedReads, rs)
		return nil
	})
	if err != nil {
		return nil, d.abort(err)
	}
	res.MixedWrite = d.phaseResult("mixed-write", PhaseMixed, latency.OpWrite, mixedWrites, elapsed, start)
	res.MixedRead = d.phaseResult("mixed-read", PhaseMixed, latency.OpRead, mixedReads, elapsed, start)

	res.Elapsed = d.now().Sub(start)
	res.DistinctKeys = d.keys.Distinct()
	d.state = StateDone

	d.logger.Info("benchmark complete",
		zap.String("run_id", res.RunID),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("keys", d.keys.Len()),
		zap.Int("distinct_keys", res.DistinctKeys))
	return res, nil
}

// runPhase calls step for iterations 0..N-1, checking ctx between them.
func (d *Driver) runPhase(ctx context.Context, phase Phase, step func(i int) error) (time.Duration, error) {
	d.logger.Info("phase started", zap.String("phase", string(phase)), zap.Int("iterations", d.cfg.Iterations))
	start := d.now()

	for i := 0; i < d.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, kerrors.NewRunError(kerrors.CodeAborted, "run cancelled", err).
				WithDetails(map[string]interface{}{"phase": string(phase), "iteration": i + 1})
		}
		if err := step(i); err != nil {
			return 0, err
		}
	}

	elapsed := d.now().Sub(start)
	d.logger.Info("phase finished", zap.String("phase", string(phase)), zap.Duration("elapsed", elapsed))
	return elapsed, nil
}

// write generates a fresh pair, times its Put and records the key.
func (d *Driver) write(phase Phase, i int) (latency.Sample, error) {
	key, err := d.gen.Generate(d.cfg.KeyLength)
	if err != nil {
		return latency.Sample{}, err
	}
	value, err := d.gen.Generate(d.cfg.ValueLength)
	if err != nil {
		return latency.Sample{}, err
	}

	s, err := d.sampler.Measure(latency.OpWrite, func() error {
		return d.backend.Put(key, value)
	})
	if err != nil {
		return latency.Sample{}, d.opFailure(phase, latency.OpWrite, i, err)
	}

	d.keys.Add(key)
	d.observe(phase, s)
	return s, nil
}

// read times a Get of a key drawn uniformly from those already written.
func (d *Driver) read(phase Phase, i int) (latency.Sample, error) {
	key, ok := d.keys.Pick(d.gen)
	if !ok {
		return latency.Sample{}, kerrors.NewRunError(kerrors.CodeInvalidState, "read issued before any write", nil).
			WithDetails(map[string]interface{}{"phase": string(phase), "iteration": i + 1})
	}

	s, err := d.sampler.Measure(latency.OpRead, func() error {
		_, err := d.backend.Get(key)
		return err
	})
	if err != nil {
		return latency.Sample{}, d.opFailure(phase, latency.OpRead, i, err)
	}

	d.observe(phase, s)
	return s, nil
}

// opFailure annotates a backend failure with where it happened, keeping
// the backend's own category and code when it has one.
func (d *Driver) opFailure(phase Phase, op latency.OpKind, i int, err error) error {
	for _, o := range d.observers {
		o.OnFailure(phase, op, err)
	}

	details := map[string]interface{}{
		"phase":     string(phase),
		"op":        opName(op),
		"iteration": i + 1,
		"backend":   d.backendName,
	}

	var ke *kerrors.KvlatError
	if errors.As(err, &ke) && ke.Category == kerrors.ErrCategoryBackend {
		return ke.WithDetails(details)
	}

	code := kerrors.CodePutFailed
	if op == latency.OpRead {
		code = kerrors.CodeGetFailed
	}
	return kerrors.NewBackendError(code, opName(op)+" failed", err).WithDetails(details)
}

func (d *Driver) abort(err error) error {
	failed := d.state
	d.state = StateAborted

	fields := []zap.Field{zap.Error(err), zap.Stringer("state", failed)}
	for k, v := range kerrors.GetDetails(err) {
		fields = append(fields, zap.Any(k, v))
	}
	d.logger.Error("benchmark aborted", fields...)
	return err
}

func (d *Driver) observe(phase Phase, s latency.Sample) {
	for _, o := range d.observers {
		o.OnSample(phase, s)
	}
}

func (d *Driver) phaseResult(name string, phase Phase, op latency.OpKind, samples []latency.Sample, elapsed time.Duration, runStart time.Time) PhaseResult {
	return PhaseResult{
		name:       name,
		phase:      phase,
		op:         op,
		samples:    samples,
		elapsed:    elapsed,
		sinceStart: d.now().Sub(runStart),
	}
}

func opName(op latency.OpKind) string {
	if op == latency.OpRead {
		return "get"
	}
	return "put"
}
