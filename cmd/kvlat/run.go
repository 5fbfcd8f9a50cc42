package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kvlat/kvlat/internal/backend"
	"github.com/kvlat/kvlat/internal/bench"
	"github.com/kvlat/kvlat/internal/config"
	"github.com/kvlat/kvlat/internal/journal"
	"github.com/kvlat/kvlat/internal/payload"
	"github.com/kvlat/kvlat/internal/results"
	"github.com/kvlat/kvlat/internal/storage"
	"github.com/kvlat/kvlat/internal/telemetry"
)

type runFlags struct {
	backend     string
	iterations  int
	keyLength   int
	valueLength int
	durable     bool
	compression bool
	seed        uint64
	metricsAddr string
	publish     string
	publishPath string
	format      string
	noHistory   bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the write, read and mixed phases against one backend",
		Args:  cobra.NoArgs,
		Example: `  kvlat run --backend memory --iterations 10000
  kvlat run --backend leveldb --durable --compression
  ITERATIONS=1000 kvlat run --backend sqlite --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			cfg.Resolve()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if f.format != "text" && f.format != "json" {
				return fmt.Errorf("invalid --format %q (must be text or json)", f.format)
			}
			return runBenchmark(cmd.Context(), cmd.OutOrStdout(), cfg, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.backend, "backend", "b", "", "backend to benchmark (see \"kvlat backends\")")
	fl.IntVarP(&f.iterations, "iterations", "n", 0, "iterations per phase")
	fl.IntVar(&f.keyLength, "key-length", 0, "key length in bytes")
	fl.IntVar(&f.valueLength, "value-length", 0, "value length in bytes")
	fl.BoolVar(&f.durable, "durable", false, "sync every write to stable storage")
	fl.BoolVar(&f.compression, "compression", false, "enable snappy compression")
	fl.Uint64Var(&f.seed, "seed", 0, "seed for reproducible keys and values; 0 is random")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	fl.StringVar(&f.publish, "publish", "", "publish the JSON summary: none, local or s3")
	fl.StringVar(&f.publishPath, "publish-path", "", "root directory for --publish local")
	fl.StringVar(&f.format, "format", "text", "report format: text or json")
	fl.BoolVar(&f.noHistory, "no-history", false, "do not record the run in the history journal")
	return cmd
}

// apply overrides cfg with the flags the user set explicitly.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("backend") {
		cfg.Backend = f.backend
	}
	if fl.Changed("iterations") {
		cfg.Iterations = f.iterations
	}
	if fl.Changed("key-length") {
		cfg.KeyLength = f.keyLength
	}
	if fl.Changed("value-length") {
		cfg.ValueLength = f.valueLength
	}
	if fl.Changed("durable") {
		cfg.Durable = f.durable
	}
	if fl.Changed("compression") {
		cfg.Compression = f.compression
	}
	if fl.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fl.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fl.Changed("publish") {
		cfg.Publish.Type = f.publish
	}
	if fl.Changed("publish-path") {
		cfg.Publish.Path = f.publishPath
	}
}

// loadConfig layers file, .env and environment, then the global flags.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configFile, g.envFile)
	if err != nil {
		return nil, err
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, nil
}

func runBenchmark(ctx context.Context, out io.Writer, cfg *config.Config, f *runFlags) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry.SetBuildInfo(version, commit)
	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	b, err := backend.Open(cfg.Backend, backend.Options{
		Path:        cfg.BackendPath(),
		Durable:     cfg.Durable,
		Compression: cfg.Compression,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("closing backend", zap.String("backend", cfg.Backend), zap.Error(err))
		}
	}()

	opts := []bench.Option{
		bench.WithLogger(logger),
		bench.WithBackendName(cfg.Backend),
		bench.WithObserver(telemetry.NewRecorder(cfg.Backend)),
	}
	if cfg.Seed != 0 {
		opts = append(opts, bench.WithGenerator(payload.NewSeededGenerator(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)))
	}

	driver, err := bench.New(b, cfg.Bench(), opts...)
	if err != nil {
		return err
	}

	meta := results.Meta{Durable: cfg.Durable, Compression: cfg.Compression}
	if f.format == "text" {
		results.WriteBanner(out, cfg.Backend, cfg.Bench(), meta)
	}

	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	summary, err := results.Build(res, meta)
	if err != nil {
		return err
	}
	if f.format == "json" {
		if err := results.WriteJSON(out, summary); err != nil {
			return err
		}
	} else {
		results.WriteText(out, summary)
	}

	if !f.noHistory {
		if err := recordHistory(cfg, summary, logger); err != nil {
			logger.Warn("recording run history", zap.Error(err))
		}
	}

	if cfg.Publish.Type != config.PublishNone {
		if err := publish(ctx, cfg, summary, logger); err != nil {
			return err
		}
	}
	return nil
}

func recordHistory(cfg *config.Config, s *results.Summary, logger *zap.Logger) error {
	j, err := journal.Open(cfg.HistoryDir, journal.DefaultMaxSegmentSize, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	seq, err := j.Append(&journal.Record{Summary: *s})
	if err != nil {
		return err
	}
	logger.Debug("run recorded", zap.Uint64("seq", seq), zap.String("run_id", s.RunID))
	return nil
}

func publish(ctx context.Context, cfg *config.Config, s *results.Summary, logger *zap.Logger) error {
	store, err := newObjectStorage(ctx, cfg)
	if err != nil {
		return err
	}
	objectPath, err := results.NewPublisher(store, logger).Publish(ctx, s)
	if err != nil {
		return err
	}
	logger.Info("report published", zap.String("type", cfg.Publish.Type), zap.String("object", objectPath))
	return nil
}

func newObjectStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Publish.Type {
	case config.PublishLocal:
		return storage.NewLocalStorage(cfg.Publish.Path)
	case config.PublishS3:
		s3cfg := storage.DefaultS3Config()
		if cfg.Publish.S3.Region != "" {
			s3cfg.Region = cfg.Publish.S3.Region
		}
		if cfg.Publish.S3.Endpoint != "" {
			s3cfg.Endpoint = cfg.Publish.S3.Endpoint
			s3cfg.UsePathStyle = true
		}
		return storage.NewS3Storage(ctx, cfg.Publish.S3.Bucket, s3cfg)
	default:
		return nil, fmt.Errorf("unsupported publish type: %s", cfg.Publish.Type)
	}
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
