package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	kws "github.com/cortexswarm/kws-go"
	"github.com/cortexswarm/kws-go/internal/observe"
	"github.com/cortexswarm/kws-go/predlog"
)

const shutdownTimeout = 5 * time.Second

// addPipelineFlags registers the flags shared by listen and replay.
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("model", "", "ONNX keyword model (overrides model.path)")
	f.String("labels", "", "label file, one keyword per line (overrides model.labels_path)")
	f.String("onnxruntime-lib", "", "onnxruntime shared library; empty resolves the bundled one")
	f.String("sensitivity", "", "threshold preset: quiet, normal, noisy or custom")
	f.Float64("energy-threshold", 0, "explicit energy threshold (requires --probability-threshold)")
	f.Float64("probability-threshold", 0, "explicit probability threshold (requires --energy-threshold)")
	f.Int("top-k", 0, "number of ranked results to report")
	f.Int("hop-size", 0, "samples admitted per cycle")
	f.String("prediction-log", "", "append accepted predictions to this JSON-lines file")
	f.String("postgres-dsn", "", "also write accepted predictions to PostgreSQL")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
}

// pipelineConfig loads --config (or the defaults) and applies flag overrides.
func (a *app) pipelineConfig() (kws.Config, error) {
	cfg := kws.DefaultConfig()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := kws.LoadConfig(path)
		if err != nil {
			return kws.Config{}, err
		}
		cfg = loaded
	}
	if a.v.IsSet("model") {
		cfg.Model.Path = a.v.GetString("model")
	}
	if a.v.IsSet("labels") {
		cfg.Model.LabelsPath = a.v.GetString("labels")
	}
	if a.v.IsSet("sensitivity") {
		cfg.Sensitivity = kws.Sensitivity(strings.ToLower(a.v.GetString("sensitivity")))
	}
	if a.v.IsSet("energy-threshold") {
		cfg.EnergyThreshold = a.v.GetFloat64("energy-threshold")
	}
	if a.v.IsSet("probability-threshold") {
		cfg.ProbabilityThreshold = a.v.GetFloat64("probability-threshold")
	}
	if a.v.IsSet("top-k") {
		cfg.TopK = a.v.GetInt("top-k")
	}
	if a.v.IsSet("hop-size") {
		cfg.HopSize = a.v.GetInt("hop-size")
	}
	if err := cfg.Validate(); err != nil {
		return kws.Config{}, err
	}
	return cfg, nil
}

// runPipeline loads the model, starts a controller on src and blocks until
// ctx is cancelled or the source ends.
func (a *app) runPipeline(ctx context.Context, cmd *cobra.Command, cfg kws.Config, src kws.Source) error {
	if cfg.Model.Path == "" {
		return errors.New("no model: set --model or model.path")
	}
	if cfg.Model.LabelsPath == "" {
		return errors.New("no labels: set --labels or model.labels_path")
	}
	labels, err := kws.LoadLabels(cfg.Model.LabelsPath)
	if err != nil {
		return err
	}

	if err := kws.InitRuntime(a.v.GetString("onnxruntime-lib")); err != nil {
		return err
	}
	defer func() {
		if err := kws.DestroyRuntime(); err != nil {
			a.log.WithError(err).Warn("destroying onnxruntime environment")
		}
	}()
	engine, err := kws.NewONNXEngine(cfg, labels)
	if err != nil {
		return err
	}
	defer engine.Close()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("metrics provider: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = provider.Shutdown(sctx)
	}()

	opts := []kws.Option{kws.WithLogger(a.log), kws.WithMeterProvider(provider.MeterProvider)}
	sinks, closeSinks, err := a.openSinks(ctx)
	if err != nil {
		return err
	}
	defer closeSinks()
	if len(sinks) > 0 {
		opts = append(opts, kws.WithPredictionSink(multiSink(sinks)))
	}

	out := cmd.OutOrStdout()
	cb := kws.Callbacks{
		OnSpeechStart: func() { a.log.Debug("speech start") },
		OnSpeechEnd:   func() { a.log.Debug("speech end") },
		OnResults: func(ranked []kws.Result) {
			parts := make([]string, len(ranked))
			for i, r := range ranked {
				parts[i] = fmt.Sprintf("%s %.3f", r.Label, r.Confidence)
			}
			fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), strings.Join(parts, ", "))
		},
		OnError: func(err error) { a.log.WithError(err).Error("pipeline error") },
	}
	ctrl, err := kws.New(cfg, src, engine, cb, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: provider.Mux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.log.WithField("addr", addr).Info("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if status := ctrl.Start(); status != kws.StartOK {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("capture not started: %s", status)
	}

	g.Go(func() error {
		defer cancel()
		stopped := make(chan error, 1)
		go func() { stopped <- ctrl.Wait() }()
		var err error
		select {
		case <-gctx.Done():
			err = ctrl.Stop()
		case err = <-stopped:
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// openSinks opens the prediction log file and the PostgreSQL sink when
// configured. The returned func closes whatever was opened.
func (a *app) openSinks(ctx context.Context) ([]kws.PredictionSink, func(), error) {
	var sinks []kws.PredictionSink
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if path := a.v.GetString("prediction-log"); path != "" {
		fs, err := predlog.OpenFile(path)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, fs)
		closers = append(closers, func() { _ = fs.Close() })
	}

	if dsn := a.v.GetString("postgres-dsn"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("postgres: %w", err)
		}
		ps := predlog.NewPostgresSink(pool, predlog.WithLogger(a.log))
		closers = append(closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := ps.Close(sctx); err != nil {
				a.log.WithError(err).Warn("flushing predictions")
			}
			pool.Close()
		})
		if err := ps.Migrate(ctx); err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, ps)
	}
	return sinks, closeAll, nil
}

// multiSink fans one record out to several sinks and joins their errors.
type multiSink []kws.PredictionSink

func (m multiSink) Append(ctx context.Context, rec kws.PredictionRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
