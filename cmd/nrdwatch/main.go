// Command nrdwatch runs the domain surveillance pipeline.
//
// Usage:
//
//	nrdwatch -mode run -config nrdwatch.yaml   # full pipeline: ingest, classify, scan, capture
//	nrdwatch -mode ingest -window 3            # fetch the last 3 feed days only
//	nrdwatch -mode scan -progress              # scan candidates with a progress bar
//	nrdwatch -mode serve                       # HTTP API + scheduled pipeline runs
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	_ "modernc.org/sqlite"

	"github.com/csirt-za/nrdwatch/internal/api"
	"github.com/csirt-za/nrdwatch/internal/capture"
	"github.com/csirt-za/nrdwatch/internal/classify"
	"github.com/csirt-za/nrdwatch/internal/config"
	"github.com/csirt-za/nrdwatch/internal/feed"
	"github.com/csirt-za/nrdwatch/internal/ledger"
	"github.com/csirt-za/nrdwatch/internal/metrics"
	"github.com/csirt-za/nrdwatch/internal/registry"
	"github.com/csirt-za/nrdwatch/internal/scan"
)

func main() {
	mode := flag.String("mode", "run", "ingest | classify | scan | capture | run | serve")
	configPath := flag.String("config", env("NRDWATCH_CONFIG", ""), "path to nrdwatch.yaml (defaults apply when empty)")
	addr := flag.String("addr", env("NRDWATCH_ADDR", ""), "listen address for serve mode (overrides config)")
	window := flag.Int("window", 0, "trailing days to ingest (overrides config)")
	logLevel := flag.String("log-level", env("NRDWATCH_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "log format: json or text")
	progress := flag.Bool("progress", false, "render progress bars on stderr during scan and capture")
	flag.Parse()

	logger := newLogger(*logLevel, *logFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *mode, *configPath, *addr, *window, *progress); err != nil {
		logger.Error("nrdwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(levelName, format string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run(ctx context.Context, logger *slog.Logger, mode, configPath, addr string, window int, progress bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if window > 0 {
		cfg.Feeds.WindowDays = window
	}

	store, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	a := &app{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		progress: progress,
	}

	switch mode {
	case "ingest":
		return a.runStage(ctx, "ingest", a.ingest)
	case "classify":
		return a.runStage(ctx, "classify", a.classify)
	case "scan":
		return a.runStage(ctx, "scan", a.scan)
	case "capture":
		return a.runStage(ctx, "capture", a.capture)
	case "run":
		return a.runAll(ctx)
	case "serve":
		return a.serve(ctx)
	default:
		fmt.Fprintln(os.Stderr, "usage: nrdwatch -mode <ingest|classify|scan|capture|run|serve> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
		return nil
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

// app wires the shared dependencies of every mode.
type app struct {
	cfg      *config.Config
	store    *registry.Store
	logger   *slog.Logger
	progress bool
}

// stageFunc runs one pipeline stage and returns its summary for the run log.
type stageFunc func(ctx context.Context) (any, error)

// runStage executes one stage and records a pipeline_runs row either way.
// The row is written with a fresh context so an interrupted stage still
// leaves its trace.
func (a *app) runStage(ctx context.Context, stage string, fn stageFunc) error {
	started := time.Now().UTC()
	a.logger.Info("stage starting", "stage", stage)

	detail, err := fn(ctx)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PipelineRuns.WithLabelValues(stage, result).Inc()

	run := &registry.Run{
		Stage:      stage,
		StartedAt:  started.Format(time.RFC3339),
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
		Result:     result,
	}
	if err != nil {
		run.Detail = err.Error()
	} else if detail != nil {
		if data, jerr := json.Marshal(detail); jerr == nil {
			run.Detail = string(data)
		}
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := a.store.RecordRun(recordCtx, run); rerr != nil {
		a.logger.Warn("run record failed", "stage", stage, "error", rerr)
	}
	return err
}

// runAll executes the four stages in pipeline order. A failed stage does
// not gate the rest: yesterday's candidates are still worth scanning when
// today's feed is down. The first failure decides the exit status.
func (a *app) runAll(ctx context.Context) error {
	stages := []struct {
		name string
		fn   stageFunc
	}{
		{"ingest", a.ingest},
		{"classify", a.classify},
		{"scan", a.scan},
		{"capture", a.capture},
	}

	var firstErr error
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.runStage(ctx, st.name, st.fn); err != nil {
			a.logger.Error("stage failed", "stage", st.name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", st.name, err)
			}
		}
	}
	return firstErr
}

func (a *app) ingest(ctx context.Context) (any, error) {
	client := feed.ClientConfig{
		Timeout:   a.cfg.Feeds.Timeout.Std(),
		MaxBytes:  a.cfg.Feeds.MaxBytes,
		UserAgent: a.cfg.Feeds.UserAgent,
	}
	sources := []feed.Source{
		feed.NewWhoisDS(a.cfg.Feeds.WhoisDSURL, client),
		feed.NewSANS(a.cfg.Feeds.SANSURL, client),
	}

	sum, err := feed.NewIngestor(a.cfg.DownloadsDir(), sources, a.logger).Run(ctx, a.cfg.Feeds.WindowDays)
	if err != nil {
		return sum, err
	}
	a.logger.Info("ingest done", "fetched", sum.Fetched, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (a *app) classify(ctx context.Context) (any, error) {
	svc := classify.New(classify.Config{
		Brand:          a.cfg.Brand,
		DownloadsDir:   a.cfg.DownloadsDir(),
		ByDateDir:      a.cfg.ByDateDir(),
		PatternsDir:    a.cfg.Patterns.Dir,
		IgnoreFile:     a.cfg.Lists.IgnoreFile,
		IncludeFile:    a.cfg.Lists.IncludeFile,
		LedgerPath:     a.cfg.LedgerPath(),
		CumulativePath: a.cfg.CumulativePath(),
	}, a.store, a.logger)

	sum, err := svc.Run(ctx)
	if err != nil {
		return sum, err
	}
	a.logger.Info("classify done", "days", sum.Days, "matched", sum.Matched, "seeded", sum.Seeded)
	return sum, nil
}

func (a *app) scan(ctx context.Context) (any, error) {
	ignore, err := classify.LoadDomainSet(a.cfg.Lists.IgnoreFile)
	if err != nil {
		return nil, err
	}
	candidates, err := scan.LoadCandidates(a.cfg.CumulativePath(), ignore)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if len(candidates) == 0 {
		a.logger.Info("scan: no candidates yet, run classify first")
		return scan.Summary{}, nil
	}

	led, err := ledger.Load(a.cfg.LedgerPath())
	if err != nil {
		return nil, err
	}

	opts := []scan.Option{scan.WithFirstSeen(led.FirstSeen)}
	var wait func()
	if a.progress {
		tick, done := progressBar("scan", int64(len(candidates)))
		opts = append(opts, scan.WithProgress(func(scan.Result) { tick() }))
		wait = done
	}

	runner := scan.New(scan.Config{
		BatchSize: a.cfg.Scanner.BatchSize,
		Prober: scan.ProberConfig{
			Timeout:   a.cfg.Scanner.Timeout.Std(),
			MaxBytes:  a.cfg.Scanner.MaxBytes,
			UserAgent: a.cfg.Scanner.UserAgent,
		},
	}, a.store, a.logger, opts...)

	sum, err := runner.Scan(ctx, candidates)
	if wait != nil {
		wait()
	}
	if err != nil {
		return sum, err
	}
	a.logger.Info("scan done",
		"scanned", sum.Scanned,
		"active", sum.Active,
		"changed", sum.Changed,
		"errors", sum.Errors)
	return sum, nil
}

func (a *app) capture(ctx context.Context) (any, error) {
	index, err := capture.LoadIndex(a.cfg.IndexPath())
	if err != nil {
		return nil, err
	}

	browser := capture.NewBrowser(capture.BrowserConfig{
		NavTimeout:  a.cfg.Capture.NavTimeout.Std(),
		SettleDelay: a.cfg.Capture.SettleDelay.Std(),
		Width:       a.cfg.Capture.ViewportW,
		Height:      a.cfg.Capture.ViewportH,
		Logger:      a.logger,
	})
	defer browser.Close()

	strategies := []capture.Strategy{
		capture.NewChromeCLI(a.cfg.Capture.ChromePath, a.cfg.Capture.NavTimeout.Std(),
			a.cfg.Capture.ViewportW, a.cfg.Capture.ViewportH),
		browser,
	}

	var opts []capture.Option
	var wait func()
	if a.progress {
		// Target count is only known once the run filters against the
		// index, so the bar total snaps into place at completion.
		tick, done := progressBar("capture", 0)
		opts = append(opts, capture.WithProgress(func(string, bool) { tick() }))
		wait = done
	}

	c := capture.New(capture.Config{
		Dir:       a.cfg.Capture.Dir,
		BatchSize: a.cfg.Capture.BatchSize,
		MinBytes:  a.cfg.Capture.MinBytes,
	}, strategies, a.store, index, a.logger, opts...)

	stats, err := c.Run(ctx)
	if wait != nil {
		wait()
	}
	if err != nil {
		return stats, err
	}
	a.logger.Info("capture done",
		"targets", stats.Targets,
		"captured", stats.Captured,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	return stats, nil
}

// serve exposes the registry over HTTP and runs the full pipeline on the
// configured cron schedule until interrupted.
func (a *app) serve(ctx context.Context) error {
	srv := api.New(a.store, a.cfg.Capture.Dir, a.cfg.IndexPath(), a.logger)

	httpSrv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sched := cron.New()
	if a.cfg.Server.Schedule != "" && a.cfg.Server.Schedule != "off" {
		_, err := sched.AddFunc(a.cfg.Server.Schedule, func() {
			a.logger.Info("scheduled pipeline run starting", "schedule", a.cfg.Server.Schedule)
			if err := a.runAll(ctx); err != nil {
				a.logger.Error("scheduled pipeline run failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("cron schedule %q: %w", a.cfg.Server.Schedule, err)
		}
		sched.Start()
		a.logger.Info("pipeline schedule armed", "schedule", a.cfg.Server.Schedule)
	}

	go func() {
		a.logger.Info("server starting", "addr", a.cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	// Wait for an in-flight scheduled run to notice the cancelled ctx.
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown", "error", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// progressBar renders a counter bar on stderr. total may be 0 when the
// item count is not known up front. done finalizes the bar even when the
// run stopped short, so p.Wait never hangs on an aborted run.
func progressBar(name string, total int64) (tick func(), done func()) {
	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(48))
	bar := p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			decor.Percentage(decor.WCSyncSpace),
		),
	)
	return bar.Increment, func() {
		bar.SetTotal(-1, true)
		p.Wait()
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
