package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/csirt-za/nrdwatch/internal/metrics"
	"github.com/csirt-za/nrdwatch/internal/registry"
)

// Registry is the registry surface the scanner reads and writes.
// Satisfied by *registry.Store.
type Registry interface {
	Snapshot(ctx context.Context) (map[string]*registry.Domain, error)
	UpsertScan(ctx context.Context, obs registry.ScanObservation) (string, error)
	AddHistory(ctx context.Context, e *registry.HistoryEntry) error
}

// Config sizes one scan run.
type Config struct {
	BatchSize int // probes per batch, default: 10
	Prober    ProberConfig
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

// Summary reports the outcome of one scan run.
type Summary struct {
	Scanned int `json:"scanned"`
	Active  int `json:"active"`
	Changed int `json:"changed"`
	Errors  int `json:"errors"`
}

// Runner scans candidate domains in priority order and commits
// observations between batches.
type Runner struct {
	prober    *Prober
	registry  Registry
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	firstSeen func(domain string) (string, bool)
	onResult  func(Result)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithFirstSeen supplies the ledger lookup used to backdate first_seen for
// domains whose feed day predates their first successful scan.
func WithFirstSeen(fn func(domain string) (string, bool)) Option {
	return func(r *Runner) { r.firstSeen = fn }
}

// WithProgress registers a callback invoked once per probed domain, from
// probe goroutines. Used for interactive progress rendering.
func WithProgress(fn func(Result)) Option {
	return func(r *Runner) { r.onResult = fn }
}

// New builds a Runner writing through reg.
func New(cfg Config, reg Registry, logger *slog.Logger, opts ...Option) *Runner {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		prober:    NewProber(cfg.Prober),
		registry:  reg,
		batchSize: cfg.BatchSize,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scan probes every candidate once. Known-active domains go first, then
// domains the registry has never seen, then known-inactive ones, so the
// highest-value checks happen earliest in long runs.
func (r *Runner) Scan(ctx context.Context, candidates []string) (Summary, error) {
	var sum Summary

	snap, err := r.registry.Snapshot(ctx)
	if err != nil {
		return sum, fmt.Errorf("scan: registry snapshot: %w", err)
	}
	ordered := prioritize(candidates, snap)
	r.logger.Info("scan: starting", "candidates", len(ordered), "batch", r.batchSize)

	for start := 0; start < len(ordered); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		end := start + r.batchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		results := r.probeBatch(ctx, ordered[start:end])

		for _, res := range results {
			if err := r.commit(ctx, res, snap, &sum); err != nil {
				r.logger.Error("scan: commit failed", "domain", res.Domain, "error", err)
				sum.Errors++
			}
		}
	}

	r.logger.Info("scan: done",
		"scanned", sum.Scanned, "active", sum.Active,
		"changed", sum.Changed, "errors", sum.Errors)
	return sum, nil
}

// probeBatch probes one batch concurrently. Results keep batch order.
func (r *Runner) probeBatch(ctx context.Context, batch []string) []Result {
	results := make([]Result, len(batch))
	var wg sync.WaitGroup
	for i, domain := range batch {
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			results[i] = r.prober.Probe(ctx, domain)
			if r.onResult != nil {
				r.onResult(results[i])
			}
		}(i, domain)
	}
	wg.Wait()
	return results
}

// commit writes one observation and its history entry.
func (r *Runner) commit(ctx context.Context, res Result, snap map[string]*registry.Domain, sum *Summary) error {
	prior := snap[res.Domain]
	changed := res.Active && prior != nil &&
		prior.ContentHash != "" && res.Hash != "" && prior.ContentHash != res.Hash

	obs := registry.ScanObservation{
		Domain:         res.Domain,
		FirstSeen:      r.resolveFirstSeen(res.Domain, prior),
		CheckedAt:      r.now().UTC().Format(time.RFC3339),
		IsActive:       res.Active,
		ContentHash:    res.Hash,
		ContentChanged: changed,
	}

	id, err := r.registry.UpsertScan(ctx, obs)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	if err := r.registry.AddHistory(ctx, &registry.HistoryEntry{
		DomainID:       id,
		CheckedAt:      obs.CheckedAt,
		IsActive:       obs.IsActive,
		ContentHash:    obs.ContentHash,
		ContentChanged: obs.ContentChanged,
	}); err != nil {
		return fmt.Errorf("history: %w", err)
	}

	sum.Scanned++
	switch {
	case res.Active:
		sum.Active++
		metrics.Scans.WithLabelValues("active").Inc()
	case res.Err != nil:
		sum.Errors++
		metrics.Scans.WithLabelValues("error").Inc()
		r.logger.Warn("scan: probe failed", "domain", res.Domain, "error", res.Err)
	default:
		metrics.Scans.WithLabelValues("inactive").Inc()
	}
	if changed {
		sum.Changed++
		metrics.ScanChanged.Inc()
		r.logger.Info("scan: content changed", "domain", res.Domain)
	}
	return nil
}

// resolveFirstSeen picks the earliest known sighting: ledger date, then
// the registry's prior value, then now. Bare dates become midnight UTC.
func (r *Runner) resolveFirstSeen(domain string, prior *registry.Domain) string {
	if r.firstSeen != nil {
		if date, ok := r.firstSeen(domain); ok {
			return r.toTimestamp(date)
		}
	}
	if prior != nil && prior.FirstSeen != "" {
		return r.toTimestamp(prior.FirstSeen)
	}
	return r.now().UTC().Format(time.RFC3339)
}

func (r *Runner) toTimestamp(s string) string {
	if strings.Contains(s, "T") {
		return s
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return r.now().UTC().Format(time.RFC3339)
	}
	return t.UTC().Format(time.RFC3339)
}

// prioritize partitions candidates by registry state, preserving input
// order within each partition.
func prioritize(candidates []string, snap map[string]*registry.Domain) []string {
	var active, unknown, inactive []string
	for _, d := range candidates {
		rec, ok := snap[d]
		switch {
		case !ok:
			unknown = append(unknown, d)
		case rec.IsActive:
			active = append(active, d)
		default:
			inactive = append(inactive, d)
		}
	}
	out := make([]string, 0, len(candidates))
	out = append(out, active...)
	out = append(out, unknown...)
	out = append(out, inactive...)
	return out
}
