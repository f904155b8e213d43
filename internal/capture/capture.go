// Package capture renders screenshots of active candidate domains.
//
// Capture is hybrid: a cheap headless-Chrome subprocess tier runs first,
// then a DevTools-driven browser tier picks up pages the subprocess
// rendered blank or undersized. A JSON index keyed by content hash makes
// runs incremental: domains whose content has not changed since their last
// shot are skipped before any network traffic happens.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/csirt-za/nrdwatch/internal/metrics"
	"github.com/csirt-za/nrdwatch/internal/registry"
)

// Registry is the registry surface the capturer needs. Satisfied by
// *registry.Store.
type Registry interface {
	ActiveDomains(ctx context.Context) ([]*registry.Domain, error)
	MarkScreenshotTaken(ctx context.Context, domainID string) error
}

// Config sizes one capture run.
type Config struct {
	Dir       string // screenshot output directory
	BatchSize int    // concurrent captures per batch, default: 3
	MinBytes  int64  // artifact validity floor, default: 10KiB
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 10 << 10
	}
}

// Stats reports the outcome of one capture run.
type Stats struct {
	Targets   int            `json:"targets"`
	Skipped   int            `json:"skipped"`
	Captured  int            `json:"captured"`
	Failed    int            `json:"failed"`
	PerMethod map[string]int `json:"per_method,omitempty"`
}

// Capturer shoots active domains in batches, committing the index and
// history marks between batches.
type Capturer struct {
	cfg        Config
	strategies []Strategy
	registry   Registry
	index      *Index
	logger     *slog.Logger
	now        func() time.Time
	onResult   func(domain string, ok bool)
}

// Option customizes a Capturer.
type Option func(*Capturer)

// WithProgress registers a callback invoked once per attempted domain,
// from capture goroutines.
func WithProgress(fn func(domain string, ok bool)) Option {
	return func(c *Capturer) { c.onResult = fn }
}

// New builds a Capturer. Strategies are tried in the order given.
func New(cfg Config, strategies []Strategy, reg Registry, index *Index, logger *slog.Logger, opts ...Option) *Capturer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capturer{
		cfg:        cfg,
		strategies: strategies,
		registry:   reg,
		index:      index,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type target struct {
	domainID string
	domain   string
	hash     string
}

type outcome struct {
	target
	method string
	path   string
	err    error
}

// Run captures every active domain whose content changed since its last
// shot (or that has no shot at all). A failed domain is logged and left
// out of the index, so the next run retries it.
func (c *Capturer) Run(ctx context.Context) (Stats, error) {
	stats := Stats{PerMethod: make(map[string]int)}

	active, err := c.registry.ActiveDomains(ctx)
	if err != nil {
		return stats, fmt.Errorf("capture: active domains: %w", err)
	}

	var targets []target
	for _, d := range active {
		if !c.index.NeedsCapture(d.Domain, d.ContentHash) {
			stats.Skipped++
			continue
		}
		targets = append(targets, target{domainID: d.ID, domain: d.Domain, hash: d.ContentHash})
	}
	stats.Targets = len(targets)
	c.logger.Info("capture: starting",
		"active", len(active), "targets", len(targets), "skipped", stats.Skipped)
	if len(targets) == 0 {
		return stats, nil
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return stats, fmt.Errorf("capture: screenshots dir: %w", err)
	}

	for start := 0; start < len(targets); start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := start + c.cfg.BatchSize
		if end > len(targets) {
			end = len(targets)
		}
		outcomes := c.captureBatch(ctx, targets[start:end])

		for _, out := range outcomes {
			if out.err != nil {
				stats.Failed++
				c.logger.Warn("capture: failed", "domain", out.domain, "error", out.err)
				continue
			}
			c.index.Domains[out.domain] = IndexEntry{
				LastContentHash:    out.hash,
				LastScreenshot:     c.now().UTC().Format("20060102_150405"),
				LastScreenshotPath: out.path,
				CaptureMethod:      out.method,
			}
			if err := c.registry.MarkScreenshotTaken(ctx, out.domainID); err != nil {
				c.logger.Warn("capture: mark history", "domain", out.domain, "error", err)
			}
			stats.Captured++
			stats.PerMethod[out.method]++
		}
		if err := c.index.Save(); err != nil {
			c.logger.Warn("capture: index save failed", "error", err)
		}
	}

	c.logger.Info("capture: done",
		"captured", stats.Captured, "failed", stats.Failed, "skipped", stats.Skipped)
	return stats, nil
}

// captureBatch shoots one batch concurrently. A panicking capture is
// contained to its own slot; siblings finish normally.
func (c *Capturer) captureBatch(ctx context.Context, batch []target) []outcome {
	outcomes := make([]outcome, len(batch))
	var wg sync.WaitGroup
	for i, tgt := range batch {
		wg.Add(1)
		go func(i int, tgt target) {
			defer wg.Done()
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						outcomes[i] = outcome{target: tgt, err: fmt.Errorf("capture panic: %v", rec)}
					}
				}()
				method, path, err := c.captureOne(ctx, tgt.domain)
				outcomes[i] = outcome{target: tgt, method: method, path: path, err: err}
			}()
			if c.onResult != nil {
				c.onResult(tgt.domain, outcomes[i].err == nil)
			}
		}(i, tgt)
	}
	wg.Wait()
	return outcomes
}

// captureOne walks the strategy tiers until one produces a valid artifact.
func (c *Capturer) captureOne(ctx context.Context, domain string) (string, string, error) {
	outPath := filepath.Join(c.cfg.Dir, strings.ReplaceAll(domain, ".", "_")+".png")
	url := "https://" + domain

	var lastErr error
	for _, s := range c.strategies {
		if !s.Available() {
			continue
		}
		if err := s.Capture(ctx, url, outPath); err != nil {
			lastErr = err
			metrics.Captures.WithLabelValues(s.Name(), "failed").Inc()
			c.logger.Debug("capture: tier failed",
				"domain", domain, "method", s.Name(), "error", err)
			continue
		}
		if err := validateArtifact(outPath, c.cfg.MinBytes); err != nil {
			lastErr = err
			metrics.Captures.WithLabelValues(s.Name(), "failed").Inc()
			c.logger.Debug("capture: tier undersized",
				"domain", domain, "method", s.Name(), "error", err)
			continue
		}
		metrics.Captures.WithLabelValues(s.Name(), "ok").Inc()
		return s.Name(), outPath, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no capture strategy available")
	}
	return "", "", lastErr
}
