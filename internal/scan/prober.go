// Package scan determines which candidate domains serve live content and
// fingerprints what they serve.
//
// Each domain is probed over HTTPS first, then plain HTTP. A domain is
// active when either protocol answers 200 with a non-empty body; the body
// is fingerprinted with SHA-256 so later runs can detect content changes.
// Probes run in fixed-size concurrent batches with a registry commit
// between batches, so an interrupted run loses at most one batch.
package scan

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProberConfig bounds a single probe attempt.
type ProberConfig struct {
	Timeout   time.Duration // per attempt, default: 5s
	MaxBytes  int64         // response body cap, default: 2MB
	UserAgent string        // default: "nrdwatch/1.0"
}

func (c *ProberConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 2 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "nrdwatch/1.0"
	}
}

// Result is the outcome of probing one domain. Err carries the last
// transport error only when no protocol produced a response; an answered
// non-200 or empty body is inactive, not an error.
type Result struct {
	Domain string
	Active bool
	Hash   string
	Err    error
}

// Prober fetches candidate domains. Safe for concurrent use.
type Prober struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// NewProber builds a Prober with cfg's limits applied.
func NewProber(cfg ProberConfig) *Prober {
	cfg.defaults()
	return &Prober{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
	}
}

// Probe checks one domain over https then http.
func (p *Prober) Probe(ctx context.Context, domain string) Result {
	var lastErr error
	for _, scheme := range []string{"https", "http"} {
		status, body, err := p.fetch(ctx, scheme+"://"+domain)
		if err != nil {
			lastErr = err
			continue
		}
		if status != http.StatusOK {
			continue
		}
		if len(bytes.TrimSpace(body)) == 0 {
			continue
		}
		sum := sha256.Sum256(body)
		return Result{Domain: domain, Active: true, Hash: fmt.Sprintf("%x", sum)}
	}
	return Result{Domain: domain, Err: lastErr}
}

func (p *Prober) fetch(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
