// Package feed ingests daily newly-registered-domain lists from upstream
// providers.
//
// Each provider shape is a Source implementation exposing a uniform
// FetchDay; the Ingestor iterates sources over a trailing day window and
// writes one raw-list-per-day artifact per source. Nothing downstream ever
// branches on which provider a list came from.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Source is one upstream NRD feed.
type Source interface {
	// Name is the stable identifier used in artifact paths and logs.
	Name() string

	// FetchDay returns the raw (non-normalized) domain list for one
	// calendar day, one domain per element, blank lines removed.
	FetchDay(ctx context.Context, day time.Time) ([]string, error)
}

// ClientConfig configures the HTTP client shared by feed sources.
type ClientConfig struct {
	Timeout   time.Duration // default: 60s
	MaxBytes  int64         // response body cap, default: 128MB
	UserAgent string        // default: "nrdwatch/1.0"
}

func (c *ClientConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 128 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "nrdwatch/1.0"
	}
}

func newClient(cfg ClientConfig) *http.Client {
	return &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			return nil
		},
	}
}

// get performs a GET and returns the body capped at maxBytes.
// Non-200 statuses are errors: the feeds serve exactly one artifact per
// day, anything else means the day is missing or the token is wrong.
func get(ctx context.Context, client *http.Client, url, userAgent string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// splitLines splits a raw text payload into trimmed, non-blank lines.
func splitLines(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, string(line))
	}
	return lines
}
