package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/csirt-za/nrdwatch/internal/metrics"
)

// Ingestor pulls the trailing window of daily lists from every configured
// source and materializes them as one artifact per (source, day) under the
// downloads directory. Runs are idempotent: a day whose artifact already
// exists is never re-fetched.
type Ingestor struct {
	dir     string
	sources []Source
	logger  *slog.Logger
	now     func() time.Time
}

// Summary reports the outcome of one ingest run.
type Summary struct {
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// NewIngestor builds an Ingestor writing under dir (the downloads root).
func NewIngestor(dir string, sources []Source, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		dir:     dir,
		sources: sources,
		logger:  logger,
		now:     time.Now,
	}
}

// Run fetches the last windowDays days (today included) from every source.
// A failed (source, day) is logged and counted, never fatal; the run only
// aborts when ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context, windowDays int) (Summary, error) {
	if windowDays < 1 {
		windowDays = 1
	}

	var sum Summary
	today := in.now().UTC().Truncate(24 * time.Hour)

	for _, src := range in.sources {
		for offset := 0; offset < windowDays; offset++ {
			if err := ctx.Err(); err != nil {
				return sum, err
			}

			day := today.AddDate(0, 0, -offset)
			dayStr := day.Format("2006-01-02")
			path := filepath.Join(in.dir, src.Name(), dayStr+".txt")

			if _, err := os.Stat(path); err == nil {
				sum.Skipped++
				metrics.FeedDays.WithLabelValues(src.Name(), "skipped").Inc()
				continue
			}

			lines, err := src.FetchDay(ctx, day)
			if err != nil {
				sum.Failed++
				metrics.FeedDays.WithLabelValues(src.Name(), "failed").Inc()
				in.logger.Warn("feed day failed",
					"source", src.Name(),
					"day", dayStr,
					"error", err)
				continue
			}

			if err := writeArtifact(path, lines); err != nil {
				sum.Failed++
				metrics.FeedDays.WithLabelValues(src.Name(), "failed").Inc()
				in.logger.Warn("feed artifact write failed",
					"source", src.Name(),
					"day", dayStr,
					"error", err)
				continue
			}

			sum.Fetched++
			metrics.FeedDays.WithLabelValues(src.Name(), "fetched").Inc()
			in.logger.Info("feed day fetched",
				"source", src.Name(),
				"day", dayStr,
				"domains", len(lines))
		}
	}
	return sum, nil
}

// writeArtifact writes one raw daily list atomically. An empty list still
// produces a (zero-line) artifact so the day is not re-fetched.
func writeArtifact(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
