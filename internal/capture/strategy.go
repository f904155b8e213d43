package capture

import (
	"context"
	"fmt"
	"os"
)

// Strategy is one way of rendering a page to a PNG. Strategies are tried
// in order until one produces a valid artifact.
type Strategy interface {
	// Name identifies the strategy in the index, logs, and metrics.
	Name() string

	// Available reports whether the strategy can run on this host. An
	// unavailable strategy is skipped, not failed.
	Available() bool

	// Capture renders url and writes a PNG to outPath.
	Capture(ctx context.Context, url, outPath string) error
}

// validateArtifact rejects screenshots below minBytes. Headless renders of
// blank or unreachable pages come out as tiny PNGs; an undersized file is
// removed so it cannot mask a later retry.
func validateArtifact(path string, minBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if info.Size() < minBytes {
		os.Remove(path)
		return fmt.Errorf("artifact too small: %d bytes (min %d)", info.Size(), minBytes)
	}
	return nil
}
