package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"
)

// ChromeCLI renders pages with a bare `chrome --headless --screenshot`
// subprocess. It is the cheap first tier: one process per page, no
// DevTools session, nothing shared between captures.
type ChromeCLI struct {
	bin     string
	timeout time.Duration
	width   int
	height  int
}

// NewChromeCLI builds the subprocess tier. An empty bin falls back to the
// launcher's browser search; when nothing is found the strategy reports
// unavailable instead of failing every capture.
func NewChromeCLI(bin string, timeout time.Duration, width, height int) *ChromeCLI {
	if bin == "" {
		if found, ok := launcher.LookPath(); ok {
			bin = found
		}
	}
	return &ChromeCLI{bin: bin, timeout: timeout, width: width, height: height}
}

func (c *ChromeCLI) Name() string { return "chrome-cli" }

func (c *ChromeCLI) Available() bool { return c.bin != "" }

func (c *ChromeCLI) Capture(ctx context.Context, url, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin,
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--hide-scrollbars",
		fmt.Sprintf("--window-size=%d,%d", c.width, c.height),
		"--screenshot="+outPath,
		url,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("chrome: %w: %s", err, firstLine(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("chrome wrote no artifact: %w", err)
	}
	return nil
}

// firstLine trims subprocess output to something loggable.
func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
