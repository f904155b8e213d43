package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the DevTools capture tier.
type BrowserConfig struct {
	NavTimeout  time.Duration // navigation + load budget, default: 30s
	SettleDelay time.Duration // post-load pause for client rendering, default: 1s
	Width       int           // viewport width, default: 1920
	Height      int           // viewport height, default: 1080
	Logger      *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.Width <= 0 {
		c.Width = 1920
	}
	if c.Height <= 0 {
		c.Height = 1080
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser renders pages through a shared headless Chrome driven over
// DevTools. It is the second tier: slower to start than the subprocess
// tier, but it runs scripts, waits for the load event, and applies stealth
// patches, so it captures pages the CLI tier renders blank.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowser builds the DevTools tier. Chrome launches lazily on the
// first capture; call Close when done.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

func (b *Browser) Name() string { return "rod" }

func (b *Browser) Available() bool { return true }

func (b *Browser) Capture(ctx context.Context, url, outPath string) error {
	br, err := b.ensure()
	if err != nil {
		return err
	}

	page, err := stealth.Page(br)
	if err != nil {
		return fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()
	page = page.Context(navCtx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.Width,
		Height:            b.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		// Slow pages still render something worth keeping.
		b.cfg.Logger.Warn("capture: wait load", "url", url, "error", err)
	}
	select {
	case <-time.After(b.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	shot, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("screenshot %s: %w", url, err)
	}
	if err := os.WriteFile(outPath, shot, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// ensure launches Chrome on first use. The browser is shared across
// captures; each capture gets its own page.
func (b *Browser) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage")
	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser launch: %w", err)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser connect: %w", err)
	}
	// Candidate sites routinely present broken or self-signed certs.
	if err := br.IgnoreCertErrors(true); err != nil {
		b.cfg.Logger.Warn("capture: ignore cert errors failed", "error", err)
	}

	b.lnch = l
	b.browser = br
	b.cfg.Logger.Info("capture: browser launched", "url", wsURL)
	return br, nil
}

// Close shuts down the shared Chrome. Safe to call when it never launched.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.cfg.Logger.Warn("capture: browser close", "error", err)
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}
