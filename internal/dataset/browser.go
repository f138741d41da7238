package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/rewired-gh/marketpulse/internal/logger"
)

// BrowserConfig holds scraping session options.
type BrowserConfig struct {
	SourceURL      string
	ExportSelector string
	DownloadWait   time.Duration // how long to wait for the export file
	PollInterval   time.Duration
	Timeout        time.Duration // navigation and click budget
	Headless       bool
	ExecPath       string
}

// BrowserAcquirer drives a headless browser to the provider's export button and
// waits for the downloaded file.
type BrowserAcquirer struct {
	cfg BrowserConfig
}

// NewBrowserAcquirer creates an acquirer; zero durations fall back to defaults.
func NewBrowserAcquirer(cfg BrowserConfig) *BrowserAcquirer {
	if cfg.DownloadWait <= 0 {
		cfg.DownloadWait = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &BrowserAcquirer{cfg: cfg}
}

// Acquire runs one browser session. The browser process is torn down when Acquire
// returns, whether or not the export succeeded.
func (b *BrowserAcquirer) Acquire(ctx context.Context, dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	runCtx, cancelRun := context.WithTimeout(tabCtx, b.cfg.Timeout)
	defer cancelRun()

	started := time.Now()
	logger.Debug("Opening %s for dataset export", b.cfg.SourceURL)
	err = chromedp.Run(runCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(absDir).
			WithEventsEnabled(true),
		chromedp.Navigate(b.cfg.SourceURL),
		chromedp.WaitVisible(b.cfg.ExportSelector, chromedp.ByQuery),
		chromedp.Click(b.cfg.ExportSelector, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("export action failed: %w", err)
	}

	return waitForArtifact(runCtx, absDir, started, b.cfg.DownloadWait, b.cfg.PollInterval)
}

// waitForArtifact polls dir for a finished download modified at or after since.
// Partial downloads (.crdownload, .tmp) are ignored.
func waitForArtifact(ctx context.Context, dir string, since time.Time, wait, poll time.Duration) (string, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if path, ok := findArtifact(dir, since); ok {
			return path, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("no export appeared in %s within %v", dir, wait)
		case <-ticker.C:
		}
	}
}

func findArtifact(dir string, since time.Time) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var (
		newest     string
		newestTime time.Time
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		mod := info.ModTime()
		if mod.Before(since.Truncate(time.Second)) {
			continue
		}
		if newest == "" || mod.After(newestTime) {
			newest = filepath.Join(dir, name)
			newestTime = mod
		}
	}
	return newest, newest != ""
}
