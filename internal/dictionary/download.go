package dictionary

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"harvest/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
)

// Download retry budget: three tries five seconds apart.
const (
	DefaultDownloadAttempts = 3
	DefaultDownloadDelay    = 5 * time.Second

	// maxDictionarySize caps a downloaded dictionary.
	maxDictionarySize = 64 << 20
)

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	Attempts int
	Delay    time.Duration

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Downloader fetches dictionary documents over HTTP.
type Downloader struct {
	client *retryablehttp.Client
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg DownloaderConfig) *Downloader {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultDownloadAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDownloadDelay
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Attempts - 1
	rc.Logger = logging.Default(cfg.Logger).With("component", "dictionary-download")
	delay := cfg.Delay
	rc.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration { return delay }
	rc.CheckRetry = retryAnyFailure
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	return &Downloader{client: rc}
}

// retryAnyFailure retries transport errors and every non-200 response,
// client errors included.
func retryAnyFailure(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode != http.StatusOK, nil
}

// Download fetches url and returns its body.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDictionarySize))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}
