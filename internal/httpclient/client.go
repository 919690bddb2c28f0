package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// Downloader fetches source documents over HTTP with bounded size and
// simple retry on transient failures.
type Downloader struct {
	client     *http.Client
	maxBytes   int64
	maxRetries int
	backoff    time.Duration
	logger     arbor.ILogger
}

// NewDownloader creates a Downloader from the download section of the
// service configuration.
func NewDownloader(config common.DownloadConfig, logger arbor.ILogger) *Downloader {
	timeout := common.ParseDuration(config.Timeout, 60*time.Second)
	backoff := common.ParseDuration(config.RetryBackoff, 2*time.Second)

	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	maxSizeMB := config.MaxSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}

	return &Downloader{
		client:     NewDefaultHTTPClient(timeout),
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

// Fetch downloads the resource at url. Server errors and network failures
// are retried with a fixed backoff; client errors (4xx) fail immediately
// since a retry cannot change the outcome.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			d.logger.Warn().
				Str("url", url).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("Retrying download")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.backoff):
			}
		}

		data, retryable, err := d.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", d.maxRetries+1, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// proceed
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("server returned status %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if resp.ContentLength > d.maxBytes {
		return nil, false, fmt.Errorf("document size %d exceeds limit of %d bytes", resp.ContentLength, d.maxBytes)
	}

	// Read one byte past the cap to distinguish at-limit from over-limit
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, false, fmt.Errorf("document exceeds limit of %d bytes", d.maxBytes)
	}

	return data, false, nil
}
