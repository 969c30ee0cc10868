/**
 * Page Fetcher for the OCR Diff Worker
 *
 * Downloads rasterized page images referenced by URL in a comparison job.
 * Retries transient failures (network errors, 5xx, 429) with exponential
 * backoff and refuses images larger than the configured limit.
 */

package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/adverant/nexus/ocrdiff-worker/internal/logging"
)

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 32 * time.Second
	defaultFetchTimeout   = 2 * time.Minute
)

// PageFetcher downloads page images over HTTP(S)
type PageFetcher struct {
	httpClient     *http.Client
	maxSize        int64
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *logging.Logger
}

// PageFetcherConfig holds fetcher configuration
type PageFetcherConfig struct {
	MaxImageSize   int64         // bytes, 0 = unlimited
	MaxRetries     int           // 0 = default (5)
	InitialBackoff time.Duration // 0 = default (1s)
	MaxBackoff     time.Duration // 0 = default (32s)
	Timeout        time.Duration // per attempt, 0 = default (2m)
}

// NewPageFetcher creates a new page fetcher
func NewPageFetcher(cfg PageFetcherConfig) *PageFetcher {
	f := &PageFetcher{
		maxSize:        cfg.MaxImageSize,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logging.NewLogger("PageFetcher"),
	}
	if f.maxRetries <= 0 {
		f.maxRetries = defaultMaxRetries
	}
	if f.initialBackoff <= 0 {
		f.initialBackoff = defaultInitialBackoff
	}
	if f.maxBackoff <= 0 {
		f.maxBackoff = defaultMaxBackoff
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	f.httpClient = &http.Client{Timeout: timeout}
	return f
}

// permanentError marks failures that retrying cannot fix
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Fetch downloads one page image
func (f *PageFetcher) Fetch(ctx context.Context, jobID, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		f.logger.Debug("Page download attempt", "jobId", jobID, "attempt", attempt, "maxRetries", f.maxRetries, "url", url)

		data, err := f.fetchOnce(ctx, url)
		if err == nil {
			f.logger.Info("Page downloaded", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return nil, perm.err
		}

		lastErr = err
		f.logger.Warn("Page download failed", "jobId", jobID, "attempt", attempt, "error", err)

		if attempt < f.maxRetries {
			backoff := f.backoff(attempt)
			f.logger.Debug("Retrying page download", "jobId", jobID, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to download page after %d attempts: %w", f.maxRetries, lastErr)
}

func (f *PageFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &permanentError{ctx.Err()}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, &permanentError{err}
	}

	if f.maxSize > 0 && resp.ContentLength > f.maxSize {
		return nil, &permanentError{fmt.Errorf("page image exceeds maximum: %d > %d bytes", resp.ContentLength, f.maxSize)}
	}

	reader := io.Reader(resp.Body)
	if f.maxSize > 0 {
		// one extra byte detects bodies without Content-Length that are too large
		reader = io.LimitReader(resp.Body, f.maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		return nil, &permanentError{fmt.Errorf("page image exceeds maximum of %d bytes", f.maxSize)}
	}
	if len(data) == 0 {
		return nil, &permanentError{fmt.Errorf("empty page image")}
	}
	return data, nil
}

func (f *PageFetcher) backoff(attempt int) time.Duration {
	d := time.Duration(float64(f.initialBackoff) * math.Pow(2, float64(attempt-1)))
	if d > f.maxBackoff {
		d = f.maxBackoff
	}
	return d
}

// HealthCheck verifies that a page host answers HEAD requests
func (f *PageFetcher) HealthCheck(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("page host health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("page host health check returned status %d", resp.StatusCode)
	}
	return nil
}
