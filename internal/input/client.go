// Package input loads the fit inputs: the (Npart, Ncoll) correlation table
// from a Glauber Monte Carlo and the measured multiplicity histogram. Both
// are CSV documents read from a local file or an http(s) URL.
package input

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rewired-gh/glaubernbd/internal/logger"
)

// Client fetches input documents with retry for remote sources.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a new input client. retryDelay is the base of a linear
// backoff between attempts.
func NewClient(timeout time.Duration, maxRetries int, retryDelay time.Duration) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Open returns the document at location, a file path or an http(s) URL.
func (c *Client) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if location == "" {
		return nil, fmt.Errorf("empty input location")
	}
	if !isRemote(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", location, err)
		}
		return f, nil
	}

	resp, err := c.doRequest(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	return resp.Body, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := time.Duration(i) * c.retryDelay
			logger.Warn("Retrying %s in %v (attempt %d/%d): %v", url, delay, i+1, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv, text/plain")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
