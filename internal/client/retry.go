package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// doWithRetry executes a request, retrying transport failures, 5xx and 429
// up to retries times with quadratic backoff and jitter. When the last
// attempt still fails with a status code, that response is returned for the
// caller to turn into an APIError.
func doWithRetry(ctx context.Context, hc *http.Client, retries int, backoff time.Duration, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * backoff
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			wait := base + jitter
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := hc.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < retries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", retries, err)
		}

		if (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests) && attempt < retries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			logger.Warn("server error, will retry", "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}
