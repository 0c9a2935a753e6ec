package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChecker probes an HTTP endpoint. Any answer below
// ExpectedStatusMax counts as reachable, so a coordinator that demands a
// login (403) is still healthy.
type HTTPChecker struct {
	URL               string
	ExpectedStatusMax int
	Client            *http.Client
}

// NewHTTPChecker creates a checker for url
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		ExpectedStatusMax: 499,
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check performs the probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, err error) Result {
		return Result{Message: fmt.Sprintf(format, err), CheckedAt: start, Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	healthy := resp.StatusCode <= h.ExpectedStatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected at most %d)", message, h.ExpectedStatusMax)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
