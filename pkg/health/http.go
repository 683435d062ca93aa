package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// HTTPChecker probes a unit over HTTP. Any status inside the expected
// window counts as healthy; redirects are not followed so a 3xx answers
// for itself.
type HTTPChecker struct {
	url       string
	method    string
	minStatus int
	maxStatus int
	client    *http.Client
}

// NewHTTPChecker creates an HTTP checker accepting 200-399 responses
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		url:       url,
		method:    http.MethodGet,
		minStatus: 200,
		maxStatus: 399,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// WithMethod sets the HTTP method
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.method = method
	return h
}

// WithStatusRange sets the inclusive window of healthy status codes
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.minStatus = min
	h.maxStatus = max
	return h
}

// Check performs one HTTP probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.method, h.url, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("build request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s %s: %v", h.method, h.url, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	healthy := resp.StatusCode >= h.minStatus && resp.StatusCode <= h.maxStatus
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.minStatus, h.maxStatus)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (h *HTTPChecker) Type() types.ProbeType {
	return types.ProbeHTTP
}
