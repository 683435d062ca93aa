package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/api"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

const (
	// tokenHeader carries the shared secret the server checks on every
	// /v1 request.
	tokenHeader = "X-Superdeploy-Token"

	// defaultTimeout bounds unary calls. Logs runs under the caller's
	// context instead.
	defaultTimeout = 10 * time.Second

	// defaultPollInterval is the WaitForRun interval when none is given.
	defaultPollInterval = 500 * time.Millisecond

	// maxErrorBody caps how much of an error response gets decoded.
	maxErrorBody = 64 << 10
)

// APIError is a non-2xx answer from the server, carrying the decoded
// error message when the body had one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client wraps the superdeploy HTTP API for easy CLI and tooling usage.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the API server at baseURL. The token
// may be empty when the server runs without authentication.
func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No transport-wide timeout: Logs holds its response open until
		// the run finishes. Unary methods bound themselves per call.
		http: &http.Client{},
	}, nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Deploy enqueues a deployment and returns the accepted run ID. The
// run executes asynchronously; poll it with GetRun or WaitForRun.
func (c *Client) Deploy(ctx context.Context, req api.DeployRequest) (*api.DeployAccepted, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/v1/deploys", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, decodeError(resp)
	}

	var acc api.DeployAccepted
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		return nil, fmt.Errorf("failed to decode deploy response: %w", err)
	}
	return &acc, nil
}

// GetRun fetches one run document. Unknown IDs wrap
// types.ErrRunNotFound.
func (c *Client) GetRun(ctx context.Context, runID string) (*api.RunResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("run %s: %w", runID, types.ErrRunNotFound)
	default:
		return nil, decodeError(resp)
	}

	var run api.RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &run, nil
}

// WaitForRun polls the run until it reaches a terminal status. The
// caller's context bounds the overall wait.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (*api.RunResponse, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if types.RunStatus(run.Status).Terminal() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProjectStatus reports the currently deployed version of every unit
// in a project.
func (c *Client) ProjectStatus(ctx context.Context, project string) (*api.ProjectStatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(project)+"/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var status api.ProjectStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status for %s: %w", project, err)
	}
	return &status, nil
}

// Logs opens the run's event stream. The returned reader yields one
// text line per event and reaches EOF once the run finishes. The
// stream lives as long as the caller's context.
func (c *Client) Logs(ctx context.Context, runID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/logs", nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("run %s: %w", runID, types.ErrRunNotFound)
	default:
		err := decodeError(resp)
		resp.Body.Close()
		return nil, err
	}
}

// do issues one request with the token header and JSON encoding
// applied.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}
	return c.http.Do(req)
}

// decodeError turns a non-2xx response into an *APIError. The caller
// still owns the body.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
