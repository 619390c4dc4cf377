// Package analyzer is the client of the remote analysis service.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"analyzehub/internal/retry"
)

// AnalyzePath is the analysis endpoint relative to the backend base URL.
const AnalyzePath = "/api/analyze-user"

// DefaultTimeout bounds a single analysis call.
const DefaultTimeout = 60 * time.Second

const (
	maxErrorBodySize  = 64 * 1024
	maxResultBodySize = 32 * 1024 * 1024
)

// Config holds settings for the client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls POST <base>/api/analyze-user.
type Client struct {
	targetURL string
	timeout   time.Duration
	http      *http.Client
}

// New returns a configured client.
func New(cfg Config) (*Client, error) {
	targetURL, err := buildTargetURL(cfg.BaseURL, AnalyzePath)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Client{targetURL: targetURL, timeout: timeout, http: httpClient}, nil
}

// TargetURL returns the full analysis URL.
func (c *Client) TargetURL() string {
	return c.targetURL
}

type analyzeRequest struct {
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Analyze submits target and returns the raw JSON result. Non-2xx responses
// come back as *StatusError; transport failures and timeouts are returned
// wrapped so OutcomeOf can classify them.
func (c *Client) Analyze(ctx context.Context, target string) (json.RawMessage, error) {
	body, err := json.Marshal(analyzeRequest{Username: target})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !json.Valid(data) {
		return nil, &StatusError{Code: resp.StatusCode, Message: "invalid response body"}
	}
	return json.RawMessage(data), nil
}

func newStatusError(resp *http.Response) *StatusError {
	se := &StatusError{Code: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests {
		se.RetryAfter = resp.Header.Get("Retry-After")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err == nil && len(data) > 0 {
		var payload errorResponse
		if json.Unmarshal(data, &payload) == nil {
			se.Message = strings.TrimSpace(payload.Error)
		}
	}
	return se
}

// StatusError is a non-success response from the analysis service.
type StatusError struct {
	Code       int
	Message    string
	RetryAfter string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("analysis service returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("analysis service returned %d: %s", e.Code, http.StatusText(e.Code))
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// OutcomeOf converts an Analyze error into classifier input.
func OutcomeOf(err error) retry.Outcome {
	if err == nil {
		return retry.Outcome{}
	}

	var se *StatusError
	if errors.As(err, &se) {
		return retry.Outcome{StatusCode: se.Code, RetryAfter: se.RetryAfter}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Outcome{TimedOut: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Outcome{TimedOut: true}
	}
	return retry.Outcome{TransportErr: err}
}

// ServerMessage returns the service-provided error text, if any.
func ServerMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return strings.TrimRight(raw, "/")
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + strings.TrimRight(raw, "/")
	}
	return "http://" + strings.TrimRight(raw, "/")
}

func buildTargetURL(baseURL, path string) (string, error) {
	base := normalizeBaseURL(baseURL)
	if base == "" {
		return "", errors.New("empty backend url")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
