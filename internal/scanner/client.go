package scanner

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

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second

	// Response bodies beyond this size are treated as malformed.
	maxResponseBytes = 1 << 20
)

// ClientConfig configures the backend client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	MaxRPS    float64 // 0 disables outbound throttling
	UserAgent string

	// HTTPClient overrides the transport, mostly for tests. Its own Timeout
	// is ignored in favour of the per-call deadline.
	HTTPClient *http.Client
}

// Client issues one request per scan to the remote scanning service and
// normalizes the outcome into a result or a *ScanError. It keeps no
// per-scan state and is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new backend client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing scanner base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scanner base url must be http or https, got %q", base)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "scanhub"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	c := &Client{
		baseURL:    base,
		timeout:    timeout,
		userAgent:  userAgent,
		httpClient: httpClient,
	}
	if cfg.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), 1)
	}

	return c, nil
}

// Timeout is the per-call deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// ScanPorts requests a port scan of target. An empty portRange means
// DefaultPortRange.
func (c *Client) ScanPorts(ctx context.Context, target, portRange string) (*PortScanResult, error) {
	const op = "ports"

	target, err := checkTarget(op, target)
	if err != nil {
		return nil, err
	}
	ports, err := NormalizePorts(portRange)
	if err != nil {
		return nil, invalidRequest(op, err.Error())
	}

	var out PortScanResult
	raw, err := c.post(ctx, op, "/scan/ports", portScanRequest{Target: target, Ports: ports}, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

// ScanVulnerabilities requests a vulnerability scan of target.
func (c *Client) ScanVulnerabilities(ctx context.Context, target string) (*VulnScanResult, error) {
	const op = "vulnerabilities"

	target, err := checkTarget(op, target)
	if err != nil {
		return nil, err
	}

	var out VulnScanResult
	raw, err := c.post(ctx, op, "/scan/vulnerabilities", targetRequest{Target: target}, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

// ScanTLS requests a TLS/SSL configuration check of target.
func (c *Client) ScanTLS(ctx context.Context, target string) (*TLSScanResult, error) {
	const op = "ssl"

	target, err := checkTarget(op, target)
	if err != nil {
		return nil, err
	}

	var out TLSScanResult
	raw, err := c.post(ctx, op, "/scan/ssl", targetRequest{Target: target}, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

// Ping checks the backend's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	const op = "health"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &ScanError{Kind: KindInvalidRequest, Op: op, Message: "building request", Cause: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ScanError{Kind: KindBackendRejected, Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// post sends body as JSON, decodes a 2xx response into out and returns the
// compacted response body.
func (c *Client) post(ctx context.Context, op, path string, body, out any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// The limiter refuses to wait past the deadline.
			return nil, &ScanError{Kind: KindTimeout, Op: op, Message: "throttled past deadline", Cause: err}
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ScanError{Kind: KindInvalidRequest, Op: op, Message: "encoding request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &ScanError{Kind: KindInvalidRequest, Op: op, Message: "building request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransport(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ScanError{
			Kind:       KindBackendRejected,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	if len(raw) > maxResponseBytes {
		return nil, malformed(op, fmt.Sprintf("response exceeds %d bytes", maxResponseBytes), nil)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, malformed(op, "empty response body", nil)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return nil, malformed(op, "decoding response", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, malformed(op, "decoding response", err)
	}
	return compact.Bytes(), nil
}

func checkTarget(op, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", invalidRequest(op, "target must not be empty")
	}
	return target, nil
}

// classifyTransport maps an error from the HTTP round trip onto Timeout or
// Unreachable.
func classifyTransport(ctx context.Context, op string, err error) *ScanError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ScanError{Kind: KindTimeout, Op: op, Message: "no response before deadline", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ScanError{Kind: KindTimeout, Op: op, Message: "no response before deadline", Cause: err}
	}
	return &ScanError{Kind: KindUnreachable, Op: op, Message: "backend unreachable", Cause: err}
}
