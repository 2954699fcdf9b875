package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultProbeTimeout = 5 * time.Second
	// DefaultUserAgent identifies liveness probes.
	DefaultUserAgent = "Mozilla/5.0 (compatible; DecayMonitorBot/1.0)"
	maxDrainBytes    = 64 << 10
)

// ProbeResult is the outcome of one liveness check. Decayed is set for any
// status >= 400 and for every transport error, transient or not.
type ProbeResult struct {
	URL        string
	Method     string
	StatusCode int
	Decayed    bool
	Err        error
}

// HTTPProber checks liveness with HEAD and falls back to GET when the
// server rejects HEAD or the HEAD request cannot be built.
type HTTPProber struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// ProberOption customizes an HTTPProber.
type ProberOption func(*HTTPProber)

// WithHTTPClient swaps the underlying client.
func WithHTTPClient(client *http.Client) ProberOption {
	return func(p *HTTPProber) {
		if client != nil {
			p.client = client
		}
	}
}

// NewHTTPProber builds a prober with a per-request timeout.
func NewHTTPProber(timeout time.Duration, userAgent string, opts ...ProberOption) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	p := &HTTPProber{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		userAgent: userAgent,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type requestBuildError struct{ err error }

func (e *requestBuildError) Error() string { return e.err.Error() }
func (e *requestBuildError) Unwrap() error { return e.err }

// Probe checks rawURL.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) ProbeResult {
	status, err := p.do(ctx, http.MethodHead, rawURL)
	method := http.MethodHead

	var buildErr *requestBuildError
	if errors.As(err, &buildErr) || (err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented)) {
		method = http.MethodGet
		status, err = p.do(ctx, http.MethodGet, rawURL)
	}

	return ProbeResult{
		URL:        rawURL,
		Method:     method,
		StatusCode: status,
		Decayed:    err != nil || status >= http.StatusBadRequest,
		Err:        err,
	}
}

func (p *HTTPProber) do(ctx context.Context, method, rawURL string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, &requestBuildError{err: fmt.Errorf("build %s request: %w", method, err)}
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}
