// Package http builds the outbound HTTP clients used by source adapters and model providers.
package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConns        = 50
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultUserAgent           = "opportunity-finder/1.0"

	maxErrorBody = 512
)

// ClientConfig configures NewClient. Zero values fall back to the defaults above.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	// UserAgent is set on every request that does not carry one already.
	UserAgent string
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// NewClient returns an *http.Client with pooled keep-alive connections.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        orDefault(cfg.MaxIdleConns, DefaultMaxIdleConns),
		MaxIdleConnsPerHost: orDefault(cfg.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost),
		IdleConnTimeout:     orDefault(cfg.IdleConnTimeout, DefaultIdleConnTimeout),
		TLSHandshakeTimeout: orDefault(cfg.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout),
	}

	return &http.Client{
		Timeout: orDefault(cfg.Timeout, DefaultTimeout),
		Transport: &userAgentTransport{
			base:      transport,
			userAgent: orDefault(cfg.UserAgent, DefaultUserAgent),
		},
	}
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// StatusError is returned by CheckResponse for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the upstream asked us to back off or failed server-side.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// CheckResponse returns a *StatusError for non-2xx responses. The body is not closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.Redacted(),
		Body:       strings.TrimSpace(string(snippet)),
	}
}

// IsRetryableStatus reports whether err carries a retryable *StatusError.
func IsRetryableStatus(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Retryable()
}
