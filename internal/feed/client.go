/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package feed retrieves the remote schedule documents over HTTPS.
package feed

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/telemetry"
	"github.com/friendsincode/loadshed/internal/version"
)

// Fetcher retrieves the raw body of a remote document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params map[string]string) ([]byte, error)
}

// RetryPolicy bounds the transport-level retry loop. Only connection failures
// are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used against the public feeds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     50,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Client fetches documents with automatic retry on connection failures.
type Client struct {
	httpClient *http.Client
	retry      RetryPolicy
	userAgent  string
	logger     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default legacy-TLS client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryPolicy overrides the transport retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy.normalize()
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a feed client.
func NewClient(logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: NewHTTPClient(30 * time.Second),
		retry:      DefaultRetryPolicy(),
		userAgent:  "loadshed/" + version.Version,
		logger:     logger.With().Str("component", "feed").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves rawURL with params merged into its query string. HTTP
// error statuses are not retried; their body is returned for the caller to
// validate.
func (c *Client) Fetch(ctx context.Context, rawURL string, params map[string]string) ([]byte, error) {
	endpoint, err := buildURL(rawURL, params)
	if err != nil {
		return nil, err
	}
	host := endpoint.Host

	ctx, span := telemetry.StartSpan(ctx, "feed.Fetch")
	defer span.End()

	attempts := 0
	var body []byte
	operation := func() error {
		attempts++
		data, err := c.do(ctx, endpoint.String())
		if err == nil {
			body = data
			telemetry.FeedFetchAttemptsTotal.WithLabelValues(host, "success").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isConnectionError(err) {
			return backoff.Permanent(err)
		}
		telemetry.FeedFetchAttemptsTotal.WithLabelValues(host, "retry").Inc()
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retry.InitialInterval
	policy.MaxInterval = c.retry.MaxInterval
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		c.logger.Debug().
			Err(err).
			Str("url", endpoint.String()).
			Int("attempt", attempts).
			Int("max_attempts", c.retry.MaxAttempts).
			Dur("backoff", wait).
			Msg("feed connection failed, retrying")
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retry.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		telemetry.FeedFetchAttemptsTotal.WithLabelValues(host, "failed").Inc()
		telemetry.AddSpanAttributes(span, map[string]any{"feed.attempts": attempts})
		telemetry.RecordError(span, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.Warn().Err(err).Str("url", endpoint.String()).Int("attempts", attempts).Msg("feed fetch failed")
		return nil, &TransportError{URL: endpoint.String(), Attempts: attempts, Err: err}
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"feed.attempts": attempts,
		"feed.bytes":    len(body),
	})
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	telemetry.FeedHTTPStatusTotal.WithLabelValues(req.URL.Host, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn().
			Str("url", endpoint).
			Int("status", resp.StatusCode).
			Msg("feed returned error status")
	}
	return body, nil
}

func buildURL(rawURL string, params map[string]string) (*url.URL, error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if endpoint.Scheme != "https" || endpoint.Host == "" {
		return nil, fmt.Errorf("feed url must be an absolute https url: %q", rawURL)
	}
	if len(params) > 0 {
		query := endpoint.Query()
		for key, value := range params {
			query.Set(key, value)
		}
		endpoint.RawQuery = query.Encode()
	}
	return endpoint, nil
}

// isConnectionError reports whether err is a connection-level failure worth
// retrying: refused or reset connections, abrupt disconnects, DNS and other
// socket errors, and timeouts. TLS handshake and certificate failures are
// not retried.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if isTLSError(err) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		syscall.ETIMEDOUT,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isTLSError(err error) bool {
	// Alerts sent by the server surface as "remote error" operations.
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &invalidErr)
}
