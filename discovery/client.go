// Package discovery crawls configured news sources. It fetches listing
// pages under the shared rate limiter, extracts one article per listing
// node, fetches each article's full text and hands the result to the
// article store.
package discovery

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultUserAgent identifies the crawler when no user agent is configured.
const DefaultUserAgent = "newsagg/1.0 (news aggregator; +https://github.com/pevans/newsagg)"

// Errors returned by fetches.
var (
	ErrEmptyResponse   = errors.New("empty response received")
	ErrTooManyRequests = errors.New("429 Too Many Requests")
	ErrTLS             = errors.New("SSL certificate error")
	ErrBodyTooLarge    = errors.New("response body too large")
)

// HTTPError is returned when a server answers with a non-200 status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ClientConfig controls the HTTP client shared by listing and article
// fetches.
type ClientConfig struct {
	UserAgent      string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	// SSLVerify is "true" (the default), "false" or "0" to disable
	// certificate verification, or a path to a PEM CA bundle.
	SSLVerify    string
	MaxBodyBytes int64
}

// DefaultClientConfig returns the standard client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		UserAgent:      DefaultUserAgent,
		Timeout:        15 * time.Second,
		ConnectTimeout: 10 * time.Second,
		SSLVerify:      "true",
		MaxBodyBytes:   5 * 1024 * 1024,
	}
}

func (c *ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	out := *c
	if out.UserAgent == "" {
		out.UserAgent = def.UserAgent
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if strings.TrimSpace(out.SSLVerify) == "" {
		out.SSLVerify = def.SSLVerify
	}
	if out.MaxBodyBytes <= 0 {
		out.MaxBodyBytes = def.MaxBodyBytes
	}
	return out
}

// InsecureSkipVerify reports whether SSLVerify disables verification.
func (c *ClientConfig) InsecureSkipVerify() bool {
	v := strings.TrimSpace(strings.ToLower(c.SSLVerify))
	return v == "false" || v == "0"
}

// CABundle returns the CA bundle path configured in SSLVerify, if any.
func (c *ClientConfig) CABundle() string {
	v := strings.TrimSpace(c.SSLVerify)
	switch strings.ToLower(v) {
	case "", "true", "1", "false", "0":
		return ""
	}
	return v
}

// NewHTTPClient builds the HTTP client described by cfg.
func NewHTTPClient(cfg ClientConfig) (*http.Client, error) {
	cfg = cfg.withDefaults()

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	switch {
	case cfg.InsecureSkipVerify():
		tlsConfig.InsecureSkipVerify = true
	case cfg.CABundle() != "":
		pem, err := os.ReadFile(cfg.CABundle())
		if err != nil {
			return nil, fmt.Errorf("%w: read CA bundle: %v", ErrTLS, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in CA bundle %s", ErrTLS, cfg.CABundle())
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		TLSClientConfig:       tlsConfig,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}, nil
}

// classifyTransportError wraps certificate failures in ErrTLS so they can be
// told apart from other transport errors.
func classifyTransportError(err error) error {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return fmt.Errorf("%w: %v. Check the SSL_VERIFY setting", ErrTLS, err)
	}
	return fmt.Errorf("http request failed: %w", err)
}
