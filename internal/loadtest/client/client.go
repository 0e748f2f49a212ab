// Package client sends the load test's HTTP requests.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Request is one request to send. Body is only sent for POST.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is what the load test keeps from a completed exchange.
type Response struct {
	StatusCode int
	Bytes      int64
}

// Sender performs a single request. A Sender must be safe for concurrent use.
//
// Send returns a *NetworkError when no response was obtained or the body could
// not be read. Any response that was fully read is returned without an error,
// whatever its status code.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Config contains HTTP client configuration.
type Config struct {
	// Timeout for the whole exchange, including reading the body
	Timeout time.Duration

	// MaxRedirects is how many redirects are followed; 0 disables following
	MaxRedirects int

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool
}

// DefaultConfig returns the settings used when no option overrides them.
func DefaultConfig() Config {
	return Config{
		Timeout:             60 * time.Second,
		MaxRedirects:        10,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 1000,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Option configures an HTTPSender.
type Option func(*Config)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxRedirects sets how many redirects are followed.
func WithMaxRedirects(n int) Option {
	return func(c *Config) {
		c.MaxRedirects = n
	}
}

// WithPoolSize sizes the idle pool, typically to the concurrency level.
func WithPoolSize(n int) Option {
	return func(c *Config) {
		if n > c.MaxIdleConns {
			c.MaxIdleConns = n
		}
		c.MaxIdleConnsPerHost = n
	}
}

// WithKeepAlives enables or disables connection reuse.
func WithKeepAlives(enabled bool) Option {
	return func(c *Config) {
		c.DisableKeepAlives = !enabled
	}
}

// HTTPSender is the net/http backed Sender. One HTTPSender is shared by every
// request task so that connections are pooled.
type HTTPSender struct {
	client *http.Client
	config Config
}

// New creates an HTTPSender with the given options.
func New(options ...Option) *HTTPSender {
	cfg := DefaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPSender{
		client: &http.Client{
			Transport:     transport,
			Timeout:       cfg.Timeout,
			CheckRedirect: redirectPolicy(cfg.MaxRedirects),
		},
		config: cfg,
	}
}

// Config returns the effective configuration.
func (s *HTTPSender) Config() Config {
	return s.config
}

// Send performs the request and drains the response body, counting its bytes.
func (s *HTTPSender) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 && req.Method == http.MethodPost {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, Classify(err)
	}
	defer httpResp.Body.Close()

	n, err := io.Copy(io.Discard, httpResp.Body)
	if err != nil {
		return nil, Classify(err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Bytes: n}, nil
}

// CloseIdleConnections releases pooled connections.
func (s *HTTPSender) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

func redirectPolicy(max int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if max <= 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > max {
			return fmt.Errorf("%w: stopped after %d redirects", ErrTooManyRedirects, max)
		}
		return nil
	}
}
