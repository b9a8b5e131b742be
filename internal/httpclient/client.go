// Package httpclient builds the *http.Client shared by outbound REST clients.
package httpclient

import (
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds ordinary API requests.
	DefaultTimeout = 30 * time.Second

	// ExportTimeout bounds export downloads, which render documents server side.
	ExportTimeout = 2 * time.Minute

	defaultIdleConnsPerHost = 8
)

// Options configures an HTTP client.
type Options struct {
	Timeout          time.Duration
	IdleConnsPerHost int
	Transport        http.RoundTripper
}

// Option is a functional option for configuring HTTP clients.
type Option func(*Options)

// WithTimeout sets the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithIdleConnsPerHost sets how many keep-alive connections are kept per host.
func WithIdleConnsPerHost(n int) Option {
	return func(o *Options) {
		o.IdleConnsPerHost = n
	}
}

// WithTransport replaces the transport, typically in tests.
func WithTransport(t http.RoundTripper) Option {
	return func(o *Options) {
		o.Transport = t
	}
}

// New creates a new HTTP client with the given options.
// If no timeout is specified, DefaultTimeout is used.
func New(opts ...Option) *http.Client {
	cfg := &Options{
		Timeout:          DefaultTimeout,
		IdleConnsPerHost: defaultIdleConnsPerHost,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = cfg.IdleConnsPerHost
		transport = t
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}
