package transport

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures the HTTP transport behavior.
//
// Defaults:
// - Timeout:    10s (used only if the call carries no deadline)
// - RetryCount: 0
//
// Provider must be set; calls fail without one.
type Options struct {
	Provider EndpointProvider

	Timeout    time.Duration
	RetryCount int

	// Headers are sent with every call.
	Headers map[string]string

	// HTTPClient replaces the underlying client, mostly for tests.
	HTTPClient *http.Client

	Logger logrus.FieldLogger
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Timeout: 10 * time.Second,
		Logger:  logrus.StandardLogger(),
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithTimeout(d time.Duration) Option     { return func(o *Options) { o.Timeout = d } }
func WithRetryCount(n int) Option            { return func(o *Options) { o.RetryCount = n } }
func WithHTTPClient(c *http.Client) Option   { return func(o *Options) { o.HTTPClient = c } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Options) { o.Logger = l } }
func WithHeader(name, value string) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = map[string]string{}
		}
		o.Headers[name] = value
	}
}
