package rpc

import (
	"net/http"
	"time"

	"github.com/okian/safescore/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts sets the attempts made against each endpoint.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.policy.MaxAttempts = n
		}
	}
}

// WithBackoff sets the base delay of the exponential backoff.
func WithBackoff(base time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.policy.BaseDelay = base
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout is overridden by
// WithTimeout when both are set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
