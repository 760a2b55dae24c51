// Package repository holds the persisted token metadata cache.
package repository

import "github.com/okian/safescore/pkg/logger"

// Option applies a configuration option to the TokenCache.
type Option func(*TokenCache)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *TokenCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEntries seeds the cache, typically in tests.
func WithEntries(entries ...TokenEntry) Option {
	return func(c *TokenCache) {
		for _, e := range entries {
			c.put(e)
		}
	}
}
