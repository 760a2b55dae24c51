package decoder

import (
	"strings"

	"github.com/okian/safescore/pkg/logger"
)

// Option applies a configuration option to the Decoder.
type Option func(*Decoder)

// WithChain sets the chain name stamped on every record.
func WithChain(name string) Option {
	return func(d *Decoder) {
		if name = strings.TrimSpace(name); name != "" {
			d.chain = name
		}
	}
}

// WithNativeSymbol sets the token symbol used for native transfers.
func WithNativeSymbol(symbol string) Option {
	return func(d *Decoder) {
		if symbol = strings.TrimSpace(symbol); symbol != "" {
			d.nativeSymbol = symbol
		}
	}
}

// WithConcurrency sets how many blocks are fetched ahead in parallel. One
// keeps the scan strictly sequential.
func WithConcurrency(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}
