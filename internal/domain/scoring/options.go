package scoring

import (
	"time"

	"github.com/okian/safescore/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Option applies a configuration option to the Context.
type Option func(*Context)

// WithBlacklist adds blacklisted addresses.
func WithBlacklist(addrs ...string) Option {
	return func(c *Context) { c.blacklist.addAddresses(addrs) }
}

// WithWatchlist adds watched addresses.
func WithWatchlist(addrs ...string) Option {
	return func(c *Context) { c.watchlist.addAddresses(addrs) }
}

// WithKnownAddresses adds senders that are not new.
func WithKnownAddresses(addrs ...string) Option {
	return func(c *Context) { c.known.addAddresses(addrs) }
}

// WithSensitiveTokens adds token symbols that raise the score penalty.
func WithSensitiveTokens(symbols ...string) Option {
	return func(c *Context) { c.sensitiveTokens.addSymbols(symbols) }
}

// WithSensitiveMethods adds methods that raise the score penalty.
func WithSensitiveMethods(methods ...string) Option {
	return func(c *Context) { c.sensitiveMethods.addSymbols(methods) }
}

// WithWeights overrides default weights entry by entry. A zero weight
// disables a rule.
func WithWeights(overrides map[string]int) Option {
	return func(c *Context) { c.weights = c.weights.Merge(overrides) }
}

// WithAmountThreshold sets the high_amount threshold.
func WithAmountThreshold(threshold decimal.Decimal) Option {
	return func(c *Context) {
		if threshold.IsPositive() {
			c.amountThreshold = threshold
		}
	}
}

// WithVelocityWindow sets the trailing velocity window.
func WithVelocityWindow(window time.Duration) Option {
	return func(c *Context) {
		if window > 0 {
			c.velocityWindow = window
		}
	}
}

// WithVelocityTrigger sets how many prior transactions inside the window
// trigger the velocity rule.
func WithVelocityTrigger(n int) Option {
	return func(c *Context) {
		if n > 0 {
			c.velocityTrigger = n
		}
	}
}

// WithHistory supplies prior transactions for the velocity rule.
func WithHistory(txs []model.Transaction) Option {
	return func(c *Context) {
		for _, tx := range txs {
			from := model.NormalizeAddress(tx.From)
			if from == "" {
				continue
			}
			c.history[from] = append(c.history[from], prior{id: tx.TxID, at: tx.Timestamp})
		}
	}
}
