// Package token resolves ERC-20 symbol and decimals with a persistent cache.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/safescore/internal/domain/abi"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/okian/safescore/pkg/metrics"
)

// Defaults applied when a metadata call fails.
const (
	DefaultSymbol   = "TOKEN"
	DefaultDecimals = 18
	MaxDecimals     = 36
)

var (
	errEmptySymbol      = errors.New("empty symbol")
	errDecimalsOutRange = fmt.Errorf("decimals outside [0,%d]", MaxDecimals)
)

// Caller issues read-only contract calls.
type Caller interface {
	EthCall(ctx context.Context, to string, data []byte) ([]byte, error)
}

// Cache stores resolved metadata by lowercase contract address.
type Cache interface {
	Get(address string) (model.TokenMetadata, bool)
	Put(meta model.TokenMetadata) bool
}

// Resolver resolves token metadata, consulting the cache first.
type Resolver struct {
	caller Caller
	cache  Cache
	logger logger.Logger
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver over caller and cache.
func NewResolver(caller Caller, cache Cache, opts ...Option) *Resolver {
	r := &Resolver{caller: caller, cache: cache}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("token")
	}
	return r
}

// Resolve returns usable metadata for address and never fails. Defaults are
// cached like real values so a broken contract is queried once per cache.
func (r *Resolver) Resolve(ctx context.Context, address string) model.TokenMetadata {
	key := model.NormalizeAddress(address)
	if meta, ok := r.cache.Get(key); ok {
		metrics.RecordTokenCacheHit()
		return meta
	}
	metrics.RecordTokenCacheMiss()

	meta, err := r.Lookup(ctx, key)
	if err != nil {
		r.logger.Warn(ctx, "token metadata defaulted",
			logger.String("token", key),
			logger.String("symbol", meta.Symbol),
			logger.Int("decimals", int(meta.Decimals)),
			logger.Error(err),
		)
	}
	r.cache.Put(meta)
	return meta
}

// Lookup queries symbol() and decimals() without touching the cache. The
// returned metadata is always usable; err joins a *MetadataError for each
// field that fell back to its default.
func (r *Resolver) Lookup(ctx context.Context, address string) (model.TokenMetadata, error) {
	meta := model.TokenMetadata{
		Address:  model.NormalizeAddress(address),
		Symbol:   DefaultSymbol,
		Decimals: DefaultDecimals,
	}

	symbol, symErr := r.symbol(ctx, meta.Address)
	if symErr == nil {
		meta.Symbol = symbol
	} else {
		metrics.RecordTokenMetadataDefault(FieldSymbol)
	}

	decimals, decErr := r.decimals(ctx, meta.Address)
	if decErr == nil {
		meta.Decimals = decimals
	} else {
		metrics.RecordTokenMetadataDefault(FieldDecimals)
	}

	return meta, errors.Join(symErr, decErr)
}

func (r *Resolver) symbol(ctx context.Context, address string) (string, error) {
	ret, err := r.caller.EthCall(ctx, address, abi.SelectorSymbol.Bytes())
	if err != nil {
		return "", &MetadataError{Address: address, Field: FieldSymbol, Err: err}
	}
	s, err := abi.DecodeString(ret)
	if err != nil {
		return "", &MetadataError{Address: address, Field: FieldSymbol, Err: err}
	}
	s = abi.Truncate(s, model.MaxSymbolLength)
	if s == "" {
		return "", &MetadataError{Address: address, Field: FieldSymbol, Err: errEmptySymbol}
	}
	return s, nil
}

func (r *Resolver) decimals(ctx context.Context, address string) (uint8, error) {
	ret, err := r.caller.EthCall(ctx, address, abi.SelectorDecimals.Bytes())
	if err != nil {
		return 0, &MetadataError{Address: address, Field: FieldDecimals, Err: err}
	}
	v, err := abi.DecodeUint(ret)
	if err != nil {
		return 0, &MetadataError{Address: address, Field: FieldDecimals, Err: err}
	}
	if !v.IsUint64() || v.Uint64() > MaxDecimals {
		return 0, &MetadataError{Address: address, Field: FieldDecimals, Err: errDecimalsOutRange}
	}
	return uint8(v.Uint64()), nil
}
