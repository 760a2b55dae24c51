// Package source provides the synthetic transaction source used when no RPC
// endpoint can serve a run.
package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/shopspring/decimal"
)

// Defaults for the synthetic source.
const (
	MockChain        = "MOCK"
	DefaultMockCount = 50
	DefaultMockSpan  = 10 * time.Hour
)

const (
	minAmount = 1.0
	maxAmount = 25_000.0
)

// mockNamespace scopes the name-based ids of synthetic transactions.
var mockNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("safescore.mock"))

var (
	mockTokens  = []string{"ETH", "USDT", "USDC", "DAI"}
	mockMethods = []model.Method{model.MethodTransfer, model.MethodSwap, model.MethodApprove}
)

// Option configures a Mock.
type Option func(*Mock)

// WithCount sets how many transactions a call returns.
func WithCount(n int) Option {
	return func(m *Mock) {
		if n > 0 {
			m.count = n
		}
	}
}

// WithSeed fixes the random seed. Without it the seed is the current UTC
// hour, so repeated runs within an hour see the same data.
func WithSeed(seed uint64) Option {
	return func(m *Mock) {
		m.seed = &seed
	}
}

// WithSpan sets how far back timestamps reach.
func WithSpan(d time.Duration) Option {
	return func(m *Mock) {
		if d > 0 {
			m.span = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Mock) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Mock) {
		if l != nil {
			m.logger = l
		}
	}
}

// Mock generates plausible transactions on the MOCK chain.
type Mock struct {
	count  int
	seed   *uint64
	span   time.Duration
	now    func() time.Time
	logger logger.Logger
}

// NewMock creates a synthetic source.
func NewMock(opts ...Option) *Mock {
	m := &Mock{
		count: DefaultMockCount,
		span:  DefaultMockSpan,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get().Named("source.mock")
	}
	return m
}

// Chain returns the chain label of generated transactions.
func (m *Mock) Chain() string { return MockChain }

// Transactions generates the configured number of transactions with
// timestamps spread over the span before now, in generation order.
func (m *Mock) Transactions(ctx context.Context) []model.Transaction {
	now := m.now().UTC()
	seed := uint64(now.Truncate(time.Hour).Unix())
	if m.seed != nil {
		seed = *m.seed
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	spanMinutes := int(m.span / time.Minute)
	out := make([]model.Transaction, m.count)
	for i := range out {
		back := time.Duration(rng.IntN(spanMinutes+1)) * time.Minute
		amount := minAmount + rng.Float64()*(maxAmount-minAmount)
		out[i] = model.Transaction{
			TxID:      mockTxID(seed, now, i),
			Timestamp: now.Add(-back),
			From:      randomAddress(rng),
			To:        randomAddress(rng),
			Amount:    decimal.NewFromFloat(amount).Round(2),
			Token:     mockTokens[rng.IntN(len(mockTokens))],
			Method:    mockMethods[rng.IntN(len(mockMethods))],
			Chain:     MockChain,
		}
	}
	m.logger.Info(ctx, "generated synthetic transactions",
		logger.Int("count", len(out)),
		logger.Uint64("seed", seed),
	)
	return out
}

// mockTxID is a version 5 uuid, stable for a given seed, clock and index.
func mockTxID(seed uint64, now time.Time, i int) string {
	return uuid.NewSHA1(mockNamespace, fmt.Appendf(nil, "%d/%d/%d", seed, now.UnixNano(), i)).String()
}

func randomAddress(rng *rand.Rand) string {
	var b [common.AddressLength]byte
	for i := 0; i < len(b); i += 8 {
		v := rng.Uint64()
		for j := 0; j < 8 && i+j < len(b); j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	return common.BytesToAddress(b[:]).Hex()
}
