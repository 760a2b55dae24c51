// Package decoder turns raw blocks into canonical transactions. It scans a
// bounded block range newest-first, applies cheap filters, classifies each
// transaction and decodes the two supported ERC-20 calls.
package decoder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/okian/safescore/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Defaults for a decoder run.
const (
	DefaultChain        = "ETH"
	DefaultNativeSymbol = "ETH"
	DefaultBlocksBack   = 20
	DefaultMaxTx        = 50
)

// BlockSource is the chain access the decoder needs.
type BlockSource interface {
	ChainID(ctx context.Context) (uint64, string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*model.RawBlock, error)
}

// TokenResolver returns usable metadata for a token contract.
type TokenResolver interface {
	Resolve(ctx context.Context, address string) model.TokenMetadata
}

// Decoder decodes block ranges into canonical transactions.
type Decoder struct {
	source       BlockSource
	tokens       TokenResolver
	chain        string
	nativeSymbol string
	concurrency  int
	logger       logger.Logger
}

// New creates a decoder.
func New(source BlockSource, tokens TokenResolver, opts ...Option) *Decoder {
	d := &Decoder{
		source:       source,
		tokens:       tokens,
		chain:        DefaultChain,
		nativeSymbol: DefaultNativeSymbol,
		concurrency:  1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named("decoder")
	}
	return d
}

// Params bounds one decoder run.
type Params struct {
	BlocksBack int
	MaxTx      int
	Filters    Filters
}

// Stats counts what a range scan did.
type Stats struct {
	FromBlock     uint64
	ToBlock       uint64
	BlocksScanned int
	BlocksSkipped int
	TxSkipped     int
}

// Run probes the endpoints, finds the latest block and decodes the range
// below it. Failing to reach any endpoint for the probe or the latest block
// is fatal to the run: the result is empty and metadata.Error is set.
func (d *Decoder) Run(ctx context.Context, p Params) ([]model.Transaction, model.RunMetadata) {
	meta := model.RunMetadata{
		RunID:     uuid.NewString(),
		Chain:     d.chain,
		Filters:   p.Filters.Config(p.BlocksBack, p.MaxTx),
		StartedAt: time.Now().UTC(),
	}
	finish := func(txs []model.Transaction, err error) ([]model.Transaction, model.RunMetadata) {
		if err != nil {
			meta.Error = err.Error()
			d.logger.Error(ctx, "decoder run aborted",
				logger.String("run_id", meta.RunID),
				logger.Error(err),
			)
		}
		if txs == nil {
			txs = []model.Transaction{}
		}
		meta.Collected = len(txs)
		meta.FinishedAt = time.Now().UTC()
		return txs, meta
	}

	chainID, endpoint, err := d.source.ChainID(ctx)
	if err != nil {
		return finish(nil, fmt.Errorf("liveness probe: %w", err))
	}
	meta.ChainID, meta.Endpoint = chainID, endpoint

	latest, err := d.source.BlockNumber(ctx)
	if err != nil {
		return finish(nil, fmt.Errorf("latest block: %w", err))
	}
	meta.LatestBlock = latest

	txs, stats := d.DecodeRange(ctx, latest, p.BlocksBack, p.MaxTx, p.Filters)
	meta.FromBlock, meta.ToBlock = stats.FromBlock, stats.ToBlock
	meta.BlocksScanned, meta.BlocksSkipped, meta.TxSkipped = stats.BlocksScanned, stats.BlocksSkipped, stats.TxSkipped

	d.logger.Info(ctx, "decoder run finished",
		logger.String("run_id", meta.RunID),
		logger.Uint64("chain_id", chainID),
		logger.Uint64("latest_block", latest),
		logger.Int("blocks_scanned", stats.BlocksScanned),
		logger.Int("blocks_skipped", stats.BlocksSkipped),
		logger.Int("collected", len(txs)),
	)
	return finish(txs, nil)
}

// DecodeRange scans from latest down to max(0, latest-blocksBack+1) and
// returns at most maxTx transactions, newest block first and in node order
// within a block. Failed block fetches and malformed transactions are
// skipped.
func (d *Decoder) DecodeRange(ctx context.Context, latest uint64, blocksBack, maxTx int, filters Filters) ([]model.Transaction, Stats) {
	stats := Stats{ToBlock: latest, FromBlock: latest}
	out := []model.Transaction{}
	if blocksBack <= 0 || maxTx <= 0 {
		return out, stats
	}

	count := uint64(blocksBack)
	if count > latest+1 {
		count = latest + 1
	}
	stats.FromBlock = latest - count + 1

	f := filters.compile()
	fetched := d.fetchDescending(ctx, latest, int(count))
	defer fetched.stop()

	for i := 0; i < int(count); i++ {
		if ctx.Err() != nil {
			break
		}
		number := latest - uint64(i)
		res := fetched.next()
		if res.err != nil {
			stats.BlocksSkipped++
			metrics.RecordBlockSkipped()
			d.logger.Warn(ctx, "skipping block",
				logger.Uint64("block", number),
				logger.Error(fmt.Errorf("%w: %w", ErrBlockFetch, res.err)),
			)
			continue
		}
		stats.BlocksScanned++
		metrics.RecordBlockScanned()

		blockTime := time.Unix(int64(res.block.Timestamp), 0).UTC()
		for _, raw := range res.block.Transactions {
			tx, err := d.decode(ctx, raw, blockTime, f)
			if err != nil {
				stats.TxSkipped++
				reason := skipReason(err)
				metrics.RecordTxSkipped(reason)
				if reason == ReasonDecodeError {
					d.logger.Warn(ctx, "skipping malformed transaction",
						logger.Uint64("block", number),
						logger.String("tx", raw.Hash),
						logger.Error(err),
					)
				}
				continue
			}
			metrics.RecordTxDecoded(string(tx.Method))
			out = append(out, tx)
			if len(out) >= maxTx {
				return out, stats
			}
		}
	}
	return out, stats
}

type fetchResult struct {
	block *model.RawBlock
	err   error
}

// prefetch delivers blocks in descending order while up to concurrency
// fetches run ahead. stop cancels outstanding fetches and waits for them.
// With a concurrency of one it fetches on demand.
type prefetch struct {
	fetch  func(ctx context.Context, number uint64) fetchResult
	ctx    context.Context
	latest uint64
	slots  []chan fetchResult
	pos    int
	cancel context.CancelFunc
	done   chan struct{}
	group  *errgroup.Group
}

func (p *prefetch) next() fetchResult {
	defer func() { p.pos++ }()
	if p.slots == nil {
		return p.fetch(p.ctx, p.latest-uint64(p.pos))
	}
	return <-p.slots[p.pos]
}

func (p *prefetch) stop() {
	p.cancel()
	if p.slots == nil {
		return
	}
	<-p.done
	_ = p.group.Wait()
}

func (d *Decoder) fetchBlock(ctx context.Context, number uint64) fetchResult {
	b, err := d.source.BlockByNumber(ctx, number)
	if err == nil && b == nil {
		err = fmt.Errorf("block %d: empty response", number)
	}
	return fetchResult{block: b, err: err}
}

func (d *Decoder) fetchDescending(ctx context.Context, latest uint64, count int) *prefetch {
	fctx, cancel := context.WithCancel(ctx)
	p := &prefetch{
		fetch:  d.fetchBlock,
		ctx:    fctx,
		latest: latest,
		cancel: cancel,
	}
	if d.concurrency <= 1 {
		return p
	}

	g, gctx := errgroup.WithContext(fctx)
	g.SetLimit(d.concurrency)
	p.group = g
	p.done = make(chan struct{})
	p.slots = make([]chan fetchResult, count)
	for i := range p.slots {
		p.slots[i] = make(chan fetchResult, 1)
	}

	go func() {
		defer close(p.done)
		for i := range count {
			slot := p.slots[i]
			number := latest - uint64(i)
			if err := gctx.Err(); err != nil {
				slot <- fetchResult{err: err}
				continue
			}
			g.Go(func() error {
				slot <- d.fetchBlock(gctx, number)
				return nil
			})
		}
	}()
	return p
}
