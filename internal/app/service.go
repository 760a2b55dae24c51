// Package service runs one scoring batch: collect transactions, score them
// against the static lists and history, then hand the records to sinks and
// alert channels.
package service

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/okian/safescore/internal/adapters/alert"
	"github.com/okian/safescore/internal/adapters/lists"
	"github.com/okian/safescore/internal/adapters/repository"
	"github.com/okian/safescore/internal/adapters/rpc"
	"github.com/okian/safescore/internal/adapters/sink"
	"github.com/okian/safescore/internal/domain/decoder"
	"github.com/okian/safescore/internal/domain/dedupe"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/internal/domain/scoring"
	"github.com/okian/safescore/pkg/logger"
	"github.com/okian/safescore/pkg/metrics"
)

// Sources of a run's transactions.
const (
	SourceRPC      = "rpc"
	SourceFallback = "fallback"
	SourceInput    = "input"
)

// Collector produces a run's transactions. A failed run returns no
// transactions and sets metadata.Error.
type Collector interface {
	Run(ctx context.Context, p decoder.Params) ([]model.Transaction, model.RunMetadata)
}

// Fallback produces transactions when the collector cannot.
type Fallback interface {
	Chain() string
	Transactions(ctx context.Context) []model.Transaction
}

// Store is the database side of history and the known-address list.
type Store interface {
	PriorTransactions(ctx context.Context, since time.Time, limit int) ([]model.Transaction, error)
	KnownAddresses(ctx context.Context) ([]string, error)
	AddKnownAddresses(ctx context.Context, addresses []string) (int, error)
	RecordRun(ctx context.Context, meta model.RunMetadata) error
}

// TokenCache is loaded before and saved after every run.
type TokenCache interface {
	Load(ctx context.Context) error
	Save(ctx context.Context) error
}

// RunResult is everything a run produced.
type RunResult struct {
	Metadata model.RunMetadata
	// Source is rpc, fallback or input.
	Source  string
	Records []model.ScoredRecord
	// NewAddresses are senders that triggered new_address, deduplicated in
	// first-seen order.
	NewAddresses []string
	// Critical counts records scoring below the alert threshold.
	Critical int
	Alert    *alert.Alert
}

// Service orchestrates scoring runs.
type Service struct {
	collector      Collector
	fallback       Fallback
	params         decoder.Params
	dataDir        string
	historyFiles   int
	historyWindow  time.Duration
	store          Store
	sinks          []sink.Sink
	alerters       []alert.Alerter
	alertThreshold int
	readOnly       bool
	cache          TokenCache
	weights        map[string]int
	scoringOpts    []scoring.Option
	now            func() time.Time
	logger         logger.Logger

	sink  *sink.Multi
	alert *alert.Multi
}

// New constructs a Service.
func New(opts ...Option) *Service {
	s := &Service{
		params: decoder.Params{
			BlocksBack: decoder.DefaultBlocksBack,
			MaxTx:      decoder.DefaultMaxTx,
		},
		historyWindow:  24 * time.Hour,
		alertThreshold: alert.DefaultThreshold,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.sink = sink.NewMulti(s.sinks...)
	s.alert = alert.NewMulti(s.alerters...)
	return s
}

// Run collects, scores and publishes one batch. A collector failure is not
// an error: the fallback is used when configured, otherwise the result is
// empty with Metadata.Error set. Only cancellation returns an error.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	start := s.now()

	if s.cache != nil {
		if err := s.cache.Load(ctx); err != nil {
			s.logger.Warn(ctx, "token cache not loaded, starting empty", logger.Error(err))
			metrics.RecordErrorByComponent("service", "token_cache_load")
		}
	}

	txs, meta := s.collect(ctx)
	source := SourceRPC
	if meta.Failed() && len(txs) == 0 {
		metrics.RecordRunDecoderFailure()
		if s.fallback != nil {
			txs = s.fallback.Transactions(ctx)
			source = SourceFallback
			meta.Chain = s.fallback.Chain()
			meta.Collected = len(txs)
			s.logger.Warn(ctx, "collector failed, using fallback source",
				logger.String("run_id", meta.RunID),
				logger.String("reason", meta.Error),
				logger.Int("collected", len(txs)),
			)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := s.process(ctx, meta, source, txs)

	if s.cache != nil {
		if err := s.cache.Save(ctx); err != nil && !errors.Is(err, repository.ErrNoPath) {
			s.logger.Warn(ctx, "token cache not saved", logger.Error(err))
			metrics.RecordErrorByComponent("service", "token_cache_save")
		}
	}
	s.finish(ctx, res, start)
	return res, nil
}

// Score scores externally supplied transactions, skipping collection.
func (s *Service) Score(ctx context.Context, txs []model.Transaction) (*RunResult, error) {
	start := s.now()
	meta := model.RunMetadata{
		RunID:     uuid.NewString(),
		StartedAt: start.UTC(),
		Collected: len(txs),
	}
	if len(txs) > 0 {
		meta.Chain = txs[0].Chain
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := s.process(ctx, meta, SourceInput, txs)
	s.finish(ctx, res, start)
	return res, nil
}

// Close releases sinks and alert channels.
func (s *Service) Close() error {
	return errors.Join(s.sink.Close(), s.alert.Close())
}

func (s *Service) collect(ctx context.Context) ([]model.Transaction, model.RunMetadata) {
	if s.collector == nil {
		return nil, model.RunMetadata{
			RunID:      uuid.NewString(),
			Filters:    s.params.Filters.Config(s.params.BlocksBack, s.params.MaxTx),
			Error:      rpc.ErrNoEndpoints.Error(),
			StartedAt:  s.now().UTC(),
			FinishedAt: s.now().UTC(),
		}
	}
	return s.collector.Run(ctx, s.params)
}

func (s *Service) process(ctx context.Context, meta model.RunMetadata, source string, txs []model.Transaction) *RunResult {
	res := &RunResult{Metadata: meta, Source: source}

	rc := scoring.NewContext(s.scoringOptions(ctx, meta, txs)...)
	res.Records = scoring.ScoreAll(txs, rc)
	for _, r := range res.Records {
		metrics.RecordScore(r.Score)
		for name := range r.Hits {
			metrics.RecordRuleHit(name)
		}
	}

	res.NewAddresses = newAddresses(ctx, res.Records)
	if s.readOnly {
		if a, ok := alert.Build(meta.RunID, res.Records, s.alertThreshold); ok {
			res.Alert = &a
			res.Critical = a.Count
		}
		return res
	}
	if source != SourceFallback {
		s.rememberAddresses(ctx, res.NewAddresses)
	}

	if len(res.Records) > 0 {
		s.sink.SetRunID(meta.RunID)
		_ = s.sink.Write(ctx, res.Records)
	}

	if a, ok := alert.Build(meta.RunID, res.Records, s.alertThreshold); ok {
		res.Alert = &a
		res.Critical = a.Count
		if s.alert.Len() > 0 {
			_ = s.alert.Send(ctx, a)
		}
	}
	return res
}

// scoringOptions assembles the rule context from the data directory, the
// store and the service's own overrides, in that order.
func (s *Service) scoringOptions(ctx context.Context, meta model.RunMetadata, txs []model.Transaction) []scoring.Option {
	var l lists.Lists
	if s.dataDir != "" {
		var err error
		if l, err = lists.Load(s.dataDir); err != nil {
			s.logger.Warn(ctx, "some lists could not be read", logger.String("dir", s.dataDir), logger.Error(err))
		}
	}

	known := l.KnownAddresses
	var history []model.Transaction
	if s.store != nil {
		stored, err := s.store.KnownAddresses(ctx)
		if err != nil {
			s.logger.Warn(ctx, "known addresses unavailable from store", logger.Error(err))
		}
		known = append(known, stored...)

		since := s.historySince(txs)
		if history, err = s.store.PriorTransactions(ctx, since, 0); err != nil {
			s.logger.Warn(ctx, "history unavailable from store", logger.Error(err))
		}
	} else if s.dataDir != "" {
		var err error
		if history, err = sink.History(s.dataDir, s.historyFiles); err != nil {
			s.logger.Warn(ctx, "some history files could not be read", logger.Error(err))
		}
	}

	s.logger.Debug(ctx, "rule context loaded",
		logger.String("run_id", meta.RunID),
		logger.Int("blacklist", len(l.Blacklist)),
		logger.Int("watchlist", len(l.Watchlist)),
		logger.Int("known", len(known)),
		logger.Int("history", len(history)),
	)

	opts := []scoring.Option{
		scoring.WithBlacklist(l.Blacklist...),
		scoring.WithWatchlist(l.Watchlist...),
		scoring.WithKnownAddresses(known...),
		scoring.WithSensitiveTokens(l.SensitiveTokens...),
		scoring.WithSensitiveMethods(l.SensitiveMethods...),
		scoring.WithWeights(l.Weights),
		scoring.WithWeights(s.weights),
		scoring.WithHistory(history),
	}
	return append(opts, s.scoringOpts...)
}

// historySince anchors the store query on the earliest transaction being
// scored, not the wall clock, so re-scoring old data still sees its history.
// The lookback is never shorter than the velocity window.
func (s *Service) historySince(txs []model.Transaction) time.Time {
	earliest := s.now()
	for _, tx := range txs {
		if !tx.Timestamp.IsZero() && tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
	}
	lookback := max(s.historyWindow, scoring.NewContext(s.scoringOpts...).VelocityWindow())
	return earliest.Add(-lookback)
}

func newAddresses(ctx context.Context, records []model.ScoredRecord) []string {
	seen := dedupe.New(dedupe.WithNormalizer(model.NormalizeAddress))
	for _, r := range records {
		if r.Triggered(scoring.RuleNewAddress) {
			seen.SeenAndRecord(ctx, r.From)
		}
	}
	return seen.Keys()
}

// rememberAddresses reports new senders to the known-address stores.
func (s *Service) rememberAddresses(ctx context.Context, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	if s.dataDir != "" {
		path := filepath.Join(s.dataDir, lists.KnownAddressesFile)
		if err := lists.AppendColumn(path, "address", addrs); err != nil {
			s.logger.Warn(ctx, "known addresses not appended", logger.String("path", path), logger.Error(err))
		}
	}
	if s.store != nil {
		if _, err := s.store.AddKnownAddresses(ctx, addrs); err != nil {
			s.logger.Warn(ctx, "known addresses not stored", logger.Error(err))
		}
	}
}

func (s *Service) finish(ctx context.Context, res *RunResult, start time.Time) {
	end := s.now()
	if res.Metadata.FinishedAt.IsZero() || res.Source != SourceRPC {
		res.Metadata.FinishedAt = end.UTC()
	}
	if s.store != nil {
		if err := s.store.RecordRun(ctx, res.Metadata); err != nil {
			s.logger.Warn(ctx, "run summary not stored", logger.Error(err))
		}
	}
	metrics.RecordRun(end.Sub(start).Seconds(), end.Unix(), len(res.Records), res.Critical)

	s.logger.Info(ctx, "run finished",
		logger.String("run_id", res.Metadata.RunID),
		logger.String("source", res.Source),
		logger.String("chain", res.Metadata.Chain),
		logger.Int("records", len(res.Records)),
		logger.Int("critical", res.Critical),
		logger.Int("new_addresses", len(res.NewAddresses)),
		logger.Duration("took", end.Sub(start)),
	)
}
