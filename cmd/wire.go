package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/okian/safescore/internal/adapters/alert"
	"github.com/okian/safescore/internal/adapters/postgres"
	"github.com/okian/safescore/internal/adapters/repository"
	"github.com/okian/safescore/internal/adapters/rpc"
	"github.com/okian/safescore/internal/adapters/sink"
	"github.com/okian/safescore/internal/adapters/source"
	service "github.com/okian/safescore/internal/app"
	"github.com/okian/safescore/internal/config"
	"github.com/okian/safescore/internal/domain/decoder"
	"github.com/okian/safescore/internal/domain/scoring"
	"github.com/okian/safescore/internal/domain/token"
	"github.com/okian/safescore/pkg/logger"
)

// buildService wires adapters from cfg. Optional outputs that fail to
// connect are logged and skipped so a run still produces a result. With
// outputs false the service only reads.
func buildService(ctx context.Context, cfg *config.Config, outputs bool) (*service.Service, func()) {
	log := logger.Get().Named("wire")

	opts := []service.Option{
		service.WithDataDir(cfg.DataDir),
		service.WithHistoryFiles(cfg.HistoryFiles),
		service.WithHistoryWindow(cfg.HistoryWindow()),
		service.WithAlertThreshold(cfg.AlertThreshold),
		service.WithWeights(cfg.Weights),
		service.WithReadOnly(!outputs),
		service.WithParams(decoder.Params{
			BlocksBack: cfg.BlocksBack,
			MaxTx:      cfg.MaxTx,
			Filters: decoder.Filters{
				OnlyERC20:       cfg.OnlyERC20,
				MinNativeAmount: cfg.MinNative(),
				FromAllow:       cfg.FromAllow,
				ToAllow:         cfg.ToAllow,
			},
		}),
		service.WithScoringOptions(
			scoring.WithAmountThreshold(cfg.AmountThresholdValue()),
			scoring.WithVelocityWindow(cfg.VelocityWindow()),
			scoring.WithVelocityTrigger(cfg.VelocityTriggerCount),
		),
	}

	var closers []func() error
	cache := repository.NewTokenCache(cachePath(cfg))
	opts = append(opts, service.WithTokenCache(cache))

	client, err := rpc.New(cfg.RPCURLs,
		rpc.WithTimeout(cfg.RPCTimeout()),
		rpc.WithMaxAttempts(cfg.RPCMaxAttempts),
		rpc.WithBackoff(cfg.RPCBackoff()),
	)
	switch {
	case err == nil:
		closers = append(closers, client.Close)
		dec := decoder.New(client, token.NewResolver(client, cache),
			decoder.WithChain(cfg.ChainName),
			decoder.WithNativeSymbol(cfg.NativeSymbol),
			decoder.WithConcurrency(cfg.FetchConcurrency),
		)
		opts = append(opts, service.WithCollector(dec))
	case errors.Is(err, rpc.ErrNoEndpoints):
		log.Warn(ctx, "no rpc endpoints configured")
	default:
		log.Warn(ctx, "rpc client not created", logger.Error(err))
	}

	if cfg.FallbackMock {
		opts = append(opts, service.WithFallback(source.NewMock(source.WithCount(cfg.MockCount))))
	}

	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn(ctx, "postgres unavailable", logger.Error(err))
		} else {
			opts = append(opts, service.WithStore(store))
			if outputs {
				opts = append(opts, service.WithSinks(store))
			} else {
				closers = append(closers, store.Close)
			}
		}
	}

	if outputs {
		opts = append(opts, service.WithSinks(sink.NewCSV(cfg.DataDir)))
		if len(cfg.KafkaBrokers) > 0 {
			k, err := sink.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
			if err != nil {
				log.Warn(ctx, "kafka unavailable", logger.Strings("brokers", cfg.KafkaBrokers), logger.Error(err))
			} else {
				opts = append(opts, service.WithSinks(k))
			}
		}
		opts = append(opts, service.WithAlerters(alerters(ctx, log, cfg)...))
	}

	svc := service.New(opts...)
	return svc, func() {
		if err := svc.Close(); err != nil {
			log.Warn(ctx, "close outputs", logger.Error(err))
		}
		for _, c := range closers {
			_ = c()
		}
	}
}

func alerters(ctx context.Context, log logger.Logger, cfg *config.Config) []alert.Alerter {
	var out []alert.Alerter
	tg, err := alert.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	switch {
	case err == nil:
		out = append(out, tg)
	case !errors.Is(err, alert.ErrDisabled):
		log.Warn(ctx, "telegram disabled", logger.Error(err))
	}

	nc, err := alert.NewNATS(cfg.NATSURL, cfg.NATSSubject)
	switch {
	case err == nil:
		out = append(out, nc)
	case !errors.Is(err, alert.ErrDisabled):
		log.Warn(ctx, "nats unavailable", logger.String("url", cfg.NATSURL), logger.Error(err))
	}
	return out
}

func cachePath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.TokenCacheFile) || filepath.Dir(cfg.TokenCacheFile) != "." {
		return cfg.TokenCacheFile
	}
	return filepath.Join(cfg.DataDir, cfg.TokenCacheFile)
}
