package service

import (
	"time"

	"github.com/okian/safescore/internal/adapters/alert"
	"github.com/okian/safescore/internal/adapters/sink"
	"github.com/okian/safescore/internal/domain/decoder"
	"github.com/okian/safescore/internal/domain/scoring"
	"github.com/okian/safescore/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithCollector sets the primary transaction source.
func WithCollector(c Collector) Option {
	return func(s *Service) {
		s.collector = c
	}
}

// WithFallback sets the source used when the collector fails.
func WithFallback(f Fallback) Option {
	return func(s *Service) {
		s.fallback = f
	}
}

// WithParams sets the decoder bounds and filters.
func WithParams(p decoder.Params) Option {
	return func(s *Service) {
		s.params = p
	}
}

// WithDataDir sets where lists are read and CSV history lives.
func WithDataDir(dir string) Option {
	return func(s *Service) {
		s.dataDir = dir
	}
}

// WithHistoryFiles caps CSV files read as history. Zero reads all of them.
func WithHistoryFiles(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.historyFiles = n
		}
	}
}

// WithHistoryWindow bounds history read from the store.
func WithHistoryWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.historyWindow = d
		}
	}
}

// WithStore sets the database backed history and known-address store.
func WithStore(st Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithSinks adds record sinks.
func WithSinks(sinks ...sink.Sink) Option {
	return func(s *Service) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithAlerters adds alert channels.
func WithAlerters(alerters ...alert.Alerter) Option {
	return func(s *Service) {
		s.alerters = append(s.alerters, alerters...)
	}
}

// WithAlertThreshold sets the score below which a record is critical.
func WithAlertThreshold(t int) Option {
	return func(s *Service) {
		if t >= scoring.MinScore && t <= scoring.MaxScore {
			s.alertThreshold = t
		}
	}
}

// WithTokenCache sets the persisted token metadata cache.
func WithTokenCache(c TokenCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithWeights overrides rule weights on top of the data directory's weights.
func WithWeights(w map[string]int) Option {
	return func(s *Service) {
		s.weights = w
	}
}

// WithScoringOptions appends rule engine options, applied after the lists.
func WithScoringOptions(opts ...scoring.Option) Option {
	return func(s *Service) {
		s.scoringOpts = append(s.scoringOpts, opts...)
	}
}

// WithReadOnly scores without side effects: no sink writes, no alerts and
// no known-address updates.
func WithReadOnly(readOnly bool) Option {
	return func(s *Service) {
		s.readOnly = readOnly
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
