// Package sink delivers scored records to storage and streams. Every sink is
// best effort from the pipeline's point of view: a failing sink is logged and
// counted but never aborts a run.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/okian/safescore/pkg/metrics"
)

// Sink receives the scored records of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []model.ScoredRecord) error
	Close() error
}

// RunScoped is implemented by sinks that tag output with the run id.
type RunScoped interface {
	SetRunID(runID string)
}

// Multi fans out to several sinks.
type Multi struct {
	sinks  []Sink
	logger logger.Logger
}

// NewMulti creates a fan-out sink. Nil sinks are dropped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{logger: logger.Get().Named("sink")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

// SetRunID forwards the run id to every run-scoped sink.
func (m *Multi) SetRunID(runID string) {
	for _, s := range m.sinks {
		if rs, ok := s.(RunScoped); ok {
			rs.SetRunID(runID)
		}
	}
}

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Write writes to every sink, continuing past failures. The returned error
// joins each sink's failure.
func (m *Multi) Write(ctx context.Context, records []model.ScoredRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, records); err != nil {
			metrics.RecordSinkWrite(s.Name(), "error")
			metrics.RecordErrorByComponent("sink", s.Name())
			m.logger.Warn(ctx, "sink write failed",
				logger.String("sink", s.Name()),
				logger.Int("records", len(records)),
				logger.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.RecordSinkWrite(s.Name(), "ok")
		m.logger.Debug(ctx, "sink write ok",
			logger.String("sink", s.Name()),
			logger.Int("records", len(records)),
		)
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
