// Package alert summarises critical records and delivers the summary over
// chat and messaging channels. Delivery is best effort.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/okian/safescore/pkg/metrics"
)

// DefaultThreshold marks records scoring below it as critical.
const DefaultThreshold = 50

// Alert is the summary of one run's critical records.
type Alert struct {
	RunID     string    `json:"run_id"`
	Chain     string    `json:"chain,omitempty"`
	Threshold int       `json:"threshold"`
	Count     int       `json:"count"`
	MinScore  int       `json:"min_score"`
	TxIDs     []string  `json:"tx_ids"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Critical returns the records with a score strictly below threshold, in
// input order.
func Critical(records []model.ScoredRecord, threshold int) []model.ScoredRecord {
	out := []model.ScoredRecord{}
	for _, r := range records {
		if r.Score < threshold {
			out = append(out, r)
		}
	}
	return out
}

// Build summarises records. ok is false when nothing is critical.
func Build(runID string, records []model.ScoredRecord, threshold int) (a Alert, ok bool) {
	crit := Critical(records, threshold)
	if len(crit) == 0 {
		return Alert{}, false
	}
	a = Alert{
		RunID:     runID,
		Chain:     crit[0].Chain,
		Threshold: threshold,
		Count:     len(crit),
		MinScore:  crit[0].Score,
		TxIDs:     make([]string, len(crit)),
		Message:   fmt.Sprintf("%d critical transactions detected! Score < %d", len(crit), threshold),
		At:        time.Now().UTC(),
	}
	for i, r := range crit {
		a.TxIDs[i] = r.TxID
		a.MinScore = min(a.MinScore, r.Score)
	}
	return a, true
}

// Alerter delivers an alert over one channel.
type Alerter interface {
	Name() string
	Send(ctx context.Context, a Alert) error
	Close() error
}

// Multi sends through every alerter and never stops at a failure.
type Multi struct {
	alerters []Alerter
	logger   logger.Logger
}

// NewMulti creates a fan-out alerter. Nil alerters are dropped.
func NewMulti(alerters ...Alerter) *Multi {
	m := &Multi{logger: logger.Get().Named("alert")}
	for _, a := range alerters {
		if a != nil {
			m.alerters = append(m.alerters, a)
		}
	}
	return m
}

// Name implements Alerter.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of channels.
func (m *Multi) Len() int { return len(m.alerters) }

// Send implements Alerter.
func (m *Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m.alerters {
		if err := al.Send(ctx, a); err != nil {
			metrics.RecordAlert(al.Name(), "error")
			metrics.RecordErrorByComponent("alert", al.Name())
			m.logger.Warn(ctx, "alert delivery failed",
				logger.String("channel", al.Name()),
				logger.String("run_id", a.RunID),
				logger.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", al.Name(), err))
			continue
		}
		metrics.RecordAlert(al.Name(), "ok")
		m.logger.Info(ctx, "alert sent",
			logger.String("channel", al.Name()),
			logger.Int("critical", a.Count),
		)
	}
	return errors.Join(errs...)
}

// Close implements Alerter.
func (m *Multi) Close() error {
	var errs []error
	for _, al := range m.alerters {
		if err := al.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
