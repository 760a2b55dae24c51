package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/okian/safescore/internal/domain/model"
)

// EnvelopeType tags scored records on the topic.
const EnvelopeType = "scored_transaction"

// Envelope wraps each record published to Kafka.
type Envelope struct {
	Type  string             `json:"type"`
	RunID string             `json:"run_id,omitempty"`
	TS    int64              `json:"ts"`
	Data  model.ScoredRecord `json:"data"`
}

// Kafka publishes one message per record, keyed by tx_id.
type Kafka struct {
	topic string
	runID string
	p     sarama.SyncProducer
}

// NewKafka connects a synchronous producer to brokers.
func NewKafka(brokers []string, topic string, cfg *sarama.Config) (*Kafka, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.ClientID = "safescore"
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Producer.Retry.Max = 3
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaWithProducer(p, topic), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{topic: topic, p: p}
}

// SetRunID stamps subsequent envelopes with the run id.
func (k *Kafka) SetRunID(runID string) {
	k.runID = runID
}

// Name implements Sink.
func (k *Kafka) Name() string { return "kafka" }

// Write implements Sink. The producer does not take a context.
func (k *Kafka) Write(_ context.Context, records []model.ScoredRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	msgs := make([]*sarama.ProducerMessage, 0, len(records))
	for _, rec := range records {
		b, err := json.Marshal(Envelope{Type: EnvelopeType, RunID: k.runID, TS: now, Data: rec})
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.TxID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(rec.TxID),
			Value: sarama.ByteEncoder(b),
		})
	}
	if err := k.p.SendMessages(msgs); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close implements Sink.
func (k *Kafka) Close() error {
	if k.p != nil {
		return k.p.Close()
	}
	return nil
}
