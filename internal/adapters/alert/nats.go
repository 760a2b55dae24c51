package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject alerts are published on.
const DefaultSubject = "safescore.alerts"

// Publisher is the part of *nats.Conn the alerter uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATS publishes alerts as JSON on a core NATS subject.
type NATS struct {
	conn    Publisher
	subject string
	flush   time.Duration
}

// NewNATS connects to url. An empty url disables the channel.
func NewNATS(url, subject string) (*NATS, error) {
	if url == "" {
		return nil, ErrDisabled
	}
	nc, err := nats.Connect(url,
		nats.Name("safescore-alerts"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSWithConn(nc, subject), nil
}

// NewNATSWithConn wraps an existing connection.
func NewNATSWithConn(conn Publisher, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: conn, subject: subject, flush: 5 * time.Second}
}

// Name implements Alerter.
func (n *NATS) Name() string { return "nats" }

// Send implements Alerter. The publish is flushed so the alert has left the
// process before a one-shot run exits.
func (n *NATS) Send(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	timeout := n.flush
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	if err := n.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrDelivery, err)
	}
	return nil
}

// Close implements Alerter.
func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
