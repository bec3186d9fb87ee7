// Package notify publishes stream and collection changes to NATS or Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/stream"
)

// Conn is the part of *nats.Conn the sink uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Message is the published payload.
type Message struct {
	Node   string            `json:"node"`
	Object stream.Object     `json:"object"`
	ID     uint32            `json:"id"`
	Change stream.ChangeKind `json:"change"`
	Count  uint32            `json:"count"`
	Time   time.Time         `json:"time"`
}

func encode(node string, n stream.Notification, at time.Time) ([]byte, error) {
	return json.Marshal(Message{
		Node:   node,
		Object: n.Object,
		ID:     n.ID,
		Change: n.Change,
		Count:  n.Count,
		Time:   at.UTC(),
	})
}

// Sink turns notifications into NATS messages on
// "<prefix>.<object>.<id>".
type Sink struct {
	conn   Conn
	prefix string
	node   string
	logger *slog.Logger
	now    func() time.Time

	published atomic.Int64
	failed    atomic.Int64
}

// NewSink wraps an established connection.
func NewSink(conn Conn, prefix, node string) *Sink {
	return &Sink{
		conn:   conn,
		prefix: prefix,
		node:   node,
		logger: slog.Default().With("component", "nats"),
		now:    time.Now,
	}
}

// Connect dials NATS and returns a sink. The connection reconnects forever
// once established.
func Connect(ctx context.Context, cfg config.NATSConfig, node string) (*Sink, error) {
	timeout, err := time.ParseDuration(cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid connect timeout: %w", err)
	}
	logger := slog.Default().With("component", "nats")

	opts := []nats.Option{
		nats.Name("tsnstream-" + node),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("nats connection closed")
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, r.err)
		}
		logger.Info("connected to nats", "url", r.conn.ConnectedUrl())
		return NewSink(r.conn, cfg.SubjectPrefix, node), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, ctx.Err())
	}
}

// Subject returns the subject a notification is published on.
func (s *Sink) Subject(n stream.Notification) string {
	return fmt.Sprintf("%s.%s.%d", s.prefix, n.Object, n.ID)
}

// Handle publishes one notification.
func (s *Sink) Handle(n stream.Notification) error {
	data, err := encode(s.node, n, s.now())
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.Subject(n), data); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("publish %s: %w", s.Subject(n), err)
	}
	s.published.Add(1)
	return nil
}

// Published returns the number of messages sent and failed.
func (s *Sink) Published() (ok, failed int64) {
	return s.published.Load(), s.failed.Load()
}

// Close drains the connection.
func (s *Sink) Close() error {
	return s.conn.Drain()
}
