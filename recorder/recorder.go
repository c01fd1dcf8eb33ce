// Package recorder drains the audit queue and persists every event into the
// audit log. Delivery is at-least-once: a record may be written twice, but
// never lost.
package recorder

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/provesi/orderflow/audit"
	"github.com/provesi/orderflow/mq"
)

var (
	eventsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_recorded_total",
		Help: "Audit events durably persisted and acknowledged.",
	})
	poisonMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_poison_messages_total",
		Help: "Undecodable audit payloads acknowledged to stop redelivery.",
	})
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_persist_failures_total",
		Help: "Persistence failures that forced a reconnect and redelivery.",
	})
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_consumer_reconnects_total",
		Help: "Times the consumer dropped to Disconnected and dialed again.",
	})
)

type Config struct {
	Queue string `envconfig:"AUDIT_QUEUE" default:"audit_queue"`

	// Prefetch bounds in-flight unacknowledged messages. 1 keeps processing
	// strictly sequential and crash-safe.
	Prefetch int `envconfig:"AUDIT_PREFETCH" default:"1"`

	// Backoff is the fixed sleep between reconnect attempts.
	Backoff time.Duration `envconfig:"AUDIT_RECONNECT_BACKOFF" default:"5s"`
}

// Store persists one decoded event. It must be safe to apply twice: under
// at-least-once delivery a redelivered message produces an extra row, which
// is acceptable for informational audit data.
type Store interface {
	Append(ctx context.Context, e audit.Event) (Record, error)
}

// OpenFunc establishes one consuming session: connect, declare, subscribe.
// The returned stream closes when the connection dies.
type OpenFunc func(ctx context.Context) (<-chan mq.Message, io.Closer, error)

// Recorder is a two-state machine: Disconnected and Consuming. It never
// terminates on connection failure; it backs off and dials again, forever.
type Recorder struct {
	cfg    Config
	store  Store
	open   OpenFunc
	logger *slog.Logger
}

func New(cfg Config, store Store, open OpenFunc, logger *slog.Logger) *Recorder {
	if cfg.Queue == "" {
		cfg.Queue = mq.AuditQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	return &Recorder{cfg: cfg, store: store, open: open, logger: logger}
}

// NewAMQP wires the recorder to a real broker.
func NewAMQP(cfg Config, mqCfg mq.Config, store Store, logger *slog.Logger) *Recorder {
	open := func(ctx context.Context) (<-chan mq.Message, io.Closer, error) {
		ch, err := mq.Dial(mqCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := ch.Declare(cfg.Queue); err != nil {
			_ = ch.Close()
			return nil, nil, err
		}
		msgs, err := ch.Consume(cfg.Queue, cfg.Prefetch)
		if err != nil {
			_ = ch.Close()
			return nil, nil, err
		}
		return msgs, ch, nil
	}
	return New(cfg, store, open, logger)
}

// Run blocks until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		msgs, closer, err := r.open(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "audit consumer disconnected, retrying",
				"error", err, "backoff", r.cfg.Backoff)
			reconnects.Inc()
			if !sleep(ctx, r.cfg.Backoff) {
				return nil
			}
			continue
		}

		r.logger.InfoContext(ctx, "audit consumer started", "queue", r.cfg.Queue, "prefetch", r.cfg.Prefetch)

		err = r.consume(ctx, msgs)
		_ = closer.Close()

		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			r.logger.ErrorContext(ctx, "audit consumer dropped connection", "error", err)
		} else {
			r.logger.WarnContext(ctx, "audit consumer stream closed by broker")
		}
		reconnects.Inc()
		if !sleep(ctx, r.cfg.Backoff) {
			return nil
		}
	}
}

// consume processes deliveries one at a time. It returns when the stream
// closes (broker failure), the context is cancelled, or persistence fails.
// The last deliberately drops the session so the unacked message is
// redelivered after reconnect.
func (r *Recorder) consume(ctx context.Context, msgs <-chan mq.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, m); err != nil {
				return err
			}
		}
	}
}

func (r *Recorder) handle(ctx context.Context, m mq.Message) error {
	e, err := audit.Decode(m.Body)
	if err != nil {
		// Poison pill: acknowledge so the broker stops redelivering it, but
		// never drop it without a trace.
		poisonMessages.Inc()
		r.logger.ErrorContext(ctx, "poison audit message discarded",
			"error", err, "bytes", len(m.Body))
		if ackErr := m.Ack(); ackErr != nil {
			return ackErr
		}
		return nil
	}

	rec, err := r.store.Append(ctx, e)
	if err != nil {
		persistFailures.Inc()
		r.logger.ErrorContext(ctx, "audit persistence failed, leaving message unacked",
			"error", err, "service", e.ServiceID, "action", string(e.Action))
		return err
	}

	// Acknowledge only once the record is durable.
	if err := m.Ack(); err != nil {
		// The broker will redeliver; the duplicate row is acceptable.
		r.logger.WarnContext(ctx, "ack failed after persistence, expect a duplicate",
			"error", err, "audit_log_id", rec.ID)
		return err
	}

	eventsRecorded.Inc()
	r.logger.DebugContext(ctx, "audit event recorded",
		"audit_log_id", rec.ID, "service", e.ServiceID, "action", string(e.Action))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
