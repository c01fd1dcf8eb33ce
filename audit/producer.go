package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/provesi/orderflow/mq"
)

type ProducerConfig struct {
	Queue string `envconfig:"AUDIT_QUEUE" default:"audit_queue"`

	// ServiceID identifies the origin service on every event this producer
	// publishes (e.g. "pedidos", "INVENTARIO").
	ServiceID string `envconfig:"AUDIT_SERVICE_ID" required:"true"`

	// PublishTimeout bounds the whole dial+declare+publish round trip so a
	// stalled broker can never hang the business request.
	PublishTimeout time.Duration `envconfig:"AUDIT_PUBLISH_TIMEOUT" default:"3s"`
}

// Transport is the slice of mq.Channel the producer needs. It exists so
// tests can publish without a broker.
type Transport interface {
	Declare(queue string) error
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}

// Producer publishes audit events best-effort. Each publish opens a
// short-lived connection; any failure is logged and swallowed so the
// business operation that triggered the event never fails because of it.
type Producer struct {
	cfg    ProducerConfig
	dial   func(ctx context.Context) (Transport, error)
	logger *slog.Logger
}

func NewProducer(cfg ProducerConfig, mqCfg mq.Config, logger *slog.Logger) *Producer {
	return NewProducerWithDial(cfg, func(ctx context.Context) (Transport, error) {
		return mq.Dial(mqCfg)
	}, logger)
}

// NewProducerWithDial injects the transport factory. Used by tests.
func NewProducerWithDial(cfg ProducerConfig, dial func(ctx context.Context) (Transport, error), logger *slog.Logger) *Producer {
	if cfg.Queue == "" {
		cfg.Queue = mq.AuditQueue
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 3 * time.Second
	}
	return &Producer{cfg: cfg, dial: dial, logger: logger}
}

// Publish builds the envelope and sends it with persistent delivery. The
// return value reports whether the broker accepted the message; callers must
// treat false as "audit trail may be missing this fact", never as a reason
// to fail or roll back the surrounding operation. No in-process retry: once
// a publish succeeds durability is the broker's job, and retrying here would
// invite duplicates without helping the caller.
func (p *Producer) Publish(ctx context.Context, e Event) bool {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ServiceID == "" {
		e.ServiceID = p.cfg.ServiceID
	}

	body, err := Encode(e)
	if err != nil {
		p.logger.ErrorContext(ctx, "audit publish rejected: invalid event",
			"error", err, "action", string(e.Action), "entity", e.Entity)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	ch, err := p.dial(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "audit publish failed: broker unreachable",
			"error", err, "queue", p.cfg.Queue)
		return false
	}
	defer ch.Close()

	if err := ch.Declare(p.cfg.Queue); err != nil {
		p.logger.ErrorContext(ctx, "audit publish failed: queue declare",
			"error", err, "queue", p.cfg.Queue)
		return false
	}

	if err := ch.Publish(ctx, p.cfg.Queue, body); err != nil {
		p.logger.ErrorContext(ctx, "audit publish failed",
			"error", err, "queue", p.cfg.Queue, "action", string(e.Action), "entity", e.Entity)
		return false
	}

	return true
}

// NoopPublisher satisfies consumers of Publish in dev and tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, e Event) bool { return true }
