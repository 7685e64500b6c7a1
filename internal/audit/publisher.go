package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Emit when the worker cannot keep up.
var ErrQueueFull = errors.New("audit queue full")

const defaultQueueSize = 1024

// Publisher enqueues events for the Worker without blocking the caller.
type Publisher struct {
	queue  chan Event
	logger *slog.Logger
	now    func() time.Time
}

type PublisherOption func(*Publisher)

func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan Event, n)
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		queue:  make(chan Event, defaultQueueSize),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit stamps the event with an id and timestamp when missing and queues it.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	select {
	case p.queue <- event:
		return nil
	default:
		p.logger.WarnContext(ctx, "audit queue full, dropping event",
			"product_id", event.ProductID,
			"action", event.Action,
			"tx_hash", event.TxHash,
		)
		return ErrQueueFull
	}
}

// Events is the channel drained by the Worker.
func (p *Publisher) Events() <-chan Event {
	return p.queue
}
