package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"certledger/internal/platform/kafka/producer"
	audit "certledger/pkg/platform/audit"
)

// Outbox is the relay's view of the outbox table.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher sends records to the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs ...producer.Message) error
}

// Worker relays outbox rows to a Kafka topic. Delivery is at-least-once: a
// crash between publish and mark republishes the batch, and consumers dedupe
// on the event id.
type Worker struct {
	outbox    Outbox
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func NewWorker(outbox Outbox, publisher Publisher, topic string, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		publisher: publisher,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and reports how many rows were relayed.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil || len(entries) == 0 {
		return 0, err
	}

	msgs := make([]producer.Message, len(entries))
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		msgs[i] = producer.Message{
			Topic: w.topic,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: map[string]string{
				"event_id":       e.ID.String(),
				"event_type":     e.EventType,
				"aggregate_type": e.AggregateType,
			},
		}
		ids[i] = e.ID
	}

	if err := w.publisher.Publish(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := w.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		return 0, err
	}
	return len(entries), nil
}
