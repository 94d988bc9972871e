package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"certledger/internal/platform/kafka/consumer"
	"certledger/internal/platform/kafka/producer"
)

// Publisher sends records to the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs ...producer.Message) error
}

// KafkaQueue produces pending binds to a topic keyed by certificate id, so
// binds for one certificate stay ordered on one partition.
type KafkaQueue struct {
	publisher Publisher
	topic     string
}

func NewKafkaQueue(publisher Publisher, topic string) *KafkaQueue {
	return &KafkaQueue{publisher: publisher, topic: topic}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, pb PendingBind) error {
	body, err := pb.marshal()
	if err != nil {
		return err
	}
	if err := q.publisher.Publish(ctx, producer.Message{
		Topic: q.topic,
		Key:   []byte(pb.CertificateID.String()),
		Value: body,
		Headers: map[string]string{
			"token_id": pb.TokenID.String(),
		},
	}); err != nil {
		return fmt.Errorf("enqueue pending bind: %w", err)
	}
	return nil
}

// KafkaHandler adapts w to the consumer. Undecodable records are logged and
// committed; handling errors leave the record for redelivery.
func KafkaHandler(w *Worker, logger *slog.Logger) consumer.Handler {
	return consumer.HandlerFunc(func(ctx context.Context, msg *consumer.Message) error {
		pb, err := unmarshalPendingBind(msg.Value)
		if err != nil {
			logger.ErrorContext(ctx, "dropping malformed pending bind",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err,
			)
			return nil
		}
		return w.Handle(ctx, pb)
	})
}
