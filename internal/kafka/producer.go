package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes synchronously: Publish returns only after every in-sync
// replica stored the messages, which is what "persistent" means here.
type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string, timeout time.Duration) *Producer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
			WriteTimeout:           timeout,
			BatchTimeout:           5 * time.Millisecond,
			MaxAttempts:            3,
		},
	}
}

// Publish writes msgs; each message names its own queue in Topic.
func (p *Producer) Publish(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now()
	for i := range msgs {
		if msgs[i].Time.IsZero() {
			msgs[i].Time = now
		}
	}
	return newBrokerError("publish", msgs[0].Topic, p.w.WriteMessages(ctx, msgs...))
}

func (p *Producer) Close() error { return p.w.Close() }
