package stream

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/tasksync/backend/internal/config"
	"github.com/tasksync/backend/internal/event"
)

// Fetcher is the slice of kafka.Reader the consumer needs. Tests substitute
// an in-memory implementation; production uses a consumer-group reader.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Deliverer receives successfully decoded update events. Implemented by
// ws.Broadcaster.
type Deliverer interface {
	Deliver(userID string, u event.Update, excludeDeviceID string)
}

// Consumer reads the task-updates log and hands each decoded event to the
// Deliverer. Offsets are committed after hand-off, not after downstream
// sends: a crash between commit and delivery loses at most the in-flight
// fan-out, which clients recover from by resyncing on reconnect. Within one
// partition events reach the Deliverer in log order.
type Consumer struct {
	fetcher Fetcher
	target  Deliverer
	topic   string
	group   string
}

func NewConsumer(cfg config.KafkaConfig, target Deliverer) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.Group,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
	})
	return &Consumer{
		fetcher: reader,
		target:  target,
		topic:   cfg.Topic,
		group:   cfg.Group,
	}
}

// newConsumer wires an arbitrary Fetcher; used by tests.
func newConsumer(f Fetcher, target Deliverer) *Consumer {
	return &Consumer{fetcher: f, target: target}
}

// Start blocks consuming the log until the context is cancelled or Stop
// closes the reader. A record that fails to decode is logged, committed, and
// skipped: one poison message must never halt the stream.
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("stream: consuming %s (group %s)", c.topic, c.group)

	for {
		msg, err := c.fetcher.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				log.Printf("stream: consumer stopped")
				return nil
			}
			return err
		}

		u, err := event.Decode(msg.Value)
		if err != nil {
			log.Printf("stream: skipping bad record at %s/%d offset %d: %v",
				msg.Topic, msg.Partition, msg.Offset, err)
			c.commit(ctx, msg)
			continue
		}

		c.target.Deliver(u.UserID, u, u.SourceDeviceID)
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.fetcher.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		// Failing to commit only risks a duplicate delivery, which the
		// at-least-once contract already allows.
		log.Printf("stream: commit failed at offset %d: %v", msg.Offset, err)
	}
}

// Stop closes the reader, which commits final offsets and unblocks Start.
func (c *Consumer) Stop() error {
	return c.fetcher.Close()
}
