package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/storage"
)

// The reader commits offsets on read, so a notification that fails for a
// transient reason is retried here before the consumer moves on.
const maxDeliveryAttempts = 5

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer feeds payment notifications from Kafka into a Reconciler.
type Consumer struct {
	reconciler *Reconciler
	reader     messageReader
	retryDelay time.Duration
}

func NewConsumer(reconciler *Reconciler, topic, groupID string, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6,
	})
	return &Consumer{reconciler: reconciler, reader: reader, retryDelay: time.Second}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	log.Info().Msg("consumer: payment notification consumer started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("consumer: payment notification consumer stopped")
			return
		}
		c.processMessage(ctx)
	}
}

// Start runs the consumer in the background. The returned stop cancels it,
// waits for the notification in flight, then closes the reader.
func (c *Consumer) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
		c.Close()
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		log.Error().Err(err).Msg("consumer: error closing kafka reader")
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		log.Error().Err(err).Msg("consumer: error reading message")
		return
	}

	var n Notification
	if err := json.Unmarshal(m.Value, &n); err != nil {
		log.Error().Err(err).Int64("offset", m.Offset).Msg("consumer: error parsing message")
		return
	}
	if n.EventID == "" {
		n.EventID = string(m.Key)
	}

	for attempt := 1; ; attempt++ {
		result, err := c.reconciler.Handle(ctx, n)
		if err == nil {
			log.Debug().Str("event_id", n.EventID).Str("result", string(result)).Msg("consumer: notification handled")
			return
		}
		if !retryable(err) || attempt == maxDeliveryAttempts {
			log.Warn().Err(err).Str("event_id", n.EventID).Str("result", string(result)).Int("attempts", attempt).Msg("consumer: notification not applied")
			return
		}

		log.Warn().Err(err).Str("event_id", n.EventID).Int("attempt", attempt).Msg("consumer: retrying notification")
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
}

func retryable(err error) bool {
	return storage.IsTransient(err) || errors.Is(err, order.ErrConflictingUpdate)
}
