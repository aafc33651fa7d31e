// Package outbox relays committed transaction events from the event_outbox
// table to Kafka. Delivery is at-least-once: an event is marked processed only
// after the broker accepted it.
package outbox

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Store is the slice of the repository the relay needs.
type Store interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Writer is satisfied by *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Relay struct {
	store     Store
	writer    Writer
	log       *zap.SugaredLogger
	batchSize int
	interval  time.Duration
}

func NewRelay(store Store, w Writer, logger *zap.SugaredLogger, batchSize int, interval time.Duration) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{store: store, writer: w, log: logger, batchSize: batchSize, interval: interval}
}

func message(evt model.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "aggregate", Value: []byte(evt.Aggregate)},
		},
		Time: evt.CreatedAt,
	}
}

// RunOnce publishes one batch and returns how many events were sent. It stops
// at the first publish failure so events keep their order.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.PollOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.writer.WriteMessages(ctx, message(evt)); err != nil {
			r.log.Errorf("publish id=%d: %v", evt.ID, err)
			return sent, err
		}
		if err := r.store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			// will be re-sent on the next poll
			r.log.Errorf("mark processed id=%d: %v", evt.ID, err)
			return sent, err
		}
		sent++
		r.log.Debugf("event %d sent", evt.ID)
	}
	return sent, nil
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if n, err := r.RunOnce(ctx); err != nil {
				r.log.Warnf("outbox batch incomplete after %d events: %v", n, err)
			} else if n > 0 {
				r.log.Infof("relayed %d events", n)
			}
		}
	}
}
