package sync

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/store"
)

const (
	outboxBatch   = 100
	outboxBackoff = 10 * time.Second
)

// Publisher delivers outbox messages to a broker
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// OutboxStore is the outbox side of the store
type OutboxStore interface {
	DequeueOutbox(ctx context.Context, limit int) ([]store.OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// DrainOutbox publishes every due outbox message once. Messages that fail
// are pushed back by a fixed backoff and picked up by a later drain.
func DrainOutbox(ctx context.Context, s OutboxStore, pub Publisher) error {
	for {
		messages, err := s.DequeueOutbox(ctx, outboxBatch)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		for _, msg := range messages {
			if err := pub.Publish(ctx, msg.Subject, msg.Payload, msg.MsgID); err != nil {
				log.Warnf("publish outbox message %d: %v", msg.ID, err)
				if err := s.MarkOutboxRetry(ctx, msg.ID, outboxBackoff); err != nil {
					return err
				}
				continue
			}

			if err := s.MarkPublished(ctx, msg.ID); err != nil {
				return err
			}
		}
	}
}
