package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crm-mail-ingest-go/internal/model"
	"crm-mail-ingest-go/internal/repository"
)

// StoreSink persists events as notification records for the CRM inbox
type StoreSink struct {
	store repository.Store
}

func NewStoreSink(store repository.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Send(ctx context.Context, ev Event) error {
	n := &model.Notification{
		TenantID:    ev.TenantID,
		Type:        ev.Type,
		Title:       model.Truncate(ev.Title, model.MaxTitleLength),
		Message:     ev.Message,
		RelatedID:   ev.RelatedID,
		RelatedType: ev.RelatedType,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// QueueSink pushes events onto a Redis list for out-of-process consumers
type QueueSink struct {
	rdb       *redis.Client
	queueName string
}

func NewQueueSink(rdb *redis.Client, queueName string) *QueueSink {
	return &QueueSink{rdb: rdb, queueName: queueName}
}

func (q *QueueSink) Name() string { return "queue" }

// queuedEvent is the list entry consumers decode
type queuedEvent struct {
	ID         string    `json:"id"`
	Event      Event     `json:"event"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (q *QueueSink) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(queuedEvent{
		ID:         uuid.New().String(),
		Event:      ev,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.queueName, string(body)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}

