package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Notifier delivers fire-and-forget chat messages. Callers invoke it only
// after a successful state commit; implementations must never block on
// delivery or propagate failure back into the committed operation.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, text string)
}

// Noop is used when no chat transport is configured (tests, local dev).
type Noop struct{}

func (Noop) Notify(context.Context, uuid.UUID, string) {}

// InsertFunc enqueues a SendMessage job. Provided by main using
// river.Client.Insert.
type InsertFunc func(ctx context.Context, args SendMessageArgs) error

// Queue enqueues messages onto the job queue instead of delivering inline,
// so a slow or down chat transport can never stall the request path.
type Queue struct {
	insert InsertFunc
	log    *slog.Logger
}

func NewQueue(insert InsertFunc, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{insert: insert, log: log}
}

func (q *Queue) Notify(ctx context.Context, recipientID uuid.UUID, text string) {
	if q.insert == nil {
		return
	}
	if err := q.insert(ctx, SendMessageArgs{RecipientID: recipientID, Text: text}); err != nil {
		// Dropped notification, committed state stands.
		q.log.Error("enqueue notification", "recipient", recipientID, "error", err)
	}
}
