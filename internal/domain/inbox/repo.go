package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// ListUnreadUrgentBefore returns unread urgent messages created before
	// threshold, further restricted to priorityFilter when it is set.
	ListUnreadUrgentBefore(ctx context.Context, threshold time.Time, priorityFilter *string) ([]*Message, error)
}
