package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	List(ctx context.Context, activeOnly bool) ([]*Rule, error)
}

type EventRepository interface {
	Create(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, f EventFilter) ([]*Event, int, error)
	// HasOpen reports whether the rule already has an unacknowledged event
	// for the source item.
	HasOpen(ctx context.Context, ruleID, sourceID uuid.UUID) (bool, error)
}
