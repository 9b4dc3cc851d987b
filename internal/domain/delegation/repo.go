package delegation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DelegationRepository interface {
	Create(ctx context.Context, d *Delegation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Delegation, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByDelegator(ctx context.Context, delegatorID uuid.UUID, limit, offset int) ([]*Delegation, int, error)
	ListByDelegate(ctx context.Context, delegateID uuid.UUID, limit, offset int) ([]*Delegation, int, error)
	// ListInEffect returns the delegator's delegations in effect at now that
	// cover category, newest first.
	ListInEffect(ctx context.Context, delegatorID uuid.UUID, category string, now time.Time) ([]*Delegation, error)
}

type OutOfOfficeRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*OutOfOffice, error)
	Upsert(ctx context.Context, o *OutOfOffice) error
	Clear(ctx context.Context, userID uuid.UUID) error
}
