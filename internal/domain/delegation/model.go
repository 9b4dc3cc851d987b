package delegation

import (
	"time"

	"github.com/google/uuid"
)

// Responsibility categories a delegation can cover. CategoryAll covers the
// other three.
const (
	CategoryMessages = "messages"
	CategoryResults  = "results"
	CategoryOrders   = "orders"
	CategoryAll      = "all"
)

var validCategories = map[string]bool{
	CategoryMessages: true,
	CategoryResults:  true,
	CategoryOrders:   true,
	CategoryAll:      true,
}

// Delegation is a standing grant from one clinician to another. Revocation
// only clears Active; rows are never deleted.
type Delegation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	DelegatorID    uuid.UUID  `db:"delegator_id" json:"delegator_id"`
	DelegateID     uuid.UUID  `db:"delegate_id" json:"delegate_id"`
	DelegationType string     `db:"delegation_type" json:"delegation_type"`
	ValidFrom      *time.Time `db:"valid_from" json:"valid_from,omitempty"`
	ValidTo        *time.Time `db:"valid_to" json:"valid_to,omitempty"`
	Reason         *string    `db:"reason" json:"reason,omitempty"`
	Active         bool       `db:"active" json:"active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// InEffect reports whether the delegation applies at now.
func (d *Delegation) InEffect(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.ValidFrom != nil && d.ValidFrom.After(now) {
		return false
	}
	if d.ValidTo != nil && !d.ValidTo.After(now) {
		return false
	}
	return true
}

// Covers reports whether the delegation type satisfies category.
func (d *Delegation) Covers(category string) bool {
	return d.DelegationType == CategoryAll || d.DelegationType == category
}

type OutOfOffice struct {
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	OutOfOffice   bool       `db:"out_of_office" json:"out_of_office"`
	Message       *string    `db:"message" json:"message,omitempty"`
	StartAt       *time.Time `db:"start_at" json:"start_at,omitempty"`
	EndAt         *time.Time `db:"end_at" json:"end_at,omitempty"`
	AutoForwardTo *uuid.UUID `db:"auto_forward_to" json:"auto_forward_to,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// InEffect reports whether the user is away at now. Missing bounds are open.
func (o *OutOfOffice) InEffect(now time.Time) bool {
	if !o.OutOfOffice {
		return false
	}
	if o.StartAt != nil && now.Before(*o.StartAt) {
		return false
	}
	if o.EndAt != nil && now.After(*o.EndAt) {
		return false
	}
	return true
}

type CreateDelegationInput struct {
	DelegateID     uuid.UUID  `json:"delegate_id" validate:"required"`
	DelegationType string     `json:"delegation_type" validate:"required,oneof=messages results orders all"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidTo        *time.Time `json:"valid_to,omitempty"`
	Reason         *string    `json:"reason,omitempty"`
}

type SetOutOfOfficeInput struct {
	Message       *string    `json:"message,omitempty"`
	StartAt       *time.Time `json:"start_at,omitempty"`
	EndAt         *time.Time `json:"end_at,omitempty"`
	AutoForwardTo *uuid.UUID `json:"auto_forward_to,omitempty"`
}
