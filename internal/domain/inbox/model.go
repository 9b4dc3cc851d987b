package inbox

import (
	"time"

	"github.com/google/uuid"
)

const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"

	StatusUnread = "unread"
	StatusRead   = "read"
	StatusDone   = "done"
)

// Message types.
const (
	TypeMessage    = "message"
	TypeResult     = "result"
	TypeEscalation = "escalation"
)

var validMessageTypes = map[string]bool{
	TypeMessage:    true,
	TypeResult:     true,
	TypeEscalation: true,
}

var validPriorities = map[string]bool{
	PriorityNormal: true,
	PriorityUrgent: true,
}

// Message is an internal clinician message. A nil SenderID marks a message
// generated by the system.
type Message struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	MessageType string     `db:"message_type" json:"message_type"`
	Priority    string     `db:"priority" json:"priority"`
	Subject     string     `db:"subject" json:"subject"`
	Body        *string    `db:"body" json:"body,omitempty"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	SenderID    *uuid.UUID `db:"sender_id" json:"sender_id,omitempty"`
	RecipientID uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	Status      string     `db:"status" json:"status"`
	SourceType  *string    `db:"source_type" json:"source_type,omitempty"`
	SourceID    *uuid.UUID `db:"source_id" json:"source_id,omitempty"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// SendInput is a message addressed by a user. The recipient may be
// redirected by out-of-office forwarding or delegation.
type SendInput struct {
	MessageType string     `json:"message_type" validate:"omitempty,oneof=message result escalation"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=normal urgent"`
	Subject     string     `json:"subject" validate:"notblank,max=255"`
	Body        *string    `json:"body,omitempty"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	RecipientID uuid.UUID  `json:"recipient_id" validate:"required"`
	SourceType  *string    `json:"source_type,omitempty"`
	SourceID    *uuid.UUID `json:"source_id,omitempty"`
}

// CategoryMessages is the delegation category used to resolve direct sends.
const CategoryMessages = "messages"
