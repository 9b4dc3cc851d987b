package escalation

import (
	"time"

	"github.com/google/uuid"
)

const (
	RuleCriticalResult = "critical_result"
	RuleUrgentMessage  = "urgent_message"
)

// Source types recorded on events.
const (
	SourceOrder   = "order"
	SourceMessage = "message"
)

// Rule says who to alert when an item of its type has waited longer than
// ThresholdMinutes. TargetUserID wins over TargetRole when both are set.
type Rule struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	RuleType         string     `db:"rule_type" json:"rule_type"`
	ThresholdMinutes int        `db:"threshold_minutes" json:"threshold_minutes"`
	PriorityFilter   *string    `db:"priority_filter" json:"priority_filter,omitempty"`
	TargetRole       *string    `db:"target_role" json:"target_role,omitempty"`
	TargetUserID     *uuid.UUID `db:"target_user_id" json:"target_user_id,omitempty"`
	Active           bool       `db:"active" json:"active"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Threshold is the cut-off time for items evaluated at now.
func (r *Rule) Threshold(now time.Time) time.Time {
	return now.Add(-time.Duration(r.ThresholdMinutes) * time.Minute)
}

type Event struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	RuleID            uuid.UUID  `db:"rule_id" json:"rule_id"`
	SourceType        string     `db:"source_type" json:"source_type"`
	SourceID          uuid.UUID  `db:"source_id" json:"source_id"`
	OriginalRecipient *uuid.UUID `db:"original_recipient" json:"original_recipient,omitempty"`
	EscalatedTo       uuid.UUID  `db:"escalated_to" json:"escalated_to"`
	Reason            string     `db:"reason" json:"reason"`
	Acknowledged      bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedAt    *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

type RuleInput struct {
	Name             string     `json:"name" validate:"notblank,max=255"`
	RuleType         string     `json:"rule_type" validate:"required,oneof=critical_result urgent_message"`
	ThresholdMinutes int        `json:"threshold_minutes" validate:"gt=0"`
	PriorityFilter   *string    `json:"priority_filter,omitempty" validate:"omitempty,oneof=normal urgent"`
	TargetRole       *string    `json:"target_role,omitempty" validate:"omitempty,notblank"`
	TargetUserID     *uuid.UUID `json:"target_user_id,omitempty"`
	Active           *bool      `json:"active,omitempty"`
}

type EventFilter struct {
	Acknowledged *bool
	SourceType   *string
	Limit        int
	Offset       int
}

// RunReport summarises one engine run.
type RunReport struct {
	RanAt           time.Time `json:"ran_at"`
	Skipped         bool      `json:"skipped"`
	RulesEvaluated  int       `json:"rules_evaluated"`
	Candidates      int       `json:"candidates"`
	Escalated       int       `json:"escalated"`
	NoTarget        int       `json:"no_target"`
	Duplicates      int       `json:"duplicates"`
	MessageFailures int       `json:"message_failures"`
	Errors          int       `json:"errors"`
}
