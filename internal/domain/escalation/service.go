package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/internal/platform/db"
	"github.com/ehr/ordersafety/internal/platform/validate"
	"github.com/ehr/ordersafety/pkg/apperr"
)

// UserChecker is satisfied by identity.Service.
type UserChecker interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Service manages rules and the events the engine records.
type Service struct {
	rules     RuleRepository
	events    EventRepository
	users     UserChecker
	validator *validate.Validator
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(rules RuleRepository, events EventRepository, users UserChecker, logger zerolog.Logger) *Service {
	return &Service{
		rules:     rules,
		events:    events,
		users:     users,
		validator: validate.New(),
		logger:    logger.With().Str("component", "escalation").Logger(),
		now:       time.Now,
	}
}

func (s *Service) checkRule(ctx context.Context, in RuleInput) error {
	if err := s.validator.Struct(in); err != nil {
		return err
	}
	if in.TargetRole == nil && in.TargetUserID == nil {
		return apperr.Validation("target_role or target_user_id is required")
	}
	if in.PriorityFilter != nil && in.RuleType != RuleUrgentMessage {
		return apperr.Validation("priority_filter applies only to urgent_message rules")
	}
	if in.TargetUserID != nil {
		ok, err := s.users.UserExists(ctx, *in.TargetUserID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("user", *in.TargetUserID)
		}
	}
	return nil
}

func applyInput(r *Rule, in RuleInput) {
	r.Name = in.Name
	r.RuleType = in.RuleType
	r.ThresholdMinutes = in.ThresholdMinutes
	r.PriorityFilter = in.PriorityFilter
	r.TargetRole = in.TargetRole
	r.TargetUserID = in.TargetUserID
	if in.Active != nil {
		r.Active = *in.Active
	}
}

func (s *Service) CreateRule(ctx context.Context, in RuleInput) (*Rule, error) {
	if err := s.checkRule(ctx, in); err != nil {
		return nil, err
	}
	r := &Rule{Active: true}
	applyInput(r, in)
	if err := s.rules.Create(ctx, r); err != nil {
		return nil, apperr.Internal("create escalation rule", err)
	}
	s.logger.Info().Str("rule_id", r.ID.String()).Str("rule_type", r.RuleType).Msg("escalation rule created")
	return r, nil
}

// UpdateRule replaces the rule's settings. Active is left alone when the
// input omits it.
func (s *Service) UpdateRule(ctx context.Context, id uuid.UUID, in RuleInput) (*Rule, error) {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkRule(ctx, in); err != nil {
		return nil, err
	}
	applyInput(r, in)
	if err := s.rules.Update(ctx, r); err != nil {
		return nil, apperr.Internal("update escalation rule", err)
	}
	return r, nil
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	r, err := s.rules.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("escalation rule", id)
		}
		return nil, apperr.Internal("load escalation rule", err)
	}
	return r, nil
}

func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	items, err := s.rules.List(ctx, activeOnly)
	if err != nil {
		return nil, apperr.Internal("list escalation rules", err)
	}
	return items, nil
}

func (s *Service) ListEvents(ctx context.Context, f EventFilter) ([]*Event, int, error) {
	if f.SourceType != nil && *f.SourceType != SourceOrder && *f.SourceType != SourceMessage {
		return nil, 0, apperr.Validation("invalid source_type: %s", *f.SourceType)
	}
	items, total, err := s.events.List(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal("list escalation events", err)
	}
	return items, total, nil
}

// AcknowledgeEvent closes an event. Acknowledging a closed event is a no-op.
func (s *Service) AcknowledgeEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("escalation event", id)
		}
		return nil, apperr.Internal("load escalation event", err)
	}
	if e.Acknowledged {
		return e, nil
	}
	now := s.now()
	if err := s.events.Acknowledge(ctx, id, now); err != nil {
		return nil, apperr.Internal("acknowledge escalation event", err)
	}
	e.Acknowledged = true
	e.AcknowledgedAt = &now
	return e, nil
}
