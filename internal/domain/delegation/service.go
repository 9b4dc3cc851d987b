package delegation

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

type Service struct {
	delegations DelegationRepository
	ooo         OutOfOfficeRepository
	users       UserChecker
	validator   *validate.Validator
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(delegations DelegationRepository, ooo OutOfOfficeRepository, users UserChecker, logger zerolog.Logger) *Service {
	return &Service{
		delegations: delegations,
		ooo:         ooo,
		users:       users,
		validator:   validate.New(),
		logger:      logger.With().Str("component", "delegation").Logger(),
		now:         time.Now,
	}
}

// ResolveEffectiveRecipient returns who should act on an item addressed to
// recipient. An out-of-office auto-forward wins over any delegation; then the
// newest delegation in effect covering category; otherwise recipient itself.
// Resolution is a single hop.
func (s *Service) ResolveEffectiveRecipient(ctx context.Context, recipient uuid.UUID, category string) (uuid.UUID, error) {
	if !validCategories[category] {
		return uuid.Nil, apperr.Validation("invalid delegation category: %s", category)
	}
	now := s.now()

	status, err := s.ooo.Get(ctx, recipient)
	switch {
	case err == nil:
		if status.InEffect(now) && status.AutoForwardTo != nil {
			return *status.AutoForwardTo, nil
		}
	case !db.IsNotFound(err):
		return uuid.Nil, apperr.Internal("load out-of-office status", err)
	}

	active, err := s.delegations.ListInEffect(ctx, recipient, category, now)
	if err != nil {
		return uuid.Nil, apperr.Internal("list active delegations", err)
	}
	if len(active) > 0 {
		return active[0].DelegateID, nil
	}
	return recipient, nil
}

func (s *Service) requireUser(ctx context.Context, id uuid.UUID) error {
	ok, err := s.users.UserExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("user", id)
	}
	return nil
}

func (s *Service) CreateDelegation(ctx context.Context, delegatorID uuid.UUID, in CreateDelegationInput) (*Delegation, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	if delegatorID == in.DelegateID {
		return nil, apperr.Validation("cannot delegate to yourself")
	}
	if in.ValidFrom != nil && in.ValidTo != nil && in.ValidTo.Before(*in.ValidFrom) {
		return nil, apperr.Validation("valid_to must not be before valid_from")
	}
	if err := s.requireUser(ctx, delegatorID); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, in.DelegateID); err != nil {
		return nil, err
	}

	d := &Delegation{
		DelegatorID:    delegatorID,
		DelegateID:     in.DelegateID,
		DelegationType: in.DelegationType,
		ValidFrom:      in.ValidFrom,
		ValidTo:        in.ValidTo,
		Reason:         in.Reason,
	}
	if err := s.delegations.Create(ctx, d); err != nil {
		return nil, apperr.Internal("create delegation", err)
	}
	s.logger.Info().
		Str("delegation_id", d.ID.String()).
		Str("delegator_id", delegatorID.String()).
		Str("delegate_id", in.DelegateID.String()).
		Str("delegation_type", d.DelegationType).
		Msg("delegation created")
	return d, nil
}

// RevokeDelegation deactivates a delegation. Only its delegator may do so.
func (s *Service) RevokeDelegation(ctx context.Context, id, requester uuid.UUID) (*Delegation, error) {
	d, err := s.delegations.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("delegation", id)
		}
		return nil, apperr.Internal("load delegation", err)
	}
	if d.DelegatorID != requester {
		return nil, apperr.Authorization("only the delegator can revoke a delegation")
	}
	if !d.Active {
		return d, nil
	}
	if err := s.delegations.Deactivate(ctx, id); err != nil {
		return nil, apperr.Internal("revoke delegation", err)
	}
	d.Active = false
	return d, nil
}

func (s *Service) ListGranted(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	items, total, err := s.delegations.ListByDelegator(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list granted delegations", err)
	}
	return items, total, nil
}

func (s *Service) ListReceived(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	items, total, err := s.delegations.ListByDelegate(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list received delegations", err)
	}
	return items, total, nil
}

func (s *Service) SetOutOfOffice(ctx context.Context, userID uuid.UUID, in SetOutOfOfficeInput) (*OutOfOffice, error) {
	if in.StartAt != nil && in.EndAt != nil && in.EndAt.Before(*in.StartAt) {
		return nil, apperr.Validation("end_at must not be before start_at")
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	if in.AutoForwardTo != nil {
		if *in.AutoForwardTo == userID {
			return nil, apperr.Validation("cannot auto-forward to yourself")
		}
		if err := s.requireUser(ctx, *in.AutoForwardTo); err != nil {
			return nil, err
		}
	}

	o := &OutOfOffice{
		UserID:        userID,
		OutOfOffice:   true,
		Message:       in.Message,
		StartAt:       in.StartAt,
		EndAt:         in.EndAt,
		AutoForwardTo: in.AutoForwardTo,
	}
	if err := s.ooo.Upsert(ctx, o); err != nil {
		return nil, apperr.Internal("save out-of-office status", err)
	}
	return o, nil
}

func (s *Service) ClearOutOfOffice(ctx context.Context, userID uuid.UUID) error {
	if err := s.ooo.Clear(ctx, userID); err != nil {
		return apperr.Internal("clear out-of-office status", err)
	}
	return nil
}

// GetOutOfOffice returns the stored status, or a not-away status for users
// who never set one.
func (s *Service) GetOutOfOffice(ctx context.Context, userID uuid.UUID) (*OutOfOffice, error) {
	o, err := s.ooo.Get(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return &OutOfOffice{UserID: userID}, nil
		}
		return nil, apperr.Internal("load out-of-office status", err)
	}
	return o, nil
}
