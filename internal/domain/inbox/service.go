package inbox

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/internal/platform/db"
	"github.com/ehr/ordersafety/internal/platform/validate"
	"github.com/ehr/ordersafety/pkg/apperr"
)

// RecipientResolver is satisfied by delegation.Service.
type RecipientResolver interface {
	ResolveEffectiveRecipient(ctx context.Context, recipient uuid.UUID, category string) (uuid.UUID, error)
}

type Service struct {
	messages  MessageRepository
	resolver  RecipientResolver
	validator *validate.Validator
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(messages MessageRepository, resolver RecipientResolver, logger zerolog.Logger) *Service {
	return &Service{
		messages:  messages,
		resolver:  resolver,
		validator: validate.New(),
		logger:    logger.With().Str("component", "inbox").Logger(),
		now:       time.Now,
	}
}

// Send delivers a user-addressed message. The recipient is resolved for
// category first, so an absent clinician's forward or delegate receives it.
func (s *Service) Send(ctx context.Context, senderID *uuid.UUID, in SendInput, category string) (*Message, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	recipient, err := s.resolver.ResolveEffectiveRecipient(ctx, in.RecipientID, category)
	if err != nil {
		return nil, err
	}

	m := &Message{
		MessageType: in.MessageType,
		Priority:    in.Priority,
		Subject:     in.Subject,
		Body:        in.Body,
		PatientID:   in.PatientID,
		SenderID:    senderID,
		RecipientID: recipient,
		SourceType:  in.SourceType,
		SourceID:    in.SourceID,
	}
	if err := s.Create(ctx, m); err != nil {
		return nil, err
	}
	if recipient != in.RecipientID {
		s.logger.Info().
			Str("message_id", m.ID.String()).
			Str("addressed_to", in.RecipientID.String()).
			Str("delivered_to", recipient.String()).
			Msg("message redirected")
	}
	return m, nil
}

// Create stores m for its recipient as given, with no redirection.
func (s *Service) Create(ctx context.Context, m *Message) error {
	if m.MessageType == "" {
		m.MessageType = TypeMessage
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	if !validMessageTypes[m.MessageType] {
		return apperr.Validation("invalid message_type: %s", m.MessageType)
	}
	if !validPriorities[m.Priority] {
		return apperr.Validation("invalid priority: %s", m.Priority)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return apperr.Validation("subject is required")
	}
	if m.RecipientID == uuid.Nil {
		return apperr.Validation("recipient_id is required")
	}
	m.Status = StatusUnread
	if err := s.messages.Create(ctx, m); err != nil {
		return apperr.Internal("create message", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("message", id)
		}
		return nil, apperr.Internal("load message", err)
	}
	return m, nil
}

// MarkRead marks the message read by its recipient. Reading an already read
// message changes nothing.
func (s *Service) MarkRead(ctx context.Context, id, reader uuid.UUID) (*Message, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.RecipientID != reader {
		return nil, apperr.Authorization("only the recipient can mark a message read")
	}
	if m.Status != StatusUnread {
		return m, nil
	}
	now := s.now()
	if err := s.messages.MarkRead(ctx, id, now); err != nil {
		return nil, apperr.Internal("mark message read", err)
	}
	m.Status = StatusRead
	m.ReadAt = &now
	return m, nil
}

func (s *Service) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	items, total, err := s.messages.ListByRecipient(ctx, recipientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list messages", err)
	}
	return items, total, nil
}

func (s *Service) ListUnreadUrgentBefore(ctx context.Context, threshold time.Time, priorityFilter *string) ([]*Message, error) {
	items, err := s.messages.ListUnreadUrgentBefore(ctx, threshold, priorityFilter)
	if err != nil {
		return nil, apperr.Internal("list unread urgent messages", err)
	}
	return items, nil
}
