package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/internal/platform/db"
	"github.com/ehr/ordersafety/pkg/apperr"
)

// Service is the read side of users and patients used by the order,
// delegation and escalation services.
type Service struct {
	users    UserRepository
	patients PatientRepository
}

func NewService(users UserRepository, patients PatientRepository) *Service {
	return &Service{users: users, patients: patients}
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("user", id)
		}
		return nil, apperr.Internal("load user", err)
	}
	return u, nil
}

// UserExists returns false with a nil error when no such user is stored.
func (s *Service) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, err := s.GetUser(ctx, id); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindActiveUserByRole picks one active user holding role. When several
// match, the earliest-created one wins. Returns nil, nil when nobody matches.
func (s *Service) FindActiveUserByRole(ctx context.Context, role string) (*User, error) {
	if role == "" {
		return nil, apperr.Validation("role is required")
	}
	u, err := s.users.FindActiveByRole(ctx, role)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperr.Internal("find user by role", err)
	}
	return u, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("patient", id)
		}
		return nil, apperr.Internal("load patient", err)
	}
	return p, nil
}

func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, err := s.GetPatient(ctx, id); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
