package clinical

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

// PatientChecker is satisfied by identity.Service.
type PatientChecker interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	meds      MedicationRepository
	allergies AllergyRepository
	patients  PatientChecker
	tx        db.TxRunner
	validator *validate.Validator
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(meds MedicationRepository, allergies AllergyRepository, patients PatientChecker, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		meds:      meds,
		allergies: allergies,
		patients:  patients,
		tx:        tx,
		validator: validate.New(),
		logger:    logger.With().Str("component", "clinical").Logger(),
		now:       time.Now,
	}
}

func (s *Service) requirePatient(ctx context.Context, id uuid.UUID) error {
	ok, err := s.patients.PatientExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("patient", id)
	}
	return nil
}

func (s *Service) ListActiveMedications(ctx context.Context, patientID uuid.UUID) ([]*ActiveMedication, error) {
	meds, err := s.meds.ListActive(ctx, patientID)
	if err != nil {
		return nil, apperr.Internal("list active medications", err)
	}
	return meds, nil
}

func (s *Service) ListActiveAllergies(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	allergies, err := s.allergies.ListActive(ctx, patientID)
	if err != nil {
		return nil, apperr.Internal("list active allergies", err)
	}
	return allergies, nil
}

func (s *Service) AddAllergy(ctx context.Context, a *Allergy) error {
	a.Code = strings.TrimSpace(a.Code)
	if a.Code == "" {
		return apperr.Validation("code is required")
	}
	if strings.TrimSpace(a.Display) == "" {
		return apperr.Validation("display is required")
	}
	if a.Status == "" {
		a.Status = "active"
	}
	if !validAllergyStatuses[a.Status] {
		return apperr.Validation("invalid allergy status: %s", a.Status)
	}
	if err := s.requirePatient(ctx, a.PatientID); err != nil {
		return err
	}
	if err := s.allergies.Create(ctx, a); err != nil {
		return apperr.Internal("create allergy", err)
	}
	return nil
}

// Reconcile stops the listed entries and upserts the new ones in a single
// transaction. An unknown or already stopped entry aborts the whole change.
func (s *Service) Reconcile(ctx context.Context, patientID uuid.UUID, in ReconcileInput) (*ReconcileResult, error) {
	if len(in.Stop) == 0 && len(in.Upsert) == 0 {
		return nil, apperr.Validation("nothing to reconcile")
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	if err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	now := s.now()
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, id := range in.Stop {
			ok, err := s.meds.Stop(ctx, patientID, id, now)
			if err != nil {
				return apperr.Internal("stop medication", err)
			}
			if !ok {
				return apperr.NotFound("active medication", id)
			}
			result.Stopped++
		}
		for _, u := range in.Upsert {
			m := &ActiveMedication{
				PatientID: patientID,
				Code:      strings.TrimSpace(u.Code),
				Display:   u.Display,
				Dosage:    u.Dosage,
				Status:    MedicationActive,
			}
			if err := s.meds.Upsert(ctx, m); err != nil {
				return apperr.Internal("upsert medication", err)
			}
			result.Upserted = append(result.Upserted, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", patientID.String()).
		Int("stopped", result.Stopped).
		Int("upserted", len(result.Upserted)).
		Msg("medication list reconciled")
	return result, nil
}
