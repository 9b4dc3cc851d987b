package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MedicationRepository interface {
	ListActive(ctx context.Context, patientID uuid.UUID) ([]*ActiveMedication, error)
	// Stop marks one active entry of the patient stopped. It reports false
	// when no such active entry exists.
	Stop(ctx context.Context, patientID, id uuid.UUID, at time.Time) (bool, error)
	// Upsert refreshes the patient's active entry for m.Code or inserts a
	// new one, filling in the stored fields on m.
	Upsert(ctx context.Context, m *ActiveMedication) error
}

type AllergyRepository interface {
	Create(ctx context.Context, a *Allergy) error
	ListActive(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error)
}
