package clinical

import (
	"time"

	"github.com/google/uuid"
)

const (
	MedicationActive  = "active"
	MedicationStopped = "stopped"
)

// ActiveMedication is an entry on the patient's medication list, kept apart
// from medication orders so outside prescriptions can be recorded too.
type ActiveMedication struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Code      string     `db:"code" json:"code"`
	Display   string     `db:"display" json:"display"`
	Dosage    *string    `db:"dosage" json:"dosage,omitempty"`
	Status    string     `db:"status" json:"status"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	StoppedAt *time.Time `db:"stopped_at" json:"stopped_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

var validAllergyStatuses = map[string]bool{
	"active": true, "inactive": true, "resolved": true,
}

type Allergy struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Code      string    `db:"code" json:"code"`
	Display   string    `db:"display" json:"display"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MedicationInput is one entry to add to (or refresh on) the medication list
// during reconciliation. An active entry with the same code is updated in place.
type MedicationInput struct {
	Code    string  `json:"code" validate:"notblank"`
	Display string  `json:"display" validate:"notblank"`
	Dosage  *string `json:"dosage,omitempty"`
}

type ReconcileInput struct {
	Stop   []uuid.UUID       `json:"stop"`
	Upsert []MedicationInput `json:"upsert" validate:"dive"`
}

type ReconcileResult struct {
	Stopped  int                 `json:"stopped"`
	Upserted []*ActiveMedication `json:"upserted"`
}
