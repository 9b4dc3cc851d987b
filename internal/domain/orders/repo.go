package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ordersafety/internal/domain/cds"
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetForUpdate locks the row for the rest of the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	// Update writes every mutable column of o.
	Update(ctx context.Context, o *Order) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error)

	// BulkAcknowledge stamps acknowledgment on the listed orders that are not
	// yet acknowledged and returns how many it touched.
	BulkAcknowledge(ctx context.Context, ids []uuid.UUID, by uuid.UUID, at time.Time) (int, error)
	ListUnacknowledged(ctx context.Context, providerID uuid.UUID) ([]*Order, error)
	ListCritical(ctx context.Context, providerID uuid.UUID) ([]*Order, error)
	ListCriticalUnacknowledgedBefore(ctx context.Context, threshold time.Time) ([]*Order, error)

	// ActiveMedicationOrders lists the patient's signed, still running
	// medication orders.
	ActiveMedicationOrders(ctx context.Context, patientID uuid.UUID) ([]cds.ActiveMed, error)
}
