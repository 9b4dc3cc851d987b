package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ordersafety/internal/platform/db"
)

// -- Medication Repository --

type medicationRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicationRepo(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

const medicationCols = `id, patient_id, code, display, dosage, status, started_at, stopped_at, created_at, updated_at`

func (r *medicationRepoPG) ListActive(ctx context.Context, patientID uuid.UUID) ([]*ActiveMedication, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+medicationCols+` FROM active_medication
		WHERE patient_id = $1 AND status = 'active'
		ORDER BY started_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meds []*ActiveMedication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func (r *medicationRepoPG) Stop(ctx context.Context, patientID, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE active_medication SET status = 'stopped', stopped_at = $3, updated_at = NOW()
		WHERE id = $1 AND patient_id = $2 AND status = 'active'`, id, patientID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *medicationRepoPG) Upsert(ctx context.Context, m *ActiveMedication) error {
	q := db.Conn(ctx, r.pool)
	updated, err := scanMedication(q.QueryRow(ctx, `
		UPDATE active_medication SET display = $3, dosage = $4, updated_at = NOW()
		WHERE patient_id = $1 AND code = $2 AND status = 'active'
		RETURNING `+medicationCols, m.PatientID, m.Code, m.Display, m.Dosage))
	if err == nil {
		*m = *updated
		return nil
	}
	if !db.IsNotFound(err) {
		return err
	}

	m.ID = uuid.New()
	inserted, err := scanMedication(q.QueryRow(ctx, `
		INSERT INTO active_medication (id, patient_id, code, display, dosage, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
		RETURNING `+medicationCols, m.ID, m.PatientID, m.Code, m.Display, m.Dosage))
	if err != nil {
		return err
	}
	*m = *inserted
	return nil
}

func scanMedication(row pgx.Row) (*ActiveMedication, error) {
	var m ActiveMedication
	err := row.Scan(&m.ID, &m.PatientID, &m.Code, &m.Display, &m.Dosage, &m.Status,
		&m.StartedAt, &m.StoppedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// -- Allergy Repository --

type allergyRepoPG struct {
	pool *pgxpool.Pool
}

func NewAllergyRepo(pool *pgxpool.Pool) AllergyRepository {
	return &allergyRepoPG{pool: pool}
}

const allergyCols = `id, patient_id, code, display, status, created_at, updated_at`

func (r *allergyRepoPG) Create(ctx context.Context, a *Allergy) error {
	a.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO allergy (id, patient_id, code, display, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Code, a.Display, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *allergyRepoPG) ListActive(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+allergyCols+` FROM allergy
		WHERE patient_id = $1 AND status = 'active'
		ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allergies []*Allergy
	for rows.Next() {
		var a Allergy
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Code, &a.Display, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		allergies = append(allergies, &a)
	}
	return allergies, rows.Err()
}
