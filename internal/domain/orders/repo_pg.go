package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ordersafety/internal/domain/cds"
	"github.com/ehr/ordersafety/internal/platform/db"
)

type orderRepoPG struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

const orderCols = `id, patient_id, encounter_id, order_type, status, priority, code_system, code, code_display,
	detail, cds_alerts, ordered_by, ordered_at, signed_by, signed_at, cancelled_by, cancelled_at, status_reason,
	specimen_received_at, lab_processing_at, completed_at, reported_at,
	results, is_critical, critical_notified_to, critical_notified_at, critical_acknowledged_at, critical_acknowledged_by,
	acknowledged_at, acknowledged_by, amended_at, amend_reason, prior_results,
	external_resource_id, created_at, updated_at`

// reviewOrder sorts review queues critical-first, then by priority, then by
// the most recent result activity.
const reviewOrder = `ORDER BY is_critical DESC,
	CASE priority WHEN 'stat' THEN 0 WHEN 'asap' THEN 1 WHEN 'urgent' THEN 2 ELSE 3 END,
	COALESCE(reported_at, completed_at, ordered_at) DESC`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var detail, alerts, results, prior []byte
	err := row.Scan(&o.ID, &o.PatientID, &o.EncounterID, &o.OrderType, &o.Status, &o.Priority, &o.CodeSystem, &o.Code, &o.CodeDisplay,
		&detail, &alerts, &o.OrderedBy, &o.OrderedAt, &o.SignedBy, &o.SignedAt, &o.CancelledBy, &o.CancelledAt, &o.StatusReason,
		&o.SpecimenReceivedAt, &o.LabProcessingAt, &o.CompletedAt, &o.ReportedAt,
		&results, &o.IsCritical, &o.CriticalNotifiedTo, &o.CriticalNotifiedAt, &o.CriticalAcknowledgedAt, &o.CriticalAcknowledgedBy,
		&o.AcknowledgedAt, &o.AcknowledgedBy, &o.AmendedAt, &o.AmendReason, &prior,
		&o.ExternalResourceID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.Detail, err = decodeDetail(o.OrderType, detail); err != nil {
		return nil, err
	}
	if len(alerts) > 0 {
		if err := json.Unmarshal(alerts, &o.Alerts); err != nil {
			return nil, fmt.Errorf("decode cds_alerts: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &o.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if len(prior) > 0 {
		if err := json.Unmarshal(prior, &o.PriorResults); err != nil {
			return nil, fmt.Errorf("decode prior_results: %w", err)
		}
	}
	return &o, nil
}

// decodeDetail picks the detail variant from the order_type column.
func decodeDetail(orderType string, raw []byte) (OrderDetail, error) {
	var err error
	switch orderType {
	case TypeMedication:
		var d MedicationDetail
		err = json.Unmarshal(raw, &d)
		return d, wrapDecode(err)
	case TypeLaboratory:
		var d LabDetail
		err = json.Unmarshal(raw, &d)
		return d, wrapDecode(err)
	case TypeImaging:
		var d ImagingDetail
		err = json.Unmarshal(raw, &d)
		return d, wrapDecode(err)
	default:
		return nil, fmt.Errorf("unknown order_type %q", orderType)
	}
}

func wrapDecode(err error) error {
	if err != nil {
		return fmt.Errorf("decode detail: %w", err)
	}
	return nil
}

// nullableJSON encodes v, mapping a nil list to SQL NULL.
func nullableJSON(v []Result) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	detail, err := json.Marshal(o.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}
	if o.Alerts == nil {
		o.Alerts = []cds.Alert{}
	}
	alerts, err := json.Marshal(o.Alerts)
	if err != nil {
		return fmt.Errorf("encode cds_alerts: %w", err)
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinical_order (id, patient_id, encounter_id, order_type, status, priority,
			code_system, code, code_display, detail, cds_alerts, ordered_by, ordered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.EncounterID, o.OrderType, o.Status, o.Priority,
		o.CodeSystem, o.Code, o.CodeDisplay, detail, alerts, o.OrderedBy, o.OrderedAt).
		Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM clinical_order WHERE id = $1`, id))
}

func (r *orderRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM clinical_order WHERE id = $1 FOR UPDATE`, id))
}

func (r *orderRepoPG) Update(ctx context.Context, o *Order) error {
	results, err := nullableJSON(o.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	prior, err := nullableJSON(o.PriorResults)
	if err != nil {
		return fmt.Errorf("encode prior_results: %w", err)
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clinical_order SET
			status = $2, priority = $3, signed_by = $4, signed_at = $5,
			cancelled_by = $6, cancelled_at = $7, status_reason = $8,
			specimen_received_at = $9, lab_processing_at = $10, completed_at = $11, reported_at = $12,
			results = $13, is_critical = $14, critical_notified_to = $15, critical_notified_at = $16,
			critical_acknowledged_at = $17, critical_acknowledged_by = $18,
			acknowledged_at = $19, acknowledged_by = $20, amended_at = $21, amend_reason = $22,
			prior_results = $23, external_resource_id = $24, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Status, o.Priority, o.SignedBy, o.SignedAt,
		o.CancelledBy, o.CancelledAt, o.StatusReason,
		o.SpecimenReceivedAt, o.LabProcessingAt, o.CompletedAt, o.ReportedAt,
		results, o.IsCritical, o.CriticalNotifiedTo, o.CriticalNotifiedAt,
		o.CriticalAcknowledgedAt, o.CriticalAcknowledgedBy,
		o.AcknowledgedAt, o.AcknowledgedBy, o.AmendedAt, o.AmendReason,
		prior, o.ExternalResourceID).
		Scan(&o.UpdatedAt)
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM clinical_order WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+orderCols+` FROM clinical_order
		WHERE patient_id = $1 ORDER BY ordered_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

// Entered-in-error orders are skipped, as in single acknowledgment.
const bulkAcknowledgeSQL = `
		UPDATE clinical_order SET acknowledged_at = $3, acknowledged_by = $2, updated_at = NOW()
		WHERE id = ANY($1) AND acknowledged_at IS NULL
		  AND status <> 'entered-in-error'`

func (r *orderRepoPG) BulkAcknowledge(ctx context.Context, ids []uuid.UUID, by uuid.UUID, at time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, bulkAcknowledgeSQL, ids, by, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *orderRepoPG) ListUnacknowledged(ctx context.Context, providerID uuid.UUID) ([]*Order, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+orderCols+` FROM clinical_order
		WHERE ordered_by = $1 AND acknowledged_at IS NULL
		  AND (results IS NOT NULL OR is_critical)
		  AND status NOT IN ('cancelled', 'entered-in-error')
		`+reviewOrder, providerID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *orderRepoPG) ListCritical(ctx context.Context, providerID uuid.UUID) ([]*Order, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+orderCols+` FROM clinical_order
		WHERE ordered_by = $1 AND is_critical AND acknowledged_at IS NULL
		  AND status <> 'entered-in-error'
		`+reviewOrder, providerID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *orderRepoPG) ListCriticalUnacknowledgedBefore(ctx context.Context, threshold time.Time) ([]*Order, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+orderCols+` FROM clinical_order
		WHERE is_critical AND critical_acknowledged_at IS NULL AND critical_notified_at < $1
		ORDER BY critical_notified_at`, threshold)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *orderRepoPG) ActiveMedicationOrders(ctx context.Context, patientID uuid.UUID) ([]cds.ActiveMed, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, code, code_display FROM clinical_order
		WHERE patient_id = $1 AND order_type = 'medication' AND status IN ('active', 'on-hold')
		ORDER BY ordered_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var meds []cds.ActiveMed
	for rows.Next() {
		var id uuid.UUID
		var m cds.ActiveMed
		if err := rows.Scan(&id, &m.Code, &m.Display); err != nil {
			return nil, err
		}
		m.OrderID = &id
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func collect(rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}
