package delegation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ordersafety/internal/platform/db"
)

// -- Delegation Repository --

type delegationRepoPG struct {
	pool *pgxpool.Pool
}

func NewDelegationRepo(pool *pgxpool.Pool) DelegationRepository {
	return &delegationRepoPG{pool: pool}
}

const delegationCols = `id, delegator_id, delegate_id, delegation_type, valid_from, valid_to,
	reason, active, created_at, updated_at`

func scanDelegation(row pgx.Row) (*Delegation, error) {
	var d Delegation
	err := row.Scan(&d.ID, &d.DelegatorID, &d.DelegateID, &d.DelegationType, &d.ValidFrom, &d.ValidTo,
		&d.Reason, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *delegationRepoPG) Create(ctx context.Context, d *Delegation) error {
	d.ID = uuid.New()
	d.Active = true
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinician_delegation (id, delegator_id, delegate_id, delegation_type,
			valid_from, valid_to, reason, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		d.ID, d.DelegatorID, d.DelegateID, d.DelegationType,
		d.ValidFrom, d.ValidTo, d.Reason, d.Active).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *delegationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Delegation, error) {
	return scanDelegation(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+delegationCols+` FROM clinician_delegation WHERE id = $1`, id))
}

func (r *delegationRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE clinician_delegation SET active = false, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *delegationRepoPG) ListByDelegator(ctx context.Context, delegatorID uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	return r.list(ctx, "delegator_id", delegatorID, limit, offset)
}

func (r *delegationRepoPG) ListByDelegate(ctx context.Context, delegateID uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	return r.list(ctx, "delegate_id", delegateID, limit, offset)
}

// list is only called with the two fixed column names above.
func (r *delegationRepoPG) list(ctx context.Context, col string, id uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM clinician_delegation WHERE `+col+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+delegationCols+` FROM clinician_delegation
		WHERE `+col+` = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *delegationRepoPG) ListInEffect(ctx context.Context, delegatorID uuid.UUID, category string, now time.Time) ([]*Delegation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+delegationCols+` FROM clinician_delegation
		WHERE delegator_id = $1
		  AND active
		  AND delegation_type IN ($2, 'all')
		  AND (valid_from IS NULL OR valid_from <= $3)
		  AND (valid_to IS NULL OR valid_to > $3)
		ORDER BY created_at DESC`, delegatorID, category, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// -- Out-of-Office Repository --

type outOfOfficeRepoPG struct {
	pool *pgxpool.Pool
}

func NewOutOfOfficeRepo(pool *pgxpool.Pool) OutOfOfficeRepository {
	return &outOfOfficeRepoPG{pool: pool}
}

func (r *outOfOfficeRepoPG) Get(ctx context.Context, userID uuid.UUID) (*OutOfOffice, error) {
	var o OutOfOffice
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT user_id, out_of_office, message, start_at, end_at, auto_forward_to, updated_at
		FROM out_of_office WHERE user_id = $1`, userID).
		Scan(&o.UserID, &o.OutOfOffice, &o.Message, &o.StartAt, &o.EndAt, &o.AutoForwardTo, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *outOfOfficeRepoPG) Upsert(ctx context.Context, o *OutOfOffice) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO out_of_office (user_id, out_of_office, message, start_at, end_at, auto_forward_to, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			out_of_office = EXCLUDED.out_of_office,
			message = EXCLUDED.message,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			auto_forward_to = EXCLUDED.auto_forward_to,
			updated_at = NOW()
		RETURNING updated_at`,
		o.UserID, o.OutOfOffice, o.Message, o.StartAt, o.EndAt, o.AutoForwardTo).Scan(&o.UpdatedAt)
}

func (r *outOfOfficeRepoPG) Clear(ctx context.Context, userID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE out_of_office SET out_of_office = false, message = NULL, start_at = NULL,
			end_at = NULL, auto_forward_to = NULL, updated_at = NOW()
		WHERE user_id = $1`, userID)
	return err
}
