package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ordersafety/internal/platform/db"
)

// -- Rule --

type ruleRepoPG struct {
	pool *pgxpool.Pool
}

func NewRuleRepo(pool *pgxpool.Pool) RuleRepository {
	return &ruleRepoPG{pool: pool}
}

const ruleCols = `id, name, rule_type, threshold_minutes, priority_filter, target_role, target_user_id,
	active, created_at, updated_at`

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	err := row.Scan(&r.ID, &r.Name, &r.RuleType, &r.ThresholdMinutes, &r.PriorityFilter, &r.TargetRole, &r.TargetUserID,
		&r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (repo *ruleRepoPG) Create(ctx context.Context, r *Rule) error {
	r.ID = uuid.New()
	return db.Conn(ctx, repo.pool).QueryRow(ctx, `
		INSERT INTO escalation_rule (id, name, rule_type, threshold_minutes, priority_filter,
			target_role, target_user_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		r.ID, r.Name, r.RuleType, r.ThresholdMinutes, r.PriorityFilter,
		r.TargetRole, r.TargetUserID, r.Active).
		Scan(&r.CreatedAt, &r.UpdatedAt)
}

func (repo *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return scanRule(db.Conn(ctx, repo.pool).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM escalation_rule WHERE id = $1`, id))
}

func (repo *ruleRepoPG) Update(ctx context.Context, r *Rule) error {
	return db.Conn(ctx, repo.pool).QueryRow(ctx, `
		UPDATE escalation_rule SET name = $2, rule_type = $3, threshold_minutes = $4,
			priority_filter = $5, target_role = $6, target_user_id = $7, active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, r.Name, r.RuleType, r.ThresholdMinutes,
		r.PriorityFilter, r.TargetRole, r.TargetUserID, r.Active).
		Scan(&r.UpdatedAt)
}

func (repo *ruleRepoPG) List(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	rows, err := db.Conn(ctx, repo.pool).Query(ctx, `SELECT `+ruleCols+` FROM escalation_rule
		WHERE NOT $1 OR active ORDER BY created_at`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// -- Event --

type eventRepoPG struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) EventRepository {
	return &eventRepoPG{pool: pool}
}

const eventCols = `id, rule_id, source_type, source_id, original_recipient, escalated_to, reason,
	acknowledged, acknowledged_at, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.RuleID, &e.SourceType, &e.SourceID, &e.OriginalRecipient, &e.EscalatedTo, &e.Reason,
		&e.Acknowledged, &e.AcknowledgedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (repo *eventRepoPG) Create(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	return db.Conn(ctx, repo.pool).QueryRow(ctx, `
		INSERT INTO escalation_event (id, rule_id, source_type, source_id, original_recipient, escalated_to, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		e.ID, e.RuleID, e.SourceType, e.SourceID, e.OriginalRecipient, e.EscalatedTo, e.Reason).
		Scan(&e.CreatedAt)
}

func (repo *eventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return scanEvent(db.Conn(ctx, repo.pool).QueryRow(ctx,
		`SELECT `+eventCols+` FROM escalation_event WHERE id = $1`, id))
}

func (repo *eventRepoPG) Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Conn(ctx, repo.pool).Exec(ctx, `
		UPDATE escalation_event SET acknowledged = true, acknowledged_at = $2
		WHERE id = $1 AND NOT acknowledged`, id, at)
	return err
}

func (repo *eventRepoPG) List(ctx context.Context, f EventFilter) ([]*Event, int, error) {
	var where []string
	var args []interface{}
	idx := 1
	if f.Acknowledged != nil {
		where = append(where, fmt.Sprintf("acknowledged = $%d", idx))
		args = append(args, *f.Acknowledged)
		idx++
	}
	if f.SourceType != nil {
		where = append(where, fmt.Sprintf("source_type = $%d", idx))
		args = append(args, *f.SourceType)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, repo.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM escalation_event`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM escalation_event%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		eventCols, clause, idx, idx+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (repo *eventRepoPG) HasOpen(ctx context.Context, ruleID, sourceID uuid.UUID) (bool, error) {
	var open bool
	err := db.Conn(ctx, repo.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM escalation_event
			WHERE rule_id = $1 AND source_id = $2 AND NOT acknowledged)`, ruleID, sourceID).Scan(&open)
	return open, err
}
