package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ordersafety/internal/platform/db"
)

type messageRepoPG struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, message_type, priority, subject, body, patient_id, sender_id,
	recipient_id, status, source_type, source_id, read_at, created_at, updated_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.MessageType, &m.Priority, &m.Subject, &m.Body, &m.PatientID, &m.SenderID,
		&m.RecipientID, &m.Status, &m.SourceType, &m.SourceID, &m.ReadAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inbox_message (id, message_type, priority, subject, body,
			patient_id, sender_id, recipient_id, status, source_type, source_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		m.ID, m.MessageType, m.Priority, m.Subject, m.Body,
		m.PatientID, m.SenderID, m.RecipientID, m.Status, m.SourceType, m.SourceID).
		Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+messageCols+` FROM inbox_message WHERE id = $1`, id))
}

func (r *messageRepoPG) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE inbox_message SET status = 'read', read_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'unread'`, id, at)
	return err
}

func (r *messageRepoPG) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM inbox_message WHERE recipient_id = $1`, recipientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+messageCols+` FROM inbox_message
		WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *messageRepoPG) ListUnreadUrgentBefore(ctx context.Context, threshold time.Time, priorityFilter *string) ([]*Message, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+messageCols+` FROM inbox_message
		WHERE status = 'unread' AND priority = 'urgent' AND created_at < $1
		  AND ($2::text IS NULL OR priority = $2)
		ORDER BY created_at`, threshold, priorityFilter)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Message, error) {
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
