package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/scheduler/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reminderCols = `id, appointment_id, channel, offset_minutes, fire_at,
	status, attempt_count, last_attempt_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.AppointmentID, &rec.Channel, &rec.OffsetMinutes, &rec.FireAt,
		&rec.Status, &rec.AttemptCount, &rec.LastAttemptAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rec, err
}

func (r *repoPG) Upsert(ctx context.Context, rec *Record) (bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reminder (id, appointment_id, channel, offset_minutes, fire_at, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (appointment_id, offset_minutes, channel) DO NOTHING`,
		rec.ID, rec.AppointmentID, rec.Channel, rec.OffsetMinutes, rec.FireAt, rec.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reminderCols+` FROM reminder
		WHERE appointment_id = $1
		ORDER BY fire_at ASC`,
		appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *repoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reminderCols+` FROM reminder
		WHERE status = 'PENDING' AND fire_at <= $1
		ORDER BY fire_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *repoPG) Claim(ctx context.Context, id uuid.UUID, now, holdUntil time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder
		SET attempt_count = attempt_count + 1, last_attempt_at = $2, fire_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING' AND fire_at <= $2`,
		id, now, holdUntil)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder SET status = 'SENT', last_attempt_at = $2, updated_at = NOW()
		WHERE id = $1`,
		id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkRetry(ctx context.Context, id uuid.UUID, nextFire time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder SET fire_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`,
		id, nextFire)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder SET status = 'FAILED', updated_at = NOW()
		WHERE id = $1`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) CancelByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reminder SET status = 'CANCELLED', updated_at = NOW()
		WHERE appointment_id = $1 AND status = 'PENDING'`,
		appointmentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
