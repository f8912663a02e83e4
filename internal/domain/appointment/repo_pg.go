package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/scheduler/internal/interval"
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

const apptCols = `id, appointment_type, status, start_time, end_time, timezone,
	subject_party_id, counterparty_id, resource_id,
	recurrence, parent_appointment_id, sequence_index,
	notes, cancel_reason, cancelled_at, completion_notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.Type, &a.Status, &a.StartTime, &a.EndTime, &a.Timezone,
		&a.SubjectPartyID, &a.CounterpartyID, &a.ResourceID,
		&a.Recurrence, &a.ParentAppointmentID, &a.SequenceIndex,
		&a.Notes, &a.CancelReason, &a.CancelledAt, &a.CompletionNotes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, appointment_type, status, start_time, end_time, timezone,
			subject_party_id, counterparty_id, resource_id,
			recurrence, parent_appointment_id, sequence_index, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.Type, a.Status, a.StartTime, a.EndTime, a.Timezone,
		a.SubjectPartyID, a.CounterpartyID, a.ResourceID,
		a.Recurrence, a.ParentAppointmentID, a.SequenceIndex, a.Notes)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status=$2, start_time=$3, end_time=$4, notes=$5,
			cancel_reason=$6, cancelled_at=$7, completion_notes=$8, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.StartTime, a.EndTime, a.Notes,
		a.CancelReason, a.CancelledAt, a.CompletionNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointment WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, val interface{}) {
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, val)
		idx++
	}

	if f.ResourceID != uuid.Nil {
		add(` AND resource_id = $%d`, f.ResourceID)
	}
	if f.SubjectPartyID != uuid.Nil {
		add(` AND subject_party_id = $%d`, f.SubjectPartyID)
	}
	if f.CounterpartyID != uuid.Nil {
		add(` AND counterparty_id = $%d`, f.CounterpartyID)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	if !f.From.IsZero() {
		add(` AND end_time > $%d`, f.From)
	}
	if !f.To.IsZero() {
		add(` AND start_time < $%d`, f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY start_time ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountActiveOverlapping(ctx context.Context, resourceID uuid.UUID, iv interval.Interval, exclude *uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM appointment
		WHERE resource_id = $1
		  AND status IN ('PENDING','CONFIRMED')
		  AND start_time < $3 AND end_time > $2`
	args := []interface{}{resourceID, iv.Start, iv.End}
	if exclude != nil {
		query += ` AND id <> $4`
		args = append(args, *exclude)
	}
	var n int
	err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (r *repoPG) ActiveIntervals(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]interval.Interval, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT start_time, end_time FROM appointment
		WHERE resource_id = $1
		  AND status IN ('PENDING','CONFIRMED')
		  AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC`,
		resourceID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []interval.Interval
	for rows.Next() {
		var iv interval.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (r *repoPG) ListConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE status = 'CONFIRMED' AND end_time <= $1
		ORDER BY end_time ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) ListActiveStartingBetween(ctx context.Context, from, to time.Time, limit int) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE status IN ('PENDING','CONFIRMED')
		  AND start_time >= $1 AND start_time < $2
		ORDER BY start_time ASC LIMIT $3`,
		from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
