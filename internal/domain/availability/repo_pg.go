package availability

import (
	"context"
	"errors"

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

// =========== Rule Repository ===========

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const ruleCols = `id, resource_id, weekday, start_minute, end_minute, capacity, created_at, updated_at`

func scanRule(row pgx.Row) (*Rule, error) {
	var rl Rule
	err := row.Scan(&rl.ID, &rl.ResourceID, &rl.Weekday, &rl.StartMinute, &rl.EndMinute,
		&rl.Capacity, &rl.CreatedAt, &rl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return &rl, err
}

func (r *ruleRepoPG) Create(ctx context.Context, rl *Rule) error {
	rl.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO availability_rule (id, resource_id, weekday, start_minute, end_minute, capacity)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rl.ID, rl.ResourceID, rl.Weekday, rl.StartMinute, rl.EndMinute, rl.Capacity)
	return err
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return scanRule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM availability_rule WHERE id = $1`, id))
}

func (r *ruleRepoPG) ListByResource(ctx context.Context, resourceID uuid.UUID) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+ruleCols+` FROM availability_rule
		WHERE resource_id = $1
		ORDER BY weekday ASC, start_minute ASC`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rl)
	}
	return items, rows.Err()
}

func (r *ruleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_rule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// =========== Blackout Repository ===========

type blackoutRepoPG struct{ pool *pgxpool.Pool }

func NewBlackoutRepoPG(pool *pgxpool.Pool) BlackoutRepository { return &blackoutRepoPG{pool: pool} }

func (r *blackoutRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const blackoutCols = `id, resource_id, start_time, end_time, reason, created_at`

func scanBlackout(row pgx.Row) (*Blackout, error) {
	var b Blackout
	err := row.Scan(&b.ID, &b.ResourceID, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBlackoutNotFound
	}
	return &b, err
}

func (r *blackoutRepoPG) Create(ctx context.Context, b *Blackout) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blackout (id, resource_id, start_time, end_time, reason)
		VALUES ($1,$2,$3,$4,$5)`,
		b.ID, b.ResourceID, b.StartTime, b.EndTime, b.Reason)
	return err
}

func (r *blackoutRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Blackout, error) {
	return scanBlackout(r.conn(ctx).QueryRow(ctx,
		`SELECT `+blackoutCols+` FROM blackout WHERE id = $1`, id))
}

func (r *blackoutRepoPG) ListOverlapping(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]*Blackout, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+blackoutCols+` FROM blackout
		WHERE resource_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC`,
		resourceID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Blackout
	for rows.Next() {
		b, err := scanBlackout(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *blackoutRepoPG) AnyOverlapping(ctx context.Context, resourceID uuid.UUID, iv interval.Interval) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM blackout
			WHERE resource_id = $1 AND start_time < $3 AND end_time > $2
		)`, resourceID, iv.Start, iv.End).Scan(&exists)
	return exists, err
}

func (r *blackoutRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM blackout WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlackoutNotFound
	}
	return nil
}
