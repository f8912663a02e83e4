package appointment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/scheduler/internal/platform/db"
)

// NewTxRunner returns the production transaction runner: a serializable
// transaction so the conflict re-check and the insert observe one snapshot.
// When two bookings race, one aborts with a serialization failure; the
// retry then sees the winner's row, and if the conflict persists the caller
// gets a slot_unavailable conflict instead of a database error.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		err := db.WithTx(ctx, pool, pgx.Serializable, fn)
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}

		err = db.WithTx(ctx, pool, pgx.Serializable, fn)
		if err != nil && db.IsSerializationFailure(err) {
			return &ConflictError{Kind: KindSlotUnavailable, Detail: "lost booking race"}
		}
		return err
	}
}
