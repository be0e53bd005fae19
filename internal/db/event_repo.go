package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"payrelay/internal/types"
)

// ProcessedEventRepo stores provider event claims in processed_events.
//
// Claim is a single upsert: a new row is inserted, an expired row is
// overwritten, and a live row is left untouched. RowsAffected tells the
// caller which case happened, so concurrent deliveries of one event across
// instances produce exactly one winner.
type ProcessedEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProcessedEventRepo creates a repository over db.
func NewProcessedEventRepo(db DBTX, logger *slog.Logger) *ProcessedEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessedEventRepo{db: db, logger: logger}
}

const claimEventSQL = `
INSERT INTO processed_events (event_id, event_type, status, fulfillment_id, claimed_at, expires_at)
VALUES ($1, $2, 'processing', '', NOW(), NOW() + $3::float8 * INTERVAL '1 second')
ON CONFLICT (event_id) DO UPDATE
SET event_type = EXCLUDED.event_type,
    status = 'processing',
    fulfillment_id = '',
    claimed_at = EXCLUDED.claimed_at,
    expires_at = EXCLUDED.expires_at
WHERE processed_events.expires_at <= NOW()`

// Claim reports whether this call now owns eventID.
func (r *ProcessedEventRepo) Claim(ctx context.Context, eventID, eventType string, ttl time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx, claimEventSQL, eventID, eventType, ttl.Seconds())
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim event", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFulfilled records the outbound request id for a claimed event.
func (r *ProcessedEventRepo) MarkFulfilled(ctx context.Context, eventID, fulfillmentID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE processed_events SET status = 'fulfilled', fulfillment_id = $2 WHERE event_id = $1`,
		eventID, fulfillmentID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark event fulfilled", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundEvent, "event "+eventID+" is not claimed", nil)
	}
	return nil
}

// Release deletes the claim for eventID. A missing row is not an error.
func (r *ProcessedEventRepo) Release(ctx context.Context, eventID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release event", err)
	}
	return nil
}

// Get loads the claim for eventID.
func (r *ProcessedEventRepo) Get(ctx context.Context, eventID string) (*types.ProcessedEvent, error) {
	var ev types.ProcessedEvent
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT event_id, event_type, status, fulfillment_id, claimed_at, expires_at
		 FROM processed_events WHERE event_id = $1`,
		eventID,
	).Scan(&ev.EventID, &ev.EventType, &status, &ev.FulfillmentID, &ev.ClaimedAt, &ev.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event "+eventID+" not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load event", err)
	}
	ev.Status = types.EventStatus(status)
	return &ev, nil
}

// PurgeExpired deletes expired claims.
func (r *ProcessedEventRepo) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM processed_events WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge expired events", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		r.logger.Info("purged expired event claims", slog.Int64("count", n))
	}
	return n, nil
}

// Ping checks connectivity with a trivial query.
func (r *ProcessedEventRepo) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database ping failed", err)
	}
	return nil
}
