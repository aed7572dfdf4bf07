package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"citypulse/internal/types"
)

// Compile-time assertion that TriggerHistoryRepository implements the store
// interface the engine depends on.
var _ types.TriggerHistoryStore = (*TriggerHistoryRepository)(nil)

// TriggerHistoryRepository provides append-only access to the
// trigger_history table. Rows are never updated or deleted here; retention
// is an external maintenance concern.
//
// Expected schema:
//
//	CREATE TABLE trigger_history (
//	    id             uuid PRIMARY KEY,
//	    user_id        text NOT NULL,
//	    condition_kind text NOT NULL,
//	    title          text NOT NULL,
//	    message        text NOT NULL,
//	    location_label text,
//	    lat            double precision,
//	    lon            double precision,
//	    priority       text NOT NULL,
//	    source         text NOT NULL,
//	    dedup_key      text NOT NULL DEFAULT '',
//	    metadata       jsonb,
//	    fired_at       timestamptz NOT NULL
//	);
//	CREATE INDEX trigger_history_dedup_idx
//	    ON trigger_history (user_id, condition_kind, dedup_key, fired_at DESC);
//
// The dedup index serves every suppression lookup; AppendIfAbsent takes a
// per-key advisory lock on top of it for check-and-insert atomicity.
type TriggerHistoryRepository struct {
	db   DBTX
	pool TxStarter
}

// NewTriggerHistoryRepository creates a repository backed by the given pool.
// The pool is required for AppendIfAbsent, which runs in a transaction.
func NewTriggerHistoryRepository(db DBTX, pool TxStarter) *TriggerHistoryRepository {
	return &TriggerHistoryRepository{db: db, pool: pool}
}

const existsQuery = `
	SELECT EXISTS (
		SELECT 1 FROM trigger_history
		WHERE user_id = $1
		  AND condition_kind = $2
		  AND ($3 = '' OR dedup_key = $3)
		  AND fired_at >= $4
	)`

// Exists reports whether a firing record matches (userID, kind, dedupKey)
// at or after since. A zero since is an unbounded lookback; an empty
// dedupKey matches any record of the kind.
func (r *TriggerHistoryRepository) Exists(ctx context.Context, userID string, kind types.ConditionKind, dedupKey string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, existsQuery, userID, string(kind), dedupKey, since).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "trigger history lookup failed", err)
	}
	return exists, nil
}

const insertQuery = `
	INSERT INTO trigger_history (
		id, user_id, condition_kind, title, message, location_label,
		lat, lon, priority, source, dedup_key, metadata, fired_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// Append persists a new firing record. The record's ID is assigned here
// when empty.
func (r *TriggerHistoryRepository) Append(ctx context.Context, rec *types.TriggerHistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.Exec(ctx, insertQuery,
		rec.ID, rec.UserID, string(rec.Kind), rec.Title, rec.Message,
		rec.LocationLabel, rec.Lat, rec.Lon, string(rec.Priority),
		string(rec.Source), rec.DedupKey, rec.Metadata, rec.FiredAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "trigger history append failed", err)
	}
	return nil
}

// AppendIfAbsent re-checks suppression and appends in a single transaction,
// serialized per dedup key by a transaction-scoped advisory lock. Two
// concurrent evaluations of the same (user, kind, key) therefore cannot
// both pass the existence check and both insert.
//
// Returns false when a matching record already exists (the caller must not
// dispatch the notification).
func (r *TriggerHistoryRepository) AppendIfAbsent(ctx context.Context, rec *types.TriggerHistoryRecord, since time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to begin history transaction", err)
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent writers of the same dedup tuple. hashtext maps
	// the tuple onto the 32-bit advisory lock space; a rare collision only
	// costs serialization, never correctness.
	lockKey := rec.UserID + "|" + string(rec.Kind) + "|" + rec.DedupKey
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire history lock", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, existsQuery, rec.UserID, string(rec.Kind), rec.DedupKey, since).Scan(&exists); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "trigger history re-check failed", err)
	}
	if exists {
		return false, nil
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, err := tx.Exec(ctx, insertQuery,
		rec.ID, rec.UserID, string(rec.Kind), rec.Title, rec.Message,
		rec.LocationLabel, rec.Lat, rec.Lon, string(rec.Priority),
		string(rec.Source), rec.DedupKey, rec.Metadata, rec.FiredAt,
	); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "trigger history append failed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to commit history transaction", err)
	}
	return true, nil
}
