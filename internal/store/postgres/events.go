package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// AppendEvent inserts e. On a uid conflict only updated_at moves and
// fanned_out_at is left alone, so a replayed event never fans out twice.
func (q queries) AppendEvent(ctx context.Context, e *model.Event) (bool, error) {
	now := e.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var inserted bool
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO events (
			uid, event_type, version, chain_id, block_number, log_index,
			tx_hash, entity_id, data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (uid) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`,
		e.UID,
		string(e.EventType),
		e.Version,
		nullInt64Ptr(e.ChainID),
		nullInt64Ptr(e.BlockNumber),
		nullIntPtr(e.LogIndex),
		nullString(e.TxHash),
		nullString(e.EntityID),
		jsonbBytes(e.Data),
		now,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	return inserted, nil
}

func (q queries) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

// ListUnarchivedEvents selects by archived_at rather than an id high-water
// mark, so an event whose insert commits after a higher id was archived is
// still picked up on a later run.
func (q queries) ListUnarchivedEvents(ctx context.Context, limit int) ([]*model.Event, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE archived_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list unarchived events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (q queries) MarkEventsArchived(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := q.db.ExecContext(ctx,
		`UPDATE events SET archived_at = $2 WHERE id = ANY($1)`,
		pq.Array(ids), at); err != nil {
		return fmt.Errorf("mark events archived: %w", err)
	}
	return nil
}
