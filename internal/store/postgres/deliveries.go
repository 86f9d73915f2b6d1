package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// EnqueuePending fans out a batch of events in one transaction. Events are
// locked with SKIP LOCKED so concurrent enqueuers take disjoint batches, and
// the (event_id, subscription_id) constraint makes re-runs no-ops.
func (q queries) EnqueuePending(ctx context.Context, limit int, now time.Time) (store.EnqueueResult, error) {
	var res store.EnqueueResult
	err := q.inTx(ctx, func(db executor) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id FROM events
			WHERE fanned_out_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("select unfanned events: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan event id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		ins, err := db.ExecContext(ctx, `
			INSERT INTO deliveries (
				event_id, subscription_id, status, attempts_count, next_attempt_at, created_at, updated_at
			)
			SELECT e.id, s.id, 'pending', 0, $2, $2, $2
			FROM events e
			JOIN webhook_subscriptions s
			  ON s.event_filter @> ARRAY[e.event_type] AND NOT s.paused
			WHERE e.id = ANY($1)
			ON CONFLICT (event_id, subscription_id) DO NOTHING`,
			pq.Array(ids), now)
		if err != nil {
			return fmt.Errorf("insert deliveries: %w", err)
		}
		n, err := ins.RowsAffected()
		if err != nil {
			return err
		}

		if _, err := db.ExecContext(ctx,
			`UPDATE events SET fanned_out_at = $2 WHERE id = ANY($1)`,
			pq.Array(ids), now); err != nil {
			return fmt.Errorf("mark fanned out: %w", err)
		}

		res = store.EnqueueResult{Events: len(ids), Deliveries: int(n)}
		return nil
	})
	if err != nil {
		return store.EnqueueResult{}, err
	}
	return res, nil
}

// ClaimDue selects due deliveries and marks them processing in a single
// statement. Rows locked by another claimer are skipped. The batch shares
// one fresh claim token.
func (q queries) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.ClaimedDelivery, error) {
	token := uuid.NewString()
	rows, err := q.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM deliveries
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE deliveries d
			SET status = 'processing', claimed_at = $1, claim_token = $3, updated_at = $1
			FROM due
			WHERE d.id = due.id
			RETURNING d.*
		)
		SELECT `+prefixed("c", deliveryColumns)+`, `+prefixed("e", eventColumns)+`
		FROM claimed c
		JOIN events e ON e.id = c.event_id
		ORDER BY c.next_attempt_at, c.id`,
		now, limit, token)
	if err != nil {
		return nil, fmt.Errorf("claim deliveries: %w", err)
	}
	defer rows.Close()

	var out []*model.ClaimedDelivery
	for rows.Next() {
		cd, err := scanClaimed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed delivery: %w", err)
		}
		out = append(out, cd)
	}
	return out, rows.Err()
}

// RenewClaim restarts the stale clock of a claimed delivery. A worker calls
// it right before dispatch so a claim that sat behind slow batch items is
// not requeued mid-send.
func (q queries) RenewClaim(ctx context.Context, id int64, token string, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE deliveries
		SET claimed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND claim_token = $2`,
		id, token, now)
	if err != nil {
		return fmt.Errorf("renew claim on delivery %d: %w", id, err)
	}
	return claimResult(res)
}

func (q queries) ReleaseClaim(ctx context.Context, id int64, token string, nextAttemptAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'pending', next_attempt_at = $3, claimed_at = NULL, claim_token = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claim_token = $2`,
		id, token, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("release delivery %d: %w", id, err)
	}
	return claimResult(res)
}

// claimResult maps a zero-row claim update to ErrNotClaimed.
func claimResult(res sql.Result) error {
	if err := rowsAffected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotClaimed
		}
		return err
	}
	return nil
}

// RecordAttempt appends the attempt row and applies the delivery transition
// atomically. The attempt number is read under a row lock.
func (q queries) RecordAttempt(ctx context.Context, o model.AttemptOutcome) (*model.DeliveryAttempt, error) {
	var (
		nextAttemptAt sql.NullTime
		completedAt   sql.NullTime
	)
	switch o.Next {
	case model.DeliveryPending:
		nextAttemptAt = sql.NullTime{Time: o.NextAttemptAt, Valid: true}
	case model.DeliverySuccess, model.DeliveryFailed:
		completedAt = sql.NullTime{Time: o.AttemptedAt, Valid: true}
	default:
		return nil, fmt.Errorf("record attempt: invalid next status %q", o.Next)
	}

	a := &model.DeliveryAttempt{
		DeliveryID:     o.DeliveryID,
		AttemptedAt:    o.AttemptedAt,
		ResponseStatus: o.ResponseStatus,
		ResponseMs:     o.ResponseMs,
	}
	if o.Error != "" {
		msg := o.Error
		a.Error = &msg
	}

	err := q.inTx(ctx, func(db executor) error {
		var count int
		err := db.QueryRowContext(ctx, `
			SELECT attempts_count FROM deliveries
			WHERE id = $1 AND status = 'processing' AND claim_token = $2
			FOR UPDATE`, o.DeliveryID, o.ClaimToken).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotClaimed
		}
		if err != nil {
			return fmt.Errorf("lock delivery: %w", err)
		}
		a.AttemptNumber = count + 1

		if err := db.QueryRowContext(ctx, `
			INSERT INTO delivery_attempts (
				delivery_id, attempt_number, attempted_at, response_status, response_ms, error
			) VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			a.DeliveryID, a.AttemptNumber, a.AttemptedAt, a.ResponseStatus, a.ResponseMs, nullString(o.Error),
		).Scan(&a.ID); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}

		if _, err := db.ExecContext(ctx, `
			UPDATE deliveries
			SET status = $2,
			    attempts_count = attempts_count + 1,
			    next_attempt_at = COALESCE($3, next_attempt_at),
			    completed_at = $4,
			    claimed_at = NULL,
			    claim_token = NULL,
			    updated_at = $5
			WHERE id = $1`,
			o.DeliveryID, string(o.Next), nextAttemptAt, completedAt, o.AttemptedAt); err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RetryDelivery reopens a failed delivery for immediate dispatch. The
// attempt count is preserved.
func (q queries) RetryDelivery(ctx context.Context, id int64, now time.Time) (*model.Delivery, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE deliveries
		SET status = 'pending', next_attempt_at = $2, completed_at = NULL,
		    claimed_at = NULL, claim_token = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'
		RETURNING `+deliveryColumns,
		id, now)
	d, err := scanDelivery(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("retry delivery %d: %w", id, err)
	}

	var status string
	if err := q.db.QueryRowContext(ctx, `SELECT status FROM deliveries WHERE id = $1`, id).Scan(&status); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("delivery %d is %s: %w", id, status, store.ErrNotFailed)
}

// RequeueStale returns deliveries whose claim is older than cutoff to
// pending, making them due at now.
func (q queries) RequeueStale(ctx context.Context, cutoff, now time.Time, limit int) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id FROM deliveries
			WHERE status = 'processing' AND claimed_at < $1
			ORDER BY claimed_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE deliveries d
		SET status = 'pending', next_attempt_at = $2, claimed_at = NULL, claim_token = NULL, updated_at = $2
		FROM stale
		WHERE d.id = stale.id`,
		cutoff, now, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (q queries) GetDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

// ListDeliveries pages by id descending. nextCursor is 0 on the last page.
func (q queries) ListDeliveries(ctx context.Context, filter model.DeliveryFilter) ([]*model.DeliveryRow, int64, error) {
	limit := model.PageLimit(filter.Limit)

	var w where
	if filter.SubscriptionID != "" {
		w.add("d.subscription_id = %s", filter.SubscriptionID)
	}
	if filter.DeliveryID != 0 {
		w.add("d.id = %s", filter.DeliveryID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		w.add("d.status = ANY(%s)", pq.Array(statuses))
	}
	if filter.Cursor > 0 {
		w.add("d.id < %s", filter.Cursor)
	}

	query := `
		SELECT d.id, d.subscription_id, d.created_at, d.next_attempt_at, d.attempts_count, d.status, e.event_type
		FROM deliveries d
		JOIN events e ON e.id = d.event_id` + w.sql() + `
		ORDER BY d.id DESC
		LIMIT ` + w.arg(limit+1)

	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*model.DeliveryRow
	for rows.Next() {
		var r model.DeliveryRow
		if err := rows.Scan(&r.ID, &r.SubscriptionID, &r.CreatedAt, &r.NextAttemptAt, &r.AttemptsCount, &r.Status, &r.EventType); err != nil {
			return nil, 0, fmt.Errorf("scan delivery row: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var next int64
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

// ListAttempts pages by attempt id descending.
func (q queries) ListAttempts(ctx context.Context, filter model.AttemptFilter) ([]*model.AttemptRow, int64, error) {
	limit := model.PageLimit(filter.Limit)

	var w where
	if filter.DeliveryID != 0 {
		w.add("a.delivery_id = %s", filter.DeliveryID)
	}
	if filter.SubscriptionID != "" {
		w.add("d.subscription_id = %s", filter.SubscriptionID)
	}
	if filter.Cursor > 0 {
		w.add("a.id < %s", filter.Cursor)
	}

	query := `
		SELECT a.id, a.delivery_id, a.attempted_at, a.attempt_number, a.response_status, a.response_ms, a.error, e.event_type
		FROM delivery_attempts a
		JOIN deliveries d ON d.id = a.delivery_id
		JOIN events e ON e.id = d.event_id` + w.sql() + `
		ORDER BY a.id DESC
		LIMIT ` + w.arg(limit+1)

	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []*model.AttemptRow
	for rows.Next() {
		var (
			r      model.AttemptRow
			errMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.DeliveryID, &r.AttemptedAt, &r.AttemptNumber, &r.ResponseStatus, &r.ResponseMs, &errMsg, &r.EventType); err != nil {
			return nil, 0, fmt.Errorf("scan attempt row: %w", err)
		}
		if errMsg.Valid {
			msg := errMsg.String
			r.Error = &msg
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var next int64
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

// prefixed qualifies each column in a comma-separated list with alias.
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
