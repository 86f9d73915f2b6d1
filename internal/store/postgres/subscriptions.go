package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

func (q queries) CreateSubscription(ctx context.Context, s *model.WebhookSubscription) error {
	auth, err := model.MarshalAuth(s.Auth)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (
			id, app_id, name, url, auth, event_filter, paused, paused_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID,
		s.AppID,
		s.Name,
		s.URL,
		auth,
		eventTypeStrings(s.EventFilter),
		s.Paused,
		nullTimePtr(s.PausedAt),
		s.CreatedAt,
		s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("subscription %s: %w", s.ID, store.ErrConflict)
	}
	return err
}

func (q queries) GetSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (q queries) ListSubscriptions(ctx context.Context, filter model.SubscriptionFilter) ([]*model.WebhookSubscription, error) {
	var w where
	if filter.AppID != "" {
		w.add("app_id = %s", filter.AppID)
	}
	if filter.EventType != "" {
		w.add("event_filter @> ARRAY[%s]::text[]", string(filter.EventType))
	}
	if filter.Paused != nil {
		w.add("paused = %s", *filter.Paused)
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions`+w.sql()+` ORDER BY created_at, id`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.WebhookSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (q queries) UpdateSubscription(ctx context.Context, s *model.WebhookSubscription) error {
	auth, err := model.MarshalAuth(s.Auth)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET app_id = $2, name = $3, url = $4, auth = $5, event_filter = $6, updated_at = $7
		WHERE id = $1`,
		s.ID, s.AppID, s.Name, s.URL, auth, eventTypeStrings(s.EventFilter), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return rowsAffected(res)
}

// SetSubscriptionPaused flips the pause flag. paused_at keeps the time the
// subscription was first paused and is cleared on resume.
func (q queries) SetSubscriptionPaused(ctx context.Context, id string, paused bool, now time.Time) (*model.WebhookSubscription, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE webhook_subscriptions
		SET paused = $2,
		    paused_at = CASE WHEN $2 THEN COALESCE(paused_at, $3) ELSE NULL END,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, paused, now)
	return scanSubscription(row)
}

func (q queries) DeleteSubscription(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return rowsAffected(res)
}
