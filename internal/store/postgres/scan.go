package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

const eventColumns = `id, uid, event_type, version, chain_id, block_number, log_index,
	tx_hash, entity_id, data, created_at, updated_at`

const subscriptionColumns = `id, app_id, name, url, auth, event_filter, paused, paused_at,
	created_at, updated_at`

const deliveryColumns = `id, event_id, subscription_id, status, attempts_count, next_attempt_at,
	created_at, updated_at, claimed_at, completed_at, claim_token`

// eventScanTargets returns scan destinations for eventColumns plus a
// finish func that copies nullable values into e.
func eventScanTargets(e *model.Event) ([]any, func()) {
	var (
		chainID     sql.NullInt64
		blockNumber sql.NullInt64
		logIndex    sql.NullInt32
		txHash      sql.NullString
		entityID    sql.NullString
		data        []byte
	)
	dest := []any{
		&e.ID, &e.UID, &e.EventType, &e.Version, &chainID, &blockNumber, &logIndex,
		&txHash, &entityID, &data, &e.CreatedAt, &e.UpdatedAt,
	}
	return dest, func() {
		if chainID.Valid {
			v := chainID.Int64
			e.ChainID = &v
		}
		if blockNumber.Valid {
			v := blockNumber.Int64
			e.BlockNumber = &v
		}
		if logIndex.Valid {
			v := int(logIndex.Int32)
			e.LogIndex = &v
		}
		e.TxHash = txHash.String
		e.EntityID = entityID.String
		if len(data) > 0 {
			e.Data = json.RawMessage(data)
		}
	}
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	dest, finish := eventScanTargets(&e)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	return &e, nil
}

// scanSubscription scans a single row in subscriptionColumns order.
func scanSubscription(row scannable) (*model.WebhookSubscription, error) {
	var (
		s        model.WebhookSubscription
		auth     []byte
		filter   pq.StringArray
		pausedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.AppID, &s.Name, &s.URL, &auth, &filter, &s.Paused, &pausedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a, err := model.UnmarshalAuth(auth)
	if err != nil {
		return nil, err
	}
	s.Auth = a
	s.EventFilter = make([]model.EventType, len(filter))
	for i, f := range filter {
		s.EventFilter[i] = model.EventType(f)
	}
	s.PausedAt = timePtr(pausedAt)
	return &s, nil
}

// deliveryScanTargets mirrors eventScanTargets for deliveryColumns.
func deliveryScanTargets(d *model.Delivery) ([]any, func()) {
	var (
		claimedAt, completedAt sql.NullTime
		claimToken             sql.NullString
	)
	dest := []any{
		&d.ID, &d.EventID, &d.SubscriptionID, &d.Status, &d.AttemptsCount, &d.NextAttemptAt,
		&d.CreatedAt, &d.UpdatedAt, &claimedAt, &completedAt, &claimToken,
	}
	return dest, func() {
		d.ClaimedAt = timePtr(claimedAt)
		d.CompletedAt = timePtr(completedAt)
		d.ClaimToken = claimToken.String
	}
}

// scanDelivery scans a single row in deliveryColumns order.
func scanDelivery(row scannable) (*model.Delivery, error) {
	var d model.Delivery
	dest, finish := deliveryScanTargets(&d)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	return &d, nil
}

// scanClaimed scans deliveryColumns followed by eventColumns.
func scanClaimed(row scannable) (*model.ClaimedDelivery, error) {
	var (
		d model.Delivery
		e model.Event
	)
	dd, finishD := deliveryScanTargets(&d)
	ed, finishE := eventScanTargets(&e)
	if err := row.Scan(append(dd, ed...)...); err != nil {
		return nil, err
	}
	finishD()
	finishE()
	return &model.ClaimedDelivery{Delivery: &d, Event: &e}, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullIntPtr(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

func eventTypeStrings(ts []model.EventType) pq.StringArray {
	out := make(pq.StringArray, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
