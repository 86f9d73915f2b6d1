// Package memstore implements store.Store in memory. It backs component
// tests and local runs that have no PostgreSQL available.
//
// Every operation takes a single mutex, so ClaimDue is atomic across
// goroutines. Transactions are serialized; a failed transaction restores the
// snapshot taken when it began.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

type state struct {
	events      []*model.Event
	byUID       map[string]int64
	fannedOut   map[int64]time.Time
	subs        map[string]*model.WebhookSubscription
	deliveries  map[int64]*model.Delivery
	pairs       map[[2]any]int64
	attempts    []*model.DeliveryAttempt
	archived    map[int64]time.Time
	nextDelivID int64
}

func newState() *state {
	return &state{
		byUID:      make(map[string]int64),
		fannedOut:  make(map[int64]time.Time),
		subs:       make(map[string]*model.WebhookSubscription),
		deliveries: make(map[int64]*model.Delivery),
		pairs:      make(map[[2]any]int64),
		archived:   make(map[int64]time.Time),
	}
}

func (s *state) clone() *state {
	c := newState()
	for _, e := range s.events {
		ev := *e
		c.events = append(c.events, &ev)
	}
	for k, v := range s.byUID {
		c.byUID[k] = v
	}
	for k, v := range s.fannedOut {
		c.fannedOut[k] = v
	}
	for k, v := range s.subs {
		sub := *v
		c.subs[k] = &sub
	}
	for k, v := range s.deliveries {
		d := *v
		c.deliveries[k] = &d
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for _, a := range s.attempts {
		at := *a
		c.attempts = append(c.attempts, &at)
	}
	for k, v := range s.archived {
		c.archived[k] = v
	}
	c.nextDelivID = s.nextDelivID
	return c
}

// Store is an in-memory store.Store.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// RunInTransaction runs fn against the store, rolling back every change fn
// made if it returns an error.
func (m *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(txStore{m}); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Store) Ping(context.Context) error { return nil }

func (m *Store) Close() error { return nil }

// txStore is the view handed to a transaction callback. Nested
// transactions join the outer one.
type txStore struct {
	*Store
}

func (t txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// --- events ---

func (m *Store) AppendEvent(_ context.Context, e *model.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := e.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if id, ok := m.st.byUID[e.UID]; ok {
		existing := m.st.events[id-1]
		existing.UpdatedAt = now
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
		e.UpdatedAt = now
		return false, nil
	}

	ev := *e
	ev.ID = int64(len(m.st.events) + 1)
	ev.CreatedAt = now
	ev.UpdatedAt = now
	m.st.events = append(m.st.events, &ev)
	m.st.byUID[ev.UID] = ev.ID

	e.ID = ev.ID
	e.CreatedAt = now
	e.UpdatedAt = now
	return true, nil
}

func (m *Store) GetEvent(_ context.Context, id int64) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || id > int64(len(m.st.events)) {
		return nil, sql.ErrNoRows
	}
	e := *m.st.events[id-1]
	return &e, nil
}

// ListUnarchivedEvents never skips rows: transactions are serialized, so no
// other archiver can hold them.
func (m *Store) ListUnarchivedEvents(_ context.Context, limit int) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for _, e := range m.st.events {
		if len(out) == limit {
			break
		}
		if _, ok := m.st.archived[e.ID]; ok {
			continue
		}
		ev := *e
		out = append(out, &ev)
	}
	return out, nil
}

func (m *Store) MarkEventsArchived(_ context.Context, ids []int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.st.archived[id] = at
	}
	return nil
}

// Archived reports whether the event was marked by MarkEventsArchived.
func (m *Store) Archived(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.st.archived[id]
	return ok
}

// FannedOut reports whether the event was processed by EnqueuePending.
func (m *Store) FannedOut(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.st.fannedOut[id]
	return ok
}

// --- subscriptions ---

func (m *Store) CreateSubscription(_ context.Context, s *model.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.subs[s.ID]; ok {
		return fmt.Errorf("subscription %s: %w", s.ID, store.ErrConflict)
	}
	sub := *s
	sub.EventFilter = slices.Clone(s.EventFilter)
	m.st.subs[s.ID] = &sub
	return nil
}

func (m *Store) GetSubscription(_ context.Context, id string) (*model.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	sub := *s
	return &sub, nil
}

func (m *Store) ListSubscriptions(_ context.Context, filter model.SubscriptionFilter) ([]*model.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WebhookSubscription
	for _, s := range m.st.subs {
		if filter.AppID != "" && s.AppID != filter.AppID {
			continue
		}
		if filter.EventType != "" && !s.Matches(filter.EventType) {
			continue
		}
		if filter.Paused != nil && s.Paused != *filter.Paused {
			continue
		}
		sub := *s
		out = append(out, &sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) UpdateSubscription(_ context.Context, s *model.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.st.subs[s.ID]
	if !ok {
		return sql.ErrNoRows
	}
	cur.AppID = s.AppID
	cur.Name = s.Name
	cur.URL = s.URL
	cur.Auth = s.Auth
	cur.EventFilter = slices.Clone(s.EventFilter)
	cur.UpdatedAt = s.UpdatedAt
	return nil
}

func (m *Store) SetSubscriptionPaused(_ context.Context, id string, paused bool, now time.Time) (*model.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.Paused = paused
	switch {
	case !paused:
		s.PausedAt = nil
	case s.PausedAt == nil:
		t := now
		s.PausedAt = &t
	}
	s.UpdatedAt = now
	sub := *s
	return &sub, nil
}

// DeleteSubscription removes the subscription with its deliveries and
// their attempts.
func (m *Store) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.subs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.st.subs, id)

	gone := make(map[int64]bool)
	for did, d := range m.st.deliveries {
		if d.SubscriptionID == id {
			gone[did] = true
			delete(m.st.deliveries, did)
			delete(m.st.pairs, [2]any{d.EventID, id})
		}
	}
	m.st.attempts = slices.DeleteFunc(m.st.attempts, func(a *model.DeliveryAttempt) bool {
		return gone[a.DeliveryID]
	})
	return nil
}

// --- deliveries ---

func (m *Store) EnqueuePending(_ context.Context, limit int, now time.Time) (store.EnqueueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res store.EnqueueResult
	for _, e := range m.st.events {
		if res.Events == limit {
			break
		}
		if _, done := m.st.fannedOut[e.ID]; done {
			continue
		}
		for _, s := range m.sortedSubs() {
			if s.Paused || !s.Matches(e.EventType) {
				continue
			}
			key := [2]any{e.ID, s.ID}
			if _, exists := m.st.pairs[key]; exists {
				continue
			}
			m.st.nextDelivID++
			d := &model.Delivery{
				ID:             m.st.nextDelivID,
				EventID:        e.ID,
				SubscriptionID: s.ID,
				Status:         model.DeliveryPending,
				NextAttemptAt:  now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			m.st.deliveries[d.ID] = d
			m.st.pairs[key] = d.ID
			res.Deliveries++
		}
		m.st.fannedOut[e.ID] = now
		res.Events++
	}
	return res, nil
}

func (m *Store) sortedSubs() []*model.WebhookSubscription {
	out := make([]*model.WebhookSubscription, 0, len(m.st.subs))
	for _, s := range m.st.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Store) sortedDeliveries() []*model.Delivery {
	out := make([]*model.Delivery, 0, len(m.st.deliveries))
	for _, d := range m.st.deliveries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Store) ClaimDue(_ context.Context, limit int, now time.Time) ([]*model.ClaimedDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*model.Delivery
	for _, d := range m.st.deliveries {
		if d.Status == model.DeliveryPending && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}

	token := uuid.NewString()
	out := make([]*model.ClaimedDelivery, 0, len(due))
	for _, d := range due {
		d.Status = model.DeliveryProcessing
		t := now
		d.ClaimedAt = &t
		d.ClaimToken = token
		d.UpdatedAt = now

		dc := *d
		ev := *m.st.events[d.EventID-1]
		out = append(out, &model.ClaimedDelivery{Delivery: &dc, Event: &ev})
	}
	return out, nil
}

// claimed returns the delivery if it is processing under token. Callers
// hold m.mu.
func (m *Store) claimed(id int64, token string) (*model.Delivery, error) {
	d, ok := m.st.deliveries[id]
	if !ok || d.Status != model.DeliveryProcessing || d.ClaimToken != token {
		return nil, store.ErrNotClaimed
	}
	return d, nil
}

func (m *Store) RenewClaim(_ context.Context, id int64, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.claimed(id, token)
	if err != nil {
		return err
	}
	t := now
	d.ClaimedAt = &t
	d.UpdatedAt = now
	return nil
}

func (m *Store) ReleaseClaim(_ context.Context, id int64, token string, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.claimed(id, token)
	if err != nil {
		return err
	}
	d.Status = model.DeliveryPending
	d.NextAttemptAt = nextAttemptAt
	d.ClaimedAt = nil
	d.ClaimToken = ""
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Store) RecordAttempt(_ context.Context, o model.AttemptOutcome) (*model.DeliveryAttempt, error) {
	switch o.Next {
	case model.DeliveryPending, model.DeliverySuccess, model.DeliveryFailed:
	default:
		return nil, fmt.Errorf("record attempt: invalid next status %q", o.Next)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.claimed(o.DeliveryID, o.ClaimToken)
	if err != nil {
		return nil, err
	}

	a := &model.DeliveryAttempt{
		ID:             int64(len(m.st.attempts) + 1),
		DeliveryID:     d.ID,
		AttemptNumber:  d.AttemptsCount + 1,
		AttemptedAt:    o.AttemptedAt,
		ResponseStatus: o.ResponseStatus,
		ResponseMs:     o.ResponseMs,
	}
	if o.Error != "" {
		msg := o.Error
		a.Error = &msg
	}
	// Attempt ids stay unique after DeleteSubscription compacts the slice.
	if n := len(m.st.attempts); n > 0 && m.st.attempts[n-1].ID >= a.ID {
		a.ID = m.st.attempts[n-1].ID + 1
	}
	m.st.attempts = append(m.st.attempts, a)

	d.Status = o.Next
	d.AttemptsCount++
	d.ClaimedAt = nil
	d.ClaimToken = ""
	d.UpdatedAt = o.AttemptedAt
	if o.Next == model.DeliveryPending {
		d.NextAttemptAt = o.NextAttemptAt
		d.CompletedAt = nil
	} else {
		t := o.AttemptedAt
		d.CompletedAt = &t
	}

	out := *a
	return &out, nil
}

func (m *Store) RetryDelivery(_ context.Context, id int64, now time.Time) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if d.Status != model.DeliveryFailed {
		return nil, fmt.Errorf("delivery %d is %s: %w", id, d.Status, store.ErrNotFailed)
	}
	d.Status = model.DeliveryPending
	d.NextAttemptAt = now
	d.CompletedAt = nil
	d.ClaimedAt = nil
	d.ClaimToken = ""
	d.UpdatedAt = now
	out := *d
	return &out, nil
}

func (m *Store) RequeueStale(_ context.Context, cutoff, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.sortedDeliveries() {
		if n == limit {
			break
		}
		if d.Status != model.DeliveryProcessing || d.ClaimedAt == nil || !d.ClaimedAt.Before(cutoff) {
			continue
		}
		d.Status = model.DeliveryPending
		d.NextAttemptAt = now
		d.ClaimedAt = nil
		d.ClaimToken = ""
		d.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *Store) GetDelivery(_ context.Context, id int64) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *d
	return &out, nil
}

// Attempts returns the attempts of one delivery in attempt order.
func (m *Store) Attempts(deliveryID int64) []*model.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DeliveryAttempt
	for _, a := range m.st.attempts {
		if a.DeliveryID == deliveryID {
			at := *a
			out = append(out, &at)
		}
	}
	return out
}

// Deliveries returns every delivery in id order.
func (m *Store) Deliveries() []*model.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Delivery
	for _, d := range m.sortedDeliveries() {
		dc := *d
		out = append(out, &dc)
	}
	return out
}

func (m *Store) ListDeliveries(_ context.Context, filter model.DeliveryFilter) ([]*model.DeliveryRow, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := model.PageLimit(filter.Limit)
	all := m.sortedDeliveries()
	var out []*model.DeliveryRow
	for i := len(all) - 1; i >= 0; i-- {
		d := all[i]
		if filter.SubscriptionID != "" && d.SubscriptionID != filter.SubscriptionID {
			continue
		}
		if filter.DeliveryID != 0 && d.ID != filter.DeliveryID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, d.Status) {
			continue
		}
		if filter.Cursor > 0 && d.ID >= filter.Cursor {
			continue
		}
		out = append(out, &model.DeliveryRow{
			ID:             d.ID,
			SubscriptionID: d.SubscriptionID,
			CreatedAt:      d.CreatedAt,
			NextAttemptAt:  d.NextAttemptAt,
			AttemptsCount:  d.AttemptsCount,
			Status:         d.Status,
			EventType:      m.st.events[d.EventID-1].EventType,
		})
		if len(out) > limit {
			break
		}
	}
	return page(out, limit, func(r *model.DeliveryRow) int64 { return r.ID })
}

func (m *Store) ListAttempts(_ context.Context, filter model.AttemptFilter) ([]*model.AttemptRow, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := model.PageLimit(filter.Limit)
	var out []*model.AttemptRow
	for i := len(m.st.attempts) - 1; i >= 0; i-- {
		a := m.st.attempts[i]
		d := m.st.deliveries[a.DeliveryID]
		if filter.DeliveryID != 0 && a.DeliveryID != filter.DeliveryID {
			continue
		}
		if filter.SubscriptionID != "" && d.SubscriptionID != filter.SubscriptionID {
			continue
		}
		if filter.Cursor > 0 && a.ID >= filter.Cursor {
			continue
		}
		out = append(out, &model.AttemptRow{
			ID:             a.ID,
			DeliveryID:     a.DeliveryID,
			AttemptedAt:    a.AttemptedAt,
			AttemptNumber:  a.AttemptNumber,
			ResponseStatus: a.ResponseStatus,
			ResponseMs:     a.ResponseMs,
			Error:          a.Error,
			EventType:      m.st.events[d.EventID-1].EventType,
		})
		if len(out) > limit {
			break
		}
	}
	return page(out, limit, func(r *model.AttemptRow) int64 { return r.ID })
}

func page[T any](rows []T, limit int, id func(T) int64) ([]T, int64, error) {
	if len(rows) > limit {
		rows = rows[:limit]
		return rows, id(rows[limit-1]), nil
	}
	return rows, 0, nil
}
