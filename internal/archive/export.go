package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// header is the first JSONL record of every archive object.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	FirstID   int64     `json:"first_id"`
	LastID    int64     `json:"last_id"`
	Count     int       `json:"count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string       `json:"type"`
	Data *model.Event `json:"data"`
}

// ExportEvents writes up to limit unarchived events as JSONL to w and returns
// them. Nothing is written when every event is archived. The events are not
// marked; callers do that once the output is stored.
func ExportEvents(ctx context.Context, s store.EventStore, limit int, now time.Time, w io.Writer) ([]*model.Event, error) {
	events, err := s.ListUnarchivedEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unarchived events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:   "1",
		Type:      "header",
		Timestamp: now,
		FirstID:   events[0].ID,
		LastID:    events[len(events)-1].ID,
		Count:     len(events),
	}); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	for _, e := range events {
		if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
			return nil, fmt.Errorf("encode event %d: %w", e.ID, err)
		}
	}
	return events, nil
}

// objectKey names the archive object whose events span first..last. A
// retried batch overwrites its own object.
func objectKey(first, last int64) string {
	return fmt.Sprintf("events/%020d-%020d.jsonl", first, last)
}
