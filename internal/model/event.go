package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of domain change an Event reports.
type EventType string

const (
	EventChannelCreated           EventType = "channel:created"
	EventChannelUpdated           EventType = "channel:updated"
	EventChannelTransferred       EventType = "channel:transferred"
	EventChannelHookStatusUpdated EventType = "channel:hook:status:updated"
	EventChannelMetadataUpdated   EventType = "channel:metadata:updated"

	EventCommentAdded                   EventType = "comment:added"
	EventCommentEdited                  EventType = "comment:edited"
	EventCommentDeleted                 EventType = "comment:deleted"
	EventCommentHookMetadataSet         EventType = "comment:hook:metadata:set"
	EventCommentModerationStatusUpdated EventType = "comment:moderation:status:updated"
	EventCommentReactionsUpdated        EventType = "comment:reactions:updated"

	EventApprovalAdded   EventType = "approval:added"
	EventApprovalRemoved EventType = "approval:removed"
)

var knownEventTypes = map[EventType]bool{
	EventChannelCreated:                 true,
	EventChannelUpdated:                 true,
	EventChannelTransferred:             true,
	EventChannelHookStatusUpdated:       true,
	EventChannelMetadataUpdated:         true,
	EventCommentAdded:                   true,
	EventCommentEdited:                  true,
	EventCommentDeleted:                 true,
	EventCommentHookMetadataSet:         true,
	EventCommentModerationStatusUpdated: true,
	EventCommentReactionsUpdated:        true,
	EventApprovalAdded:                  true,
	EventApprovalRemoved:                true,
}

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	return knownEventTypes[t]
}

// EventTypes returns every known event type in declaration order.
func EventTypes() []EventType {
	return []EventType{
		EventChannelCreated, EventChannelUpdated, EventChannelTransferred,
		EventChannelHookStatusUpdated, EventChannelMetadataUpdated,
		EventCommentAdded, EventCommentEdited, EventCommentDeleted,
		EventCommentHookMetadataSet, EventCommentModerationStatusUpdated,
		EventCommentReactionsUpdated,
		EventApprovalAdded, EventApprovalRemoved,
	}
}

// Event is an immutable fact about a domain change, written to the outbox in
// the same transaction as the change itself.
type Event struct {
	ID          int64           `json:"id"`
	UID         string          `json:"uid"`
	EventType   EventType       `json:"event_type"`
	Version     int             `json:"version"`
	ChainID     *int64          `json:"chain_id,omitempty"`
	BlockNumber *int64          `json:"block_number,omitempty"`
	LogIndex    *int            `json:"log_index,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HasProvenance reports whether the event was derived from a chain log.
func (e *Event) HasProvenance() bool {
	return e.ChainID != nil && e.BlockNumber != nil && e.LogIndex != nil && e.TxHash != ""
}

// uidNamespace scopes event UIDs so they never collide with other v5 UUIDs.
var uidNamespace = uuid.MustParse("5b0f3c44-2f6e-4b8e-9d53-7a1c0e4b9f21")

// EventUID derives the deterministic idempotency key for an event. The same
// chain log (or the same off-chain entity change) always yields the same UID.
// Nil provenance fields contribute an empty segment.
func EventUID(eventType EventType, chainID, blockNumber *int64, txHash string, logIndex *int, entityID string) string {
	parts := []string{
		string(eventType),
		optInt64(chainID),
		optInt64(blockNumber),
		strings.ToLower(txHash),
		optInt(logIndex),
		entityID,
	}
	return uuid.NewSHA1(uidNamespace, []byte(strings.Join(parts, "|"))).String()
}

// DeriveUID computes the UID from the event's own fields.
func (e *Event) DeriveUID() string {
	return EventUID(e.EventType, e.ChainID, e.BlockNumber, e.TxHash, e.LogIndex, e.EntityID)
}

func optInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
