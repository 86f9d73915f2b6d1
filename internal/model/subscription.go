package model

import (
	"encoding/json"
	"time"
)

// WebhookSubscription is a subscriber's delivery configuration.
type WebhookSubscription struct {
	ID          string      `json:"id"`
	AppID       string      `json:"app_id" validate:"required"`
	Name        string      `json:"name" validate:"required,max=200"`
	URL         string      `json:"url" validate:"required,url"`
	Auth        Auth        `json:"-"`
	EventFilter []EventType `json:"event_filter" validate:"required,min=1,dive,required"`
	Paused      bool        `json:"paused"`
	PausedAt    *time.Time  `json:"paused_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Matches reports whether the subscription wants events of type t.
func (s *WebhookSubscription) Matches(t EventType) bool {
	for _, f := range s.EventFilter {
		if f == t {
			return true
		}
	}
	return false
}

type subscriptionJSON WebhookSubscription

// MarshalJSON flattens Auth into its tagged form.
func (s WebhookSubscription) MarshalJSON() ([]byte, error) {
	auth, err := MarshalAuth(s.Auth)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		subscriptionJSON
		Auth json.RawMessage `json:"auth"`
	}{subscriptionJSON(s), auth})
}

// UnmarshalJSON decodes the tagged auth variant.
func (s *WebhookSubscription) UnmarshalJSON(data []byte) error {
	var aux struct {
		*subscriptionJSON
		Auth json.RawMessage `json:"auth"`
	}
	aux.subscriptionJSON = (*subscriptionJSON)(s)
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	auth, err := UnmarshalAuth(aux.Auth)
	if err != nil {
		return err
	}
	s.Auth = auth
	return nil
}
