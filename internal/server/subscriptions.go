package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/hookd/internal/idgen"
	"github.com/alfredjeanlab/hookd/internal/model"
	"github.com/alfredjeanlab/hookd/internal/store"
)

// createSubscription validates in and stores it with a generated ID unless
// one was supplied.
func (s *Server) createSubscription(ctx context.Context, in *model.WebhookSubscription) (*model.WebhookSubscription, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		id, err := idgen.NewSubscriptionID()
		if err != nil {
			return nil, err
		}
		in.ID = id
	}
	if in.Auth == nil {
		in.Auth = model.NoAuth{}
	}
	now := s.now()
	in.CreatedAt, in.UpdatedAt = now, now
	in.PausedAt = nil
	if in.Paused {
		in.PausedAt = &now
	}
	if err := model.ValidateSubscription(in); err != nil {
		return nil, err
	}
	if err := s.store.CreateSubscription(ctx, in); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return in, nil
}

// updateSubscription replaces the mutable fields of subscription id. The
// paused flag is changed only through pause and resume.
func (s *Server) updateSubscription(ctx context.Context, id string, in *model.WebhookSubscription) (*model.WebhookSubscription, error) {
	var out *model.WebhookSubscription
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		cur, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		cur.AppID = in.AppID
		cur.Name = in.Name
		cur.URL = in.URL
		cur.EventFilter = in.EventFilter
		if in.Auth != nil {
			cur.Auth = in.Auth
		}
		cur.UpdatedAt = s.now()
		if err := model.ValidateSubscription(cur); err != nil {
			return err
		}
		if err := tx.UpdateSubscription(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

// redacted returns a copy of sub safe to return to clients.
func redacted(sub *model.WebhookSubscription) *model.WebhookSubscription {
	out := *sub
	out.Auth = model.Redacted(sub.Auth)
	return &out
}
