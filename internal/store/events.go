package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-erp/internal/events"
)

// EventStore records domain events in the domain_events table.
type EventStore struct {
	DB DB
}

// InsertDomainEvent implements events.EventStore.
func (s EventStore) InsertDomainEvent(ctx context.Context, ev events.Event) (events.Event, error) {
	if s.DB == nil {
		return events.Event{}, errors.New("store: database not configured")
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4::jsonb, $5) ON CONFLICT (id) DO NOTHING`,
		ev.ID.String(), ev.Topic, ev.AggregateID, string(ev.Payload), ev.OccurredAt)
	if err != nil {
		return events.Event{}, fmt.Errorf("store: insert event %s: %w", ev.Topic, err)
	}
	return ev, nil
}
