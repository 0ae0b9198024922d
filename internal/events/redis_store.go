package events

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream that receives events when none is configured.
const DefaultStream = "erp:events"

// RedisStreamStore appends events to a capped Redis stream. It backs the bus
// when no database is configured.
type RedisStreamStore struct {
	R      *redis.Client
	Stream string
	MaxLen int64
}

// InsertDomainEvent implements EventStore.
func (s RedisStreamStore) InsertDomainEvent(ctx context.Context, ev Event) (Event, error) {
	if s.R == nil {
		return Event{}, errors.New("events: redis client not configured")
	}
	stream := s.Stream
	if stream == "" {
		stream = DefaultStream
	}
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	err := s.R.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Values: map[string]any{
			"id":           ev.ID.String(),
			"topic":        ev.Topic,
			"aggregate_id": ev.AggregateID,
			"payload":      string(ev.Payload),
			"occurred_at":  ev.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}
