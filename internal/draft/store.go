package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDraftNotFound is returned when no draft exists under an id, including
// drafts whose TTL has lapsed.
var ErrDraftNotFound = errors.New("draft not found")

// ErrVersionConflict is returned when a draft changed between load and save.
var ErrVersionConflict = errors.New("draft version conflict")

// Store keeps draft snapshots in Redis as JSON with a sliding TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewStore constructs a Redis draft store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, prefix: "draft:"}
}

func (s *Store) key(id string) string { return s.prefix + id }

// Get loads the draft stored under id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	if s == nil || s.client == nil {
		return Document{}, errors.New("draft: store not configured")
	}
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, ErrDraftNotFound
		}
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("draft: decode %s: %w", id, err)
	}
	return doc, nil
}

// Save stores doc when the stored version still equals expected, bumping the
// version. Use expected 0 for a new draft.
func (s *Store) Save(ctx context.Context, doc Document, expected int64) (Document, error) {
	if s == nil || s.client == nil {
		return Document{}, errors.New("draft: store not configured")
	}
	key := s.key(doc.ID)
	doc.Version = expected + 1
	data, err := json.Marshal(doc)
	if err != nil {
		return Document{}, err
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != 0 {
				return ErrDraftNotFound
			}
		case err != nil:
			return err
		default:
			var stored struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(current, &stored); err != nil {
				return err
			}
			if stored.Version != expected {
				return ErrVersionConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return Document{}, ErrVersionConflict
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Delete removes a draft.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(id)).Err()
}
