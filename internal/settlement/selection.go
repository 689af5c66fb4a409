package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utilibill/utilibill/internal/shared"
)

// RedisSelectionStore keeps each session cart as a redis set that expires
// after ttl of inactivity.
type RedisSelectionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSelectionStore constructs the store.
func NewRedisSelectionStore(client redis.UniversalClient, ttl time.Duration) *RedisSelectionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSelectionStore{client: client, ttl: ttl}
}

// Get returns the cart. A missing or expired cart is empty, not an error.
func (s *RedisSelectionStore) Get(ctx context.Context, sessionID string) (Selection, error) {
	sel := Selection{SessionID: sessionID, ItemIDs: []int64{}}
	kind, err := s.client.Get(ctx, shared.SelectionKindKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return sel, nil
	}
	if err != nil {
		return Selection{}, fmt.Errorf("settlement: read selection: %w", err)
	}
	sel.Kind = ItemKind(kind)
	members, err := s.client.SMembers(ctx, shared.SelectionKey(sessionID)).Result()
	if err != nil {
		return Selection{}, fmt.Errorf("settlement: read selection: %w", err)
	}
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		sel.ItemIDs = append(sel.ItemIDs, id)
	}
	sort.Slice(sel.ItemIDs, func(i, j int) bool { return sel.ItemIDs[i] < sel.ItemIDs[j] })
	return sel, nil
}

// Save replaces the cart atomically and refreshes its expiry.
func (s *RedisSelectionStore) Save(ctx context.Context, sel Selection) error {
	itemsKey := shared.SelectionKey(sel.SessionID)
	kindKey := shared.SelectionKindKey(sel.SessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, itemsKey)
		if len(sel.ItemIDs) > 0 {
			members := make([]any, 0, len(sel.ItemIDs))
			for _, id := range sel.ItemIDs {
				members = append(members, strconv.FormatInt(id, 10))
			}
			pipe.SAdd(ctx, itemsKey, members...)
			pipe.Expire(ctx, itemsKey, s.ttl)
		}
		pipe.Set(ctx, kindKey, string(sel.Kind), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("settlement: save selection: %w", err)
	}
	return nil
}

// Clear drops the cart.
func (s *RedisSelectionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, shared.SelectionKey(sessionID), shared.SelectionKindKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("settlement: clear selection: %w", err)
	}
	return nil
}
