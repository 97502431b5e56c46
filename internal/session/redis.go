package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bottlepoint/waterbot/pkg/redis"
)

type kv interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	SessionKey(scope string, chatID int64) string
}

// RedisStore keeps each session as a JSON value whose TTL is refreshed on save.
// Keys carry scope so bots sharing one Redis keep separate conversations.
type RedisStore struct {
	client kv
	scope  string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client kv, scope string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, scope: scope, ttl: ttl, now: time.Now}
}

func (r *RedisStore) Get(ctx context.Context, chatID int64) (*Session, error) {
	raw, err := r.client.Get(ctx, r.client.SessionKey(r.scope, chatID))
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session %d: %w", chatID, err)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", chatID, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	s.UpdatedAt = r.now().UTC()
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", s.ChatID, err)
	}
	if err := r.client.Set(ctx, r.client.SessionKey(r.scope, s.ChatID), payload, r.ttl); err != nil {
		return fmt.Errorf("save session %d: %w", s.ChatID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, chatID int64) error {
	if err := r.client.Del(ctx, r.client.SessionKey(r.scope, chatID)); err != nil {
		return fmt.Errorf("delete session %d: %w", chatID, err)
	}
	return nil
}
