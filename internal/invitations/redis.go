package invitations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bottlepoint/waterbot/pkg/redis"
	"github.com/bottlepoint/waterbot/pkg/types"
	"go.uber.org/multierr"
)

// expiredRetention keeps an expired entry around long enough for the expiry
// job to find it and close its prompt.
const expiredRetention = 24 * time.Hour

type redisClient interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetXX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScoreMax(ctx context.Context, key string, max float64, limit int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	PendingVerificationKey(identity string) string
	PendingVerificationIndexKey() string
}

// RedisStore keeps each invitation as JSON under its own key, indexed by
// expiry in a sorted set. GETDEL makes Take atomic across processes.
type RedisStore struct {
	client redisClient
	now    func() time.Time
}

func NewRedisStore(client redisClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (r *RedisStore) Put(ctx context.Context, p Pending) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode invitation %s: %w", p.Identity, err)
	}
	if err := r.client.Set(ctx, r.client.PendingVerificationKey(p.Identity), payload, r.ttl(p)); err != nil {
		return fmt.Errorf("store invitation %s: %w", p.Identity, err)
	}
	if err := r.client.ZAdd(ctx, r.client.PendingVerificationIndexKey(), float64(p.ExpiresAt.Unix()), p.Identity); err != nil {
		return fmt.Errorf("index invitation %s: %w", p.Identity, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, identity string) (*Pending, error) {
	raw, err := r.client.Get(ctx, r.client.PendingVerificationKey(identity))
	return r.decode(identity, raw, err)
}

// SetPrompt rewrites the entry with SET XX, so an invitation taken between
// the read and the write is not brought back.
func (r *RedisStore) SetPrompt(ctx context.Context, identity string, createdAt time.Time, ref types.MessageRef) (bool, error) {
	p, err := r.Get(ctx, identity)
	if err != nil || p == nil || !p.CreatedAt.Equal(createdAt) {
		return false, err
	}
	p.Prompt = ref
	payload, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("encode invitation %s: %w", identity, err)
	}
	ok, err := r.client.SetXX(ctx, r.client.PendingVerificationKey(identity), payload, r.ttl(*p))
	if err != nil {
		return false, fmt.Errorf("record prompt for %s: %w", identity, err)
	}
	return ok, nil
}

// Take removes the entry with GETDEL. A failed index cleanup is returned
// together with the entry; the expiry scan drops index members whose value
// is gone.
func (r *RedisStore) Take(ctx context.Context, identity string) (*Pending, error) {
	raw, err := r.client.GetDel(ctx, r.client.PendingVerificationKey(identity))
	p, err := r.decode(identity, raw, err)
	if err != nil {
		return nil, err
	}
	if err := r.client.ZRem(ctx, r.client.PendingVerificationIndexKey(), identity); err != nil {
		return p, fmt.Errorf("unindex invitation %s: %w", identity, err)
	}
	return p, nil
}

func (r *RedisStore) ttl(p Pending) time.Duration {
	ttl := p.ExpiresAt.Sub(r.now()) + expiredRetention
	if ttl <= 0 {
		return expiredRetention
	}
	return ttl
}

func (r *RedisStore) TakeExpired(ctx context.Context, now time.Time, limit int) ([]Pending, error) {
	identities, err := r.client.ZRangeByScoreMax(ctx, r.client.PendingVerificationIndexKey(), float64(now.Unix()), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("scan expired invitations: %w", err)
	}
	var (
		expired []Pending
		errs    error
	)
	for _, identity := range identities {
		p, err := r.Take(ctx, identity)
		errs = multierr.Append(errs, err)
		if p == nil {
			continue
		}
		if !p.Expired(now) {
			// re-invited after the scan; put the fresh entry back
			errs = multierr.Append(errs, r.Put(ctx, *p))
			continue
		}
		expired = append(expired, *p)
	}
	return expired, errs
}

func (r *RedisStore) decode(identity, raw string, err error) (*Pending, error) {
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load invitation %s: %w", identity, err)
	}
	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode invitation %s: %w", identity, err)
	}
	return &p, nil
}
