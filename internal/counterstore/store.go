// Package counterstore provides the shared atomic counter primitives backing
// quota enforcement: fixed calendar-bucket counters, a sliding-window counter,
// cooldown locks, and small JSON cache helpers. It holds no policy knowledge.
//
// Every primitive fails closed: when redis is unreachable the caller receives
// an error wrapping ErrUnavailable and must treat the operation as denied.
package counterstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosuraksha/entitlements/internal/clock"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "gosuraksha"

// ErrUnavailable marks counter store failures. Quota checks must never be
// swallowed into an allow when this is returned.
var ErrUnavailable = errors.New("counter_store_unavailable")

const fixedBucketScript = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
if current <= tonumber(ARGV[2]) then
  return 1
end
return 0
`

type Store struct {
	client      *redis.Client
	clock       clock.Clock
	fixedBucket *redis.Script
}

func New(client *redis.Client, clk clock.Clock) *Store {
	if client == nil {
		return nil
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Store{
		client:      client,
		clock:       clk,
		fixedBucket: redis.NewScript(fixedBucketScript),
	}
}

// BuildKey hashes the subject parts so raw identifiers (emails, IPs) never
// appear in redis.
func BuildKey(namespace string, parts ...string) string {
	payload := strings.Join(parts, "|")
	digest := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%s:%s:%s", keyPrefix, namespace, hex.EncodeToString(digest[:]))
}

// FixedBucketAllow atomically increments the counter for the current calendar
// bucket and reports whether the post-increment value is within limit. The
// expiry is set only on the bucket's first increment, to the exact seconds
// remaining until the period boundary. One round trip; callers must not
// read-then-write around it.
func (s *Store) FixedBucketAllow(ctx context.Context, namespace string, limit int, window Window, parts ...string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}
	now := s.clock.Now()
	key := BuildKey(namespace, append(parts, window.Bucket(now))...)
	ttl := window.SecondsUntilBoundary(now)

	allowed, err := s.fixedBucket.Run(ctx, s.client, []string{key}, ttl, limit).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return allowed == 1, nil
}

// SlidingWindowAllow admits an event when fewer than limit events exist in the
// rolling window ending now. The insert is conditioned on the count observed
// after pruning within the same logical step; under extreme clock skew this
// can admit one extra event, a deliberate smoothing-over-exactness tradeoff.
func (s *Store) SlidingWindowAllow(ctx context.Context, namespace string, limit int, window time.Duration, parts ...string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}
	key := BuildKey(namespace, parts...)
	nowMillis := s.clock.Now().UnixMilli()
	windowStart := nowMillis - window.Milliseconds()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if card.Val() >= int64(limit) {
		return false, nil
	}

	// Timestamp alone is not unique: two admits in the same millisecond must
	// not collide, hence the random tiebreaker.
	member := fmt.Sprintf("%d:%s", nowMillis, uuid.NewString())
	pipe = s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMillis), Member: member})
	pipe.Expire(ctx, key, window+5*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// AcquireCooldown is a single set-if-absent-with-expiry: true only for the
// first caller within the TTL. Acquisition IS the success return value; a
// separate existence check followed by set would race.
func (s *Store) AcquireCooldown(ctx context.Context, namespace string, ttl time.Duration, parts ...string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}
	key := BuildKey(namespace, parts...)
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// IsCooldownActive is a pure existence check, used to short-circuit quota
// computation for subjects already known to be over-limit.
func (s *Store) IsCooldownActive(ctx context.Context, namespace string, parts ...string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}
	key := BuildKey(namespace, parts...)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// GetJSON loads a cached JSON document, returning (nil, nil) on a miss.
func (s *Store) GetJSON(ctx context.Context, namespace string, out any, parts ...string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}
	key := BuildKey(namespace, parts...)
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores a JSON document with a TTL.
func (s *Store) SetJSON(ctx context.Context, namespace string, value any, ttl time.Duration, parts ...string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("%w: client not configured", ErrUnavailable)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key := BuildKey(namespace, parts...)
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
