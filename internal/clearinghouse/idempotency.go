package clearinghouse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/claimwise/internal/clock"
)

// IdempotencyStore guards a control number so that an interchange is handed
// off at most once. Reserve returns ErrCompleted once a submission finished
// and ErrInFlight while another attempt owns the key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (string, error)
	Complete(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

const keyPrefix = "claimwise:submission:"

const (
	pendingPrefix = "pending:"
	donePrefix    = "done:"
)

const completeScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
  return 1
end
return 0
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var errKeyNotOwned = errors.New("idempotency_key_not_owned")

type RedisStore struct {
	client   *redis.Client
	complete *redis.Script
	release  *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{
		client:   client,
		complete: redis.NewScript(completeScript),
		release:  redis.NewScript(releaseScript),
	}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := s.check(key, ttl); err != nil {
		return "", err
	}
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pendingPrefix+token, ttl).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}
	current, err := s.client.Get(ctx, keyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET.
		return s.Reserve(ctx, key, ttl)
	case err != nil:
		return "", err
	case strings.HasPrefix(current, donePrefix):
		return "", ErrCompleted
	default:
		return "", ErrInFlight
	}
}

func (s *RedisStore) Complete(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := s.check(key, ttl); err != nil {
		return err
	}
	n, err := s.complete.Run(ctx, s.client, []string{keyPrefix + key},
		pendingPrefix+token, donePrefix+token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return errKeyNotOwned
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if s == nil || s.client == nil || key == "" || token == "" {
		return nil
	}
	return s.release.Run(ctx, s.client, []string{keyPrefix + key}, pendingPrefix+token).Err()
}

func (s *RedisStore) check(key string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency store not configured")
	}
	if key == "" {
		return errors.New("idempotency key is empty")
	}
	if ttl <= 0 {
		return errors.New("idempotency ttl must be positive")
	}
	return nil
}

type memoryEntry struct {
	token   string
	done    bool
	expires time.Time
}

// MemoryStore is the single-process IdempotencyStore.
// memorySweepInterval spaces out the scans that drop expired keys.
const memorySweepInterval = time.Minute

type MemoryStore struct {
	mu        sync.Mutex
	clock     clock.Clock
	entries   map[string]memoryEntry
	lastSweep time.Time
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryStore{clock: clk, entries: map[string]memoryEntry{}}
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if now.Sub(s.lastSweep) >= memorySweepInterval {
		s.sweep(now)
	}
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.done {
			return "", ErrCompleted
		}
		return "", ErrInFlight
	}
	token := uuid.NewString()
	s.entries[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return token, nil
}

// sweep drops expired keys. The caller holds mu.
func (s *MemoryStore) sweep(now time.Time) {
	for key, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, key)
		}
	}
	s.lastSweep = now
}

// Len reports how many keys are held, expired ones included until the next
// sweep.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Complete(_ context.Context, key, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.token != token || e.done {
		return errKeyNotOwned
	}
	s.entries[key] = memoryEntry{token: token, done: true, expires: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.token == token && !e.done {
		delete(s.entries, key)
	}
	return nil
}
