package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements SessionStore using Redis as the backing store.
// Sessions are stored as JSON under key "<prefix><documentId>:<userId>".
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-based session store. Prefix may be empty.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "signing:session:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(docID, userID string) string {
	return r.prefix + key(docID, userID)
}

func (r *RedisStore) Get(ctx context.Context, docID, userID string) (*Session, error) {
	b, err := r.client.Get(ctx, r.key(docID, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.key(s.DocumentID, s.UserID), b, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, docID, userID string) error {
	return r.client.Del(ctx, r.key(docID, userID)).Err()
}

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only when the caller still owns it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds attempt locks as SET NX keys with a TTL so the
// one-attempt rule spans replicas and a crashed holder cannot block forever.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "signing:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	tok := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, tok, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrAttemptInFlight
	}
	return tok, nil
}

func (l *RedisLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.prefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}
