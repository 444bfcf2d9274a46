package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"videosync/oauth"
	"videosync/storage"
)

// DefaultRedisPrefix namespaces every key this package writes.
const DefaultRedisPrefix = "videosync:"

// RedisStore implements storage.StateStore on plain Redis string keys.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + "option:" + k
}

// Get returns the option stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &storage.StorageError{Op: "read", Entity: "state", ID: key, Err: err}
	}
	return v, true, nil
}

// Set stores an option without expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return &storage.StorageError{Op: "write", Entity: "state", ID: key, Err: err}
	}
	return nil
}

// Delete removes options. Missing keys are ignored.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return &storage.StorageError{Op: "delete", Entity: "state", Err: err}
	}
	return nil
}

// RedisStateTokens implements oauth.StateTokenStore. Tokens expire in Redis
// after their TTL and are consumed with GETDEL.
type RedisStateTokens struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStateTokens wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStateTokens(client redis.UniversalClient, prefix string) *RedisStateTokens {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStateTokens{client: client, prefix: prefix}
}

func (s *RedisStateTokens) key(principal string) string {
	return s.prefix + "oauth_state:" + principal
}

// Put stores token for principal with a key TTL. A non-positive ttl clears it.
func (s *RedisStateTokens) Put(ctx context.Context, principal string, token oauth.StateToken, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Del(ctx, s.key(principal)).Err()
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(principal), raw, ttl).Err(); err != nil {
		return &storage.StorageError{Op: "write", Entity: "oauth_state", ID: principal, Err: err}
	}
	return nil
}

// Take returns and deletes the state of principal in one GETDEL.
func (s *RedisStateTokens) Take(ctx context.Context, principal string) (oauth.StateToken, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(principal)).Bytes()
	if errors.Is(err, redis.Nil) {
		return oauth.StateToken{}, false, nil
	}
	if err != nil {
		return oauth.StateToken{}, false, &storage.StorageError{Op: "read", Entity: "oauth_state", ID: principal, Err: err}
	}

	var token oauth.StateToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return oauth.StateToken{}, false, &storage.StorageError{Op: "read", Entity: "oauth_state", ID: principal, Err: storage.ErrStorageCorrupt}
	}
	return token, true, nil
}

// releaseScript deletes the lock only if it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements storage.Locker with SET NX PX. The TTL bounds how long
// a crashed owner can block later runs.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a lock stored under prefix + "sync_lock".
func NewRedisLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLock {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLock{client: client, key: prefix + "sync_lock", ttl: ttl}
}

// TryLock implements storage.Locker with SET NX PX under a random owner token.
func (l *RedisLock) TryLock(ctx context.Context) (func() error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, &storage.StorageError{Op: "lock", Entity: "redis", ID: l.key, Err: err}
	}
	if !ok {
		return nil, storage.ErrLocked
	}

	return func() error {
		// The run context may already be cancelled; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}, nil
}

// Pending reports whether a state is outstanding for principal.
func (s *RedisStateTokens) Pending(ctx context.Context, principal string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(principal)).Result()
	if err != nil {
		return false, &storage.StorageError{Op: "read", Entity: "oauth_state", ID: principal, Err: err}
	}
	return n > 0, nil
}
