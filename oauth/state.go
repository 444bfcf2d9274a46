package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// StateTTL is how long an issued CSRF state stays valid.
const StateTTL = 30 * time.Minute

// StateToken is a CSRF state issued with an authorization URL.
type StateToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StateTokenStore keeps at most one pending state per principal.
type StateTokenStore interface {
	// Put stores token for principal, replacing any earlier one.
	Put(ctx context.Context, principal string, token StateToken, ttl time.Duration) error
	// Take returns and removes the principal's token.
	Take(ctx context.Context, principal string) (StateToken, bool, error)
}

// newStateValue returns 32 random hex characters.
func newStateValue() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MemoryStateTokens implements StateTokenStore using ttlcache.
type MemoryStateTokens struct {
	cache *ttlcache.Cache[string, StateToken]
}

// NewMemoryStateTokens creates an in-memory store with automatic cleanup.
// Call Stop to end the cleanup goroutine.
func NewMemoryStateTokens() *MemoryStateTokens {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, StateToken](StateTTL),
		ttlcache.WithDisableTouchOnHit[string, StateToken](),
	)

	go cache.Start()

	return &MemoryStateTokens{cache: cache}
}

// Put implements StateTokenStore.Put.
func (s *MemoryStateTokens) Put(_ context.Context, principal string, token StateToken, ttl time.Duration) error {
	s.cache.Set(principal, token, ttl)
	return nil
}

// Take implements StateTokenStore.Take.
func (s *MemoryStateTokens) Take(_ context.Context, principal string) (StateToken, bool, error) {
	item, ok := s.cache.GetAndDelete(principal)
	if !ok || item == nil {
		return StateToken{}, false, nil
	}
	return item.Value(), true, nil
}

// Pending reports whether a state is outstanding for principal.
func (s *MemoryStateTokens) Pending(_ context.Context, principal string) (bool, error) {
	return s.cache.Has(principal), nil
}

// Stop ends the cleanup goroutine.
func (s *MemoryStateTokens) Stop() {
	s.cache.Stop()
}
