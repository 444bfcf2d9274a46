package store

import (
	"context"
	"encoding/json"
	"time"

	"videosync/oauth"
	"videosync/storage"
)

const stateTokenKeyPrefix = "nvm_oauth_state_"

// StateTokens implements oauth.StateTokenStore on top of a StateStore so an
// authorization URL issued by one process can be redeemed by another.
// Expired tokens are dropped when read.
type StateTokens struct {
	state storage.StateStore
	now   func() time.Time
}

// NewStateTokens wraps state.
func NewStateTokens(state storage.StateStore) *StateTokens {
	return &StateTokens{state: state, now: time.Now}
}

// Put stores token for principal, expiring no later than ttl from now. A
// non-positive ttl clears it.
func (s *StateTokens) Put(ctx context.Context, principal string, token oauth.StateToken, ttl time.Duration) error {
	if ttl <= 0 {
		return s.state.Delete(ctx, stateTokenKeyPrefix+principal)
	}
	if exp := s.now().Add(ttl); token.ExpiresAt.IsZero() || exp.Before(token.ExpiresAt) {
		token.ExpiresAt = exp
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.state.Set(ctx, stateTokenKeyPrefix+principal, string(raw))
}

// Take returns and deletes the state of principal. An expired state is
// deleted and reported as absent.
func (s *StateTokens) Take(ctx context.Context, principal string) (oauth.StateToken, bool, error) {
	token, ok, err := s.load(ctx, principal)
	if err != nil || !ok {
		return oauth.StateToken{}, false, err
	}
	if err := s.state.Delete(ctx, stateTokenKeyPrefix+principal); err != nil {
		return oauth.StateToken{}, false, err
	}
	if !s.now().Before(token.ExpiresAt) {
		return oauth.StateToken{}, false, nil
	}
	return token, true, nil
}

// Pending reports whether an unexpired state is outstanding for principal.
func (s *StateTokens) Pending(ctx context.Context, principal string) (bool, error) {
	token, ok, err := s.load(ctx, principal)
	if err != nil || !ok {
		return false, err
	}
	return s.now().Before(token.ExpiresAt), nil
}

func (s *StateTokens) load(ctx context.Context, principal string) (oauth.StateToken, bool, error) {
	raw, ok, err := s.state.Get(ctx, stateTokenKeyPrefix+principal)
	if err != nil || !ok {
		return oauth.StateToken{}, false, err
	}
	var token oauth.StateToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return oauth.StateToken{}, false, &storage.StorageError{Op: "read", Entity: "oauth_state", ID: principal, Err: storage.ErrStorageCorrupt}
	}
	return token, true, nil
}
