package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videosync/internal/vault"
	"videosync/storage"
)

// memoryState implements storage.StateStore for tests.
type memoryState struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryState() *memoryState {
	return &memoryState{data: make(map[string]string)}
}

func (m *memoryState) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryState) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryState) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// tokenServer fakes the provider token and revoke endpoints.
type tokenServer struct {
	*httptest.Server

	mu        sync.Mutex
	grants    []url.Values
	revoked   []string
	exchange  func(w http.ResponseWriter, form url.Values)
	refresh   func(w http.ResponseWriter, form url.Values)
	revokeErr bool
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{
		exchange: func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"expires_in":    3600,
				"token_type":    "Bearer",
			})
		},
		refresh: func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "access-2",
				"expires_in":   3600,
				"token_type":   "Bearer",
			})
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		ts.mu.Lock()
		ts.grants = append(ts.grants, r.PostForm)
		ts.mu.Unlock()

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			ts.exchange(w, r.PostForm)
		case "refresh_token":
			ts.refresh(w, r.PostForm)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		ts.mu.Lock()
		ts.revoked = append(ts.revoked, r.PostForm.Get("token"))
		ts.mu.Unlock()
		if ts.revokeErr {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) grantCount(grantType string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := 0
	for _, g := range ts.grants {
		if g.Get("grant_type") == grantType {
			n++
		}
	}
	return n
}

type fixture struct {
	manager *SessionManager
	store   *memoryState
	vault   *vault.Vault
	server  *tokenServer
	clock   *time.Time
}

func newFixture(t *testing.T, configured bool) *fixture {
	t.Helper()

	v, err := vault.New("test-auth-key", "test-secure-auth-key")
	require.NoError(t, err)

	server := newTokenServer(t)
	store := newMemoryState()
	states := NewMemoryStateTokens()
	t.Cleanup(states.Stop)

	now := time.Now()
	f := &fixture{store: store, vault: v, server: server, clock: &now}

	f.manager = NewSessionManager(Config{
		RedirectURL: "https://example.test/oauth/callback",
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    server.URL + "/token",
		RevokeURL:   server.URL + "/revoke",
	}, store, v, states,
		WithHTTPClient(server.Client()),
		WithClock(func() time.Time { return *f.clock }),
	)

	if configured {
		require.NoError(t, f.manager.Configure(context.Background(), "client-123", "secret-456"))
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

// authenticate stores tokens directly, expiring at expiresAt.
func (f *fixture) authenticate(t *testing.T, access, refresh string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	blob, err := f.vault.Encrypt(access)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, storage.KeyAccessToken, blob))
	if refresh != "" {
		blob, err = f.vault.Encrypt(refresh)
		require.NoError(t, err)
		require.NoError(t, f.store.Set(ctx, storage.KeyRefreshToken, blob))
	}
	require.NoError(t, storage.SetTime(ctx, f.store, storage.KeyExpiresAt, expiresAt))
}

func (f *fixture) decrypted(t *testing.T, key string) string {
	t.Helper()
	blob, ok, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "key %s not stored", key)
	plain, ok, err := f.vault.Decrypt(blob)
	require.NoError(t, err)
	require.True(t, ok)
	return plain
}

func (f *fixture) stateFromURL(t *testing.T, principal string) string {
	t.Helper()
	raw, err := f.manager.AuthorizationURL(context.Background(), principal)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestIsConfigured(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, false)
	assert.False(t, f.manager.IsConfigured(ctx))

	require.NoError(t, f.manager.Configure(ctx, "client-123", ""))
	assert.False(t, f.manager.IsConfigured(ctx), "client id without secret")

	require.NoError(t, f.manager.Configure(ctx, "client-123", "secret-456"))
	assert.True(t, f.manager.IsConfigured(ctx))

	blob, _, _ := f.store.Get(ctx, storage.KeyClientSecret)
	assert.NotContains(t, blob, "secret-456")

	// Corrupt ciphertext reads as not configured.
	require.NoError(t, f.store.Set(ctx, storage.KeyClientSecret, "garbage"))
	assert.False(t, f.manager.IsConfigured(ctx))
}

func TestAuthorizationURLNotConfigured(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.manager.AuthorizationURL(context.Background(), "admin")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAuthorizationURL(t *testing.T) {
	f := newFixture(t, true)

	raw, err := f.manager.AuthorizationURL(context.Background(), "admin")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "/o/oauth2/v2/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "https://example.test/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, ReadonlyScope, q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Len(t, q.Get("state"), 32)

	status, err := f.manager.Status(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, StateAuthorizationPending, status.State)
}

func TestAuthorizationURLFreshState(t *testing.T) {
	f := newFixture(t, true)
	first := f.stateFromURL(t, "admin")
	second := f.stateFromURL(t, "admin")
	assert.NotEqual(t, first, second)

	// Only the latest issued state is accepted.
	err := f.manager.HandleCallback(context.Background(), "admin", "code", first)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHandleCallbackRejectsState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) (principal, state string)
	}{
		{
			name: "never issued",
			setup: func(t *testing.T, f *fixture) (string, string) {
				return "admin", "0123456789abcdef0123456789abcdef"
			},
		},
		{
			name: "issued to another principal",
			setup: func(t *testing.T, f *fixture) (string, string) {
				return "editor", f.stateFromURL(t, "admin")
			},
		},
		{
			name: "one character differs",
			setup: func(t *testing.T, f *fixture) (string, string) {
				state := f.stateFromURL(t, "admin")
				last := state[len(state)-1]
				repl := byte('0')
				if last == '0' {
					repl = '1'
				}
				return "admin", state[:len(state)-1] + string(repl)
			},
		},
		{
			name: "expired",
			setup: func(t *testing.T, f *fixture) (string, string) {
				state := f.stateFromURL(t, "admin")
				f.advance(StateTTL + time.Second)
				return "admin", state
			},
		},
		{
			name: "empty",
			setup: func(t *testing.T, f *fixture) (string, string) {
				f.stateFromURL(t, "admin")
				return "admin", ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			principal, state := tt.setup(t, f)

			err := f.manager.HandleCallback(context.Background(), principal, "auth-code", state)
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Zero(t, f.server.grantCount("authorization_code"))
			assert.False(t, f.manager.IsAuthenticated(context.Background()))
		})
	}
}

func TestHandleCallbackSuccess(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	state := f.stateFromURL(t, "admin")
	f.advance(29 * time.Minute)

	require.NoError(t, f.manager.HandleCallback(ctx, "admin", "auth-code", state))

	assert.Equal(t, "access-1", f.decrypted(t, storage.KeyAccessToken))
	assert.Equal(t, "refresh-1", f.decrypted(t, storage.KeyRefreshToken))

	raw, _, _ := f.store.Get(ctx, storage.KeyAccessToken)
	assert.NotContains(t, raw, "access-1")

	expiresAt, err := storage.GetTime(ctx, f.store, storage.KeyExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	authAt, err := storage.GetTime(ctx, f.store, storage.KeyAuthenticatedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, *f.clock, authAt, time.Second)

	grant := f.server.grants[0]
	assert.Equal(t, "auth-code", grant.Get("code"))
	assert.Equal(t, "client-123", grant.Get("client_id"))
	assert.Equal(t, "secret-456", grant.Get("client_secret"))
	assert.Equal(t, "https://example.test/oauth/callback", grant.Get("redirect_uri"))

	// State is single use.
	err = f.manager.HandleCallback(ctx, "admin", "auth-code", state)
	assert.ErrorIs(t, err, ErrInvalidState)

	status, err := f.manager.Status(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, status.State)
	assert.True(t, status.HasRefreshToken)
}

func TestHandleCallbackWithoutRefreshToken(t *testing.T) {
	f := newFixture(t, true)
	f.server.exchange = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "access-only", "token_type": "Bearer"})
	}

	state := f.stateFromURL(t, "admin")
	require.NoError(t, f.manager.HandleCallback(context.Background(), "admin", "auth-code", state))

	assert.Equal(t, "access-only", f.decrypted(t, storage.KeyAccessToken))
	_, ok, _ := f.store.Get(context.Background(), storage.KeyRefreshToken)
	assert.False(t, ok)
	_, ok, _ = f.store.Get(context.Background(), storage.KeyExpiresAt)
	assert.False(t, ok, "expires_at is stored only when expires_in is returned")
}

func TestHandleCallbackExchangeError(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]string
		message string
	}{
		{
			name:    "error description",
			body:    map[string]string{"error": "invalid_grant", "error_description": "Bad Request"},
			message: "Bad Request",
		},
		{
			name:    "error code only",
			body:    map[string]string{"error": "invalid_client"},
			message: "invalid_client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.server.exchange = func(w http.ResponseWriter, _ url.Values) {
				writeJSON(w, http.StatusBadRequest, tt.body)
			}

			state := f.stateFromURL(t, "admin")
			err := f.manager.HandleCallback(context.Background(), "admin", "auth-code", state)

			var exErr *TokenExchangeError
			require.ErrorAs(t, err, &exErr)
			assert.Equal(t, tt.message, exErr.Message)
			assert.Contains(t, err.Error(), tt.message)
			assert.False(t, f.manager.IsAuthenticated(context.Background()))
		})
	}
}

func TestAccessTokenRefreshWindow(t *testing.T) {
	tests := []struct {
		name        string
		expiresIn   time.Duration
		wantRefresh bool
		wantToken   string
	}{
		{"expires in 10 minutes", 10 * time.Minute, false, "access-1"},
		{"expires in 4 minutes", 4 * time.Minute, true, "access-2"},
		{"already expired", -time.Minute, true, "access-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.authenticate(t, "access-1", "refresh-1", f.clock.Add(tt.expiresIn))

			token, err := f.manager.AccessToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)

			if tt.wantRefresh {
				assert.Equal(t, 1, f.server.grantCount("refresh_token"))
				assert.Equal(t, "access-2", f.decrypted(t, storage.KeyAccessToken))
				assert.Equal(t, "refresh-1", f.decrypted(t, storage.KeyRefreshToken), "refresh token preserved")
			} else {
				assert.Zero(t, f.server.grantCount("refresh_token"))
			}
		})
	}
}

func TestAccessTokenRefreshFailure(t *testing.T) {
	f := newFixture(t, true)
	f.server.refresh = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})
	}
	f.authenticate(t, "stale-access", "refresh-1", f.clock.Add(time.Minute))

	token, err := f.manager.AccessToken(context.Background())
	assert.Empty(t, token)

	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, "Token has been expired or revoked.", refreshErr.Message)
}

func TestAccessTokenNotAuthenticated(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.manager.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	f := newFixture(t, true)
	f.authenticate(t, "access-1", "", f.clock.Add(time.Minute))

	_, err := f.manager.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	_, err = f.manager.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefreshStoresRotatedToken(t *testing.T) {
	f := newFixture(t, true)
	f.server.refresh = func(w http.ResponseWriter, form url.Values) {
		assert.Equal(t, "refresh-1", form.Get("refresh_token"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-3",
			"refresh_token": "refresh-2",
			"expires_in":    1800,
			"token_type":    "Bearer",
		})
	}
	f.authenticate(t, "access-1", "refresh-1", f.clock.Add(time.Minute))

	token, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-3", token)
	assert.Equal(t, "refresh-2", f.decrypted(t, storage.KeyRefreshToken))
}

func TestDisconnect(t *testing.T) {
	tests := []struct {
		name      string
		revokeErr bool
	}{
		{"revoke succeeds", false},
		{"revoke fails", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.server.revokeErr = tt.revokeErr
			f.authenticate(t, "access-1", "refresh-1", f.clock.Add(time.Hour))
			require.NoError(t, storage.SetTime(context.Background(), f.store, storage.KeyAuthenticatedAt, *f.clock))

			require.NoError(t, f.manager.Disconnect(context.Background()))

			assert.Equal(t, []string{"access-1"}, f.server.revoked)
			for _, key := range []string{
				storage.KeyAccessToken, storage.KeyRefreshToken,
				storage.KeyExpiresAt, storage.KeyAuthenticatedAt,
			} {
				_, ok, _ := f.store.Get(context.Background(), key)
				assert.False(t, ok, "%s should be deleted", key)
			}
			assert.True(t, f.manager.IsConfigured(context.Background()))
			assert.False(t, f.manager.IsAuthenticated(context.Background()))
		})
	}
}

func TestRefreshWithoutExpiryClearsStoredExpiry(t *testing.T) {
	f := newFixture(t, true)
	f.server.refresh = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-2",
			"token_type":   "Bearer",
		})
	}
	f.authenticate(t, "access-1", "refresh-1", f.clock.Add(time.Minute))

	token, err := f.manager.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	_, ok, _ := f.store.Get(context.Background(), storage.KeyExpiresAt)
	assert.False(t, ok, "stale expiry must not survive a refresh without expires_in")

	token, err = f.manager.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, f.server.grantCount("refresh_token"), "no further refresh")
}
