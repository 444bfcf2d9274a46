// Package oauth manages the YouTube OAuth 2.0 authorization-code flow:
// CSRF-protected authorization URLs, code exchange, transparent refresh and
// revocation. Client secrets and tokens are persisted encrypted.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"videosync/storage"
)

// Provider endpoints and scope.
const (
	AuthURL       = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL      = "https://oauth2.googleapis.com/token"
	RevokeURL     = "https://oauth2.googleapis.com/revoke"
	ReadonlyScope = "https://www.googleapis.com/auth/youtube.readonly"
)

// RefreshBuffer is how far ahead of expiry an access token is refreshed.
const RefreshBuffer = 5 * time.Minute

// Cipher seals credentials at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (plaintext string, ok bool, err error)
}

// Config holds the provider endpoints and redirect URL.
type Config struct {
	RedirectURL string
	AuthURL     string
	TokenURL    string
	RevokeURL   string
	Scopes      []string
}

// DefaultConfig returns the Google endpoints with the read-only YouTube scope.
func DefaultConfig() Config {
	return Config{
		AuthURL:   AuthURL,
		TokenURL:  TokenURL,
		RevokeURL: RevokeURL,
		Scopes:    []string{ReadonlyScope},
	}
}

// State is a position in the session lifecycle.
type State string

const (
	StateUnconfigured         State = "unconfigured"
	StateConfigured           State = "configured"
	StateAuthorizationPending State = "authorization_pending"
	StateAuthenticated        State = "authenticated"
)

// Status describes the stored session.
type Status struct {
	State           State
	ExpiresAt       time.Time
	AuthenticatedAt time.Time
	HasRefreshToken bool
}

// SessionManager owns the OAuth credential set in the state store.
type SessionManager struct {
	cfg    Config
	store  storage.StateStore
	cipher Cipher
	states StateTokenStore
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithHTTPClient sets the client used for token and revoke calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *SessionManager) { m.client = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *SessionManager) { m.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *SessionManager) { m.now = now }
}

// NewSessionManager creates a session manager over store. Empty endpoint
// fields in cfg fall back to DefaultConfig.
func NewSessionManager(cfg Config, store storage.StateStore, cipher Cipher, states StateTokenStore, opts ...Option) *SessionManager {
	def := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = def.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = def.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = def.RevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = def.Scopes
	}

	m := &SessionManager{
		cfg:    cfg,
		store:  store,
		cipher: cipher,
		states: states,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "oauth").Logger()
	return m
}

// Configure stores the client id and, when non-empty, the encrypted client secret.
func (m *SessionManager) Configure(ctx context.Context, clientID, clientSecret string) error {
	if err := m.store.Set(ctx, storage.KeyClientID, strings.TrimSpace(clientID)); err != nil {
		return err
	}
	if clientSecret == "" {
		return nil
	}
	blob, err := m.cipher.Encrypt(strings.TrimSpace(clientSecret))
	if err != nil {
		return err
	}
	return m.store.Set(ctx, storage.KeyClientSecret, blob)
}

// IsConfigured reports whether a client id and a decryptable client secret are stored.
func (m *SessionManager) IsConfigured(ctx context.Context) bool {
	_, err := m.oauthConfig(ctx)
	if err != nil && !errors.Is(err, ErrNotConfigured) {
		m.log.Warn().Err(err).Msg("Stored client credentials unreadable")
	}
	return err == nil
}

// IsAuthenticated reports whether an access token is stored. It does not refresh.
func (m *SessionManager) IsAuthenticated(ctx context.Context) bool {
	token, ok, err := m.secret(ctx, storage.KeyAccessToken)
	return err == nil && ok && token != ""
}

// AuthorizationURL issues a fresh CSRF state for principal and returns the
// provider consent URL requesting offline access.
func (m *SessionManager) AuthorizationURL(ctx context.Context, principal string) (string, error) {
	cfg, err := m.oauthConfig(ctx)
	if err != nil {
		return "", err
	}

	token := StateToken{Value: newStateValue(), ExpiresAt: m.now().Add(StateTTL)}
	if err := m.states.Put(ctx, principal, token, StateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}

	return cfg.AuthCodeURL(token.Value,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// HandleCallback validates state against the one issued to principal and
// exchanges code for tokens. The stored state is consumed by the attempt.
func (m *SessionManager) HandleCallback(ctx context.Context, principal, code, state string) error {
	issued, ok, err := m.states.Take(ctx, principal)
	if err != nil {
		return fmt.Errorf("load oauth state: %w", err)
	}
	if !ok || state == "" || !m.now().Before(issued.ExpiresAt) ||
		subtle.ConstantTimeCompare([]byte(issued.Value), []byte(state)) != 1 {
		m.log.Warn().Str("principal", principal).Msg("OAuth callback rejected: state mismatch or expired")
		return ErrInvalidState
	}

	cfg, err := m.oauthConfig(ctx)
	if err != nil {
		return err
	}
	if code == "" {
		return &TokenExchangeError{Message: "missing authorization code"}
	}

	tok, err := cfg.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return &TokenExchangeError{Message: providerMessage(err), Err: err}
	}

	if err := m.saveToken(ctx, tok, ""); err != nil {
		return err
	}
	if err := storage.SetTime(ctx, m.store, storage.KeyAuthenticatedAt, m.now()); err != nil {
		return err
	}

	m.log.Info().
		Bool("refresh_token", tok.RefreshToken != "").
		Time("expires_at", tok.Expiry).
		Msg("OAuth authorization completed")
	return nil
}

// AccessToken returns a current access token, refreshing first when it
// expires within RefreshBuffer. A failed refresh never yields the stale token.
func (m *SessionManager) AccessToken(ctx context.Context) (string, error) {
	token, ok, err := m.secret(ctx, storage.KeyAccessToken)
	if err != nil {
		return "", err
	}
	if !ok || token == "" {
		return "", ErrNotAuthenticated
	}

	expiresAt, err := storage.GetTime(ctx, m.store, storage.KeyExpiresAt)
	if err != nil {
		return "", err
	}
	if !expiresAt.IsZero() && !m.now().Add(RefreshBuffer).Before(expiresAt) {
		m.log.Debug().Time("expires_at", expiresAt).Msg("Access token near expiry, refreshing")
		return m.Refresh(ctx)
	}
	return token, nil
}

// Refresh exchanges the stored refresh token for a new access token. The
// refresh token is kept unless the provider issues a new one.
func (m *SessionManager) Refresh(ctx context.Context) (string, error) {
	refresh, ok, err := m.secret(ctx, storage.KeyRefreshToken)
	if err != nil {
		return "", err
	}
	if !ok || refresh == "" {
		return "", ErrNoRefreshToken
	}

	cfg, err := m.oauthConfig(ctx)
	if err != nil {
		return "", err
	}

	tok, err := cfg.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		m.log.Error().Err(err).Msg("Token refresh failed")
		return "", &RefreshError{Message: providerMessage(err), Err: err}
	}

	if err := m.saveToken(ctx, tok, refresh); err != nil {
		return "", err
	}
	m.log.Info().Time("expires_at", tok.Expiry).Msg("Access token refreshed")
	return tok.AccessToken, nil
}

// Disconnect revokes the access token at the provider, best effort, and
// deletes all stored token fields. Client credentials are kept.
func (m *SessionManager) Disconnect(ctx context.Context) error {
	token, ok, err := m.secret(ctx, storage.KeyAccessToken)
	if err != nil {
		m.log.Warn().Err(err).Msg("Stored access token unreadable, skipping revoke")
	} else if ok && token != "" {
		if err := m.revoke(ctx, token); err != nil {
			m.log.Warn().Err(err).Msg("Token revocation failed, clearing local credentials anyway")
		}
	}

	return m.store.Delete(ctx,
		storage.KeyAccessToken,
		storage.KeyRefreshToken,
		storage.KeyExpiresAt,
		storage.KeyAuthenticatedAt,
	)
}

// Status reports the session state for principal.
func (m *SessionManager) Status(ctx context.Context, principal string) (Status, error) {
	var st Status
	var err error

	switch {
	case m.IsAuthenticated(ctx):
		st.State = StateAuthenticated
	case !m.IsConfigured(ctx):
		st.State = StateUnconfigured
		return st, nil
	default:
		st.State = StateConfigured
		if p, ok := m.states.(interface {
			Pending(context.Context, string) (bool, error)
		}); ok {
			pending, err := p.Pending(ctx, principal)
			if err != nil {
				return st, err
			}
			if pending {
				st.State = StateAuthorizationPending
			}
		}
	}

	if st.ExpiresAt, err = storage.GetTime(ctx, m.store, storage.KeyExpiresAt); err != nil {
		return st, err
	}
	if st.AuthenticatedAt, err = storage.GetTime(ctx, m.store, storage.KeyAuthenticatedAt); err != nil {
		return st, err
	}
	refresh, ok, _ := m.secret(ctx, storage.KeyRefreshToken)
	st.HasRefreshToken = ok && refresh != ""
	return st, nil
}

func (m *SessionManager) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	clientID, _, err := m.store.Get(ctx, storage.KeyClientID)
	if err != nil {
		return nil, err
	}
	secret, ok, err := m.secret(ctx, storage.KeyClientSecret)
	if err != nil {
		return nil, err
	}
	if clientID == "" || !ok || secret == "" {
		return nil, ErrNotConfigured
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURL:  m.cfg.RedirectURL,
		Scopes:       m.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.cfg.AuthURL,
			TokenURL:  m.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// saveToken persists tok. previousRefresh is the refresh token already stored.
func (m *SessionManager) saveToken(ctx context.Context, tok *oauth2.Token, previousRefresh string) error {
	access, err := m.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, storage.KeyAccessToken, access); err != nil {
		return err
	}

	if tok.RefreshToken != "" && tok.RefreshToken != previousRefresh {
		refresh, err := m.cipher.Encrypt(tok.RefreshToken)
		if err != nil {
			return err
		}
		if err := m.store.Set(ctx, storage.KeyRefreshToken, refresh); err != nil {
			return err
		}
	}

	// No expires_in means the expiry is unknown.
	if tok.Expiry.IsZero() {
		return m.store.Delete(ctx, storage.KeyExpiresAt)
	}
	return storage.SetTime(ctx, m.store, storage.KeyExpiresAt, tok.Expiry)
}

func (m *SessionManager) secret(ctx context.Context, key string) (string, bool, error) {
	blob, ok, err := m.store.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	return m.cipher.Decrypt(blob)
}

func (m *SessionManager) revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke: status %d", resp.StatusCode)
	}
	return nil
}

func (m *SessionManager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

// providerMessage extracts error_description, then error, from a token
// endpoint failure.
func providerMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorDescription != "" {
			return re.ErrorDescription
		}
		if re.ErrorCode != "" {
			return re.ErrorCode
		}
		if re.Response != nil {
			return fmt.Sprintf("token endpoint returned status %d", re.Response.StatusCode)
		}
	}
	return err.Error()
}
