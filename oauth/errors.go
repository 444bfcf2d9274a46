package oauth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the OAuth session lifecycle.
var (
	ErrNotConfigured    = errors.New("oauth: client credentials not configured")
	ErrNotAuthenticated = errors.New("oauth: not authenticated")
	ErrInvalidState     = errors.New("oauth: invalid state parameter")
	ErrNoRefreshToken   = errors.New("oauth: no refresh token available")
)

// TokenExchangeError reports a failed authorization-code exchange. Message
// carries the provider's error_description when one was returned.
type TokenExchangeError struct {
	Message string
	Err     error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("oauth: token exchange failed: %s", e.Message)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// RefreshError reports a failed refresh-token grant.
type RefreshError struct {
	Message string
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("oauth: token refresh failed: %s", e.Message)
}

func (e *RefreshError) Unwrap() error { return e.Err }
