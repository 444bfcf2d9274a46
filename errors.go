package videosync

import (
	"videosync/internal/retry"
	"videosync/internal/vault"
	"videosync/oauth"
	"videosync/storage"
	"videosync/trigger"
	"videosync/youtube"
)

// Error handling types exported for library users.
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, videosync.ErrNotAuthenticated) {
//		fmt.Println("Run: videosync auth login")
//	}
//
// Using errors.As() for typed errors:
//
//	var apiErr *videosync.APIError
//	if errors.As(err, &apiErr) && apiErr.Reason == "quotaExceeded" {
//		fmt.Println("Quota exhausted until tomorrow")
//	}

// Type aliases for convenient error handling.
type (
	// StorageError wraps content and state store failures.
	StorageError = storage.StorageError
	// TokenExchangeError reports a failed authorization-code exchange.
	TokenExchangeError = oauth.TokenExchangeError
	// RefreshError reports a failed access-token refresh.
	RefreshError = oauth.RefreshError
	// APIError is a structured error returned by the Data API.
	APIError = youtube.APIError
	// TransportError is a Data API call that failed without a structured response.
	TransportError = youtube.TransportError
	// CryptoError reports a vault failure.
	CryptoError = vault.CryptoError
	// ExhaustedError wraps the last error after retries ran out.
	ExhaustedError = retry.ExhaustedError
)

// Sentinel errors exported from sub-packages.
var (
	// Storage errors
	ErrNotFound       = storage.ErrNotFound
	ErrAlreadyExists  = storage.ErrAlreadyExists
	ErrInvalidInput   = storage.ErrInvalidInput
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrLockTimeout    = storage.ErrLockTimeout
	ErrLocked         = storage.ErrLocked

	// OAuth errors
	ErrNotConfigured    = oauth.ErrNotConfigured
	ErrNotAuthenticated = oauth.ErrNotAuthenticated
	ErrInvalidState     = oauth.ErrInvalidState
	ErrNoRefreshToken   = oauth.ErrNoRefreshToken

	// ErrCatalogNotConfigured means no session or no channel id is stored.
	ErrCatalogNotConfigured = youtube.ErrNotConfigured
	// ErrNoUploadsPlaylist means the channel has no uploads playlist.
	ErrNoUploadsPlaylist = youtube.ErrNoUploadsPlaylist

	// ErrCrypto matches every vault failure.
	ErrCrypto = vault.ErrCrypto
	// ErrNoKeyMaterial means no installation secrets were configured.
	ErrNoKeyMaterial = vault.ErrNoKeyMaterial

	// ErrSyncInProgress means another run holds the run lock.
	ErrSyncInProgress = trigger.ErrSyncInProgress
)

// IsRetryable determines if an error should be retried.
// It returns false for nil, context errors and errors marked permanent.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
