// Package videosync mirrors a YouTube channel's uploads into a local content
// store.
//
// Overview
//
// Each uploaded video becomes one local record carrying its title, body,
// publish date, tags, playlist categories, a short/video type label derived
// from its duration, view/like/comment counts and a featured thumbnail.
// Runs are idempotent: a video already mirrored is updated in place, and a
// body edited locally is never overwritten.
//
// The pieces, leaf first:
//
//   - internal/vault: authenticated encryption for credentials at rest
//   - oauth: client credentials, consent URL, code exchange, refresh, revoke
//   - youtube: the Data API catalog client, duration parsing and the sync engine
//   - trigger: full and incremental runs behind a run lock, as result payloads
//   - scheduler: the recurring automatic sync
//   - internal/store: JSON file and Redis implementations of the stores
//   - config: viper-backed configuration
//   - cli: the videosync command
//
// Quick Start
//
//	videosync configure --client-id ID --client-secret SECRET --channel-id UC...
//	videosync auth login
//	videosync sync --full
//	videosync configure --auto-sync --frequency twicedaily
//	videosync serve
//
// Configuration
//
// Settings load from, highest priority first:
//
//  1. Command line flags (--log-level, --pretty)
//  2. Environment variables with the NVM_ prefix (NVM_STORAGE_PATH for storage.path)
//  3. videosync.yaml in ., ./config or $HOME/.videosync, or the --config file
//  4. Default values
//
// vault.secrets (NVM_VAULT_SECRETS, comma separated) is required; the
// credential key is derived from it and changing it makes stored
// credentials unreadable.
//
// Error Handling
//
// This package re-exports the error taxonomy of its sub-packages. Checking
// for sentinel errors:
//
//	if errors.Is(err, videosync.ErrSyncInProgress) {
//		return nil
//	}
//
// Extracting typed error details:
//
//	var refreshErr *videosync.RefreshError
//	if errors.As(err, &refreshErr) {
//		fmt.Println("Reconnect:", refreshErr.Message)
//	}
package videosync
