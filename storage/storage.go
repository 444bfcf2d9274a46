// Package storage defines the collaborators the sync core persists through:
// a content store for mirrored video records, a key-value state store for
// credentials and the sync cursor, and a run lock.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists indicates the entity already exists in storage.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrLocked indicates the run lock is held by another owner.
	ErrLocked = errors.New("storage: lock held by another owner")
)

// StorageError wraps storage errors with operation and entity context.
// It is the content-store error surfaced by per-video sync failures.
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("create", "read", "update", "attach").
	Op string
	// Entity is the entity type ("record", "media", "label", "state").
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// ContentStore persists local video records, their attachments and labels.
// Attachments live in the same id space as records, so GetField and
// SetField work on either.
type ContentStore interface {
	// FindByExternalID returns the local id for a remote video id, or ErrNotFound.
	FindByExternalID(ctx context.Context, youtubeID string) (string, error)
	// Create stores a new record and returns its local id. A record already
	// holding entry.ExternalID fails with ErrAlreadyExists.
	Create(ctx context.Context, entry Entry) (string, error)
	// Update rewrites the core fields of an existing record.
	Update(ctx context.Context, id string, entry Entry) error
	// GetField returns a side field, or "" when unset.
	GetField(ctx context.Context, id, name string) (string, error)
	// SetField writes a side field.
	SetField(ctx context.Context, id, name, value string) error
	// AttachMedia fetches sourceURL as an attachment of id and returns the media id.
	AttachMedia(ctx context.Context, id, sourceURL string) (string, error)
	// FeaturedMedia returns the record's featured attachment id, or "" when none.
	FeaturedMedia(ctx context.Context, id string) (string, error)
	// SetFeaturedMedia makes mediaID the record's featured attachment.
	SetFeaturedMedia(ctx context.Context, id, mediaID string) error
	// EnsureLabel returns the id of the named label, creating it if missing.
	EnsureLabel(ctx context.Context, taxonomy Taxonomy, name string) (string, error)
	// AssignLabels replaces the record's labels in taxonomy.
	AssignLabels(ctx context.Context, id string, taxonomy Taxonomy, labelIDs []string) error
}

// StateStore is a process-wide key-value store for settings, encrypted
// credentials and the sync cursor.
type StateStore interface {
	// Get returns the value for key; ok is false when the key is unset.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Locker guards sync runs so at most one is active per installation.
type Locker interface {
	// TryLock acquires the lock without waiting. It returns ErrLocked when
	// another owner holds it. The returned function releases the lock.
	TryLock(ctx context.Context) (unlock func() error, err error)
}

// GetTime reads a unix-seconds value from the state store. A missing or
// zero value yields the zero time.
func GetTime(ctx context.Context, s StateStore, key string) (time.Time, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok || v == "" {
		return time.Time{}, err
	}
	var secs int64
	if _, err := fmt.Sscan(v, &secs); err != nil {
		return time.Time{}, &StorageError{Op: "read", Entity: "state", ID: key, Err: ErrStorageCorrupt}
	}
	if secs == 0 {
		return time.Time{}, nil
	}
	return time.Unix(secs, 0).UTC(), nil
}

// SetTime stores t as unix seconds.
func SetTime(ctx context.Context, s StateStore, key string, t time.Time) error {
	return s.Set(ctx, key, fmt.Sprintf("%d", t.Unix()))
}

// GetBool reads a boolean setting. Unset reads as false.
func GetBool(ctx context.Context, s StateStore, key string) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return ParseBool(v), nil
}

// ParseBool reports whether a stored flag value is set. Anything other than
// "1", "true", "yes" or "on" reads as false.
func ParseBool(v string) bool {
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
