// Package trigger exposes full and incremental sync runs to cron-style and
// operator-initiated callers as structured payloads.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"videosync/storage"
	"videosync/youtube"
)

// ErrSyncInProgress is reported when another run holds the run lock.
var ErrSyncInProgress = errors.New("trigger: a sync is already running")

// Payload is the result handed back to a trigger caller.
type Payload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Count is the number of videos processed on success.
	Count int `json:"count,omitempty"`
}

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context, opts youtube.SyncOptions) (*youtube.SyncResult, error)
}

// Trigger serializes sync runs behind a run lock.
type Trigger struct {
	syncer     Syncer
	lock       storage.Locker
	maxVideos  int
	runTimeout time.Duration
	log        zerolog.Logger
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithMaxVideos caps every run. 0 means unbounded.
func WithMaxVideos(n int) Option {
	return func(t *Trigger) { t.maxVideos = n }
}

// WithRunTimeout bounds every run with a deadline. 0 means none.
func WithRunTimeout(d time.Duration) Option {
	return func(t *Trigger) { t.runTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Trigger) { t.log = l }
}

// New creates a trigger. A nil lock serializes runs within this process only.
func New(syncer Syncer, lock storage.Locker, opts ...Option) *Trigger {
	if lock == nil {
		lock = NewMutexLocker()
	}
	t := &Trigger{syncer: syncer, lock: lock, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With().Str("component", "trigger").Logger()
	return t
}

// RunFullSync syncs the whole catalog.
func (t *Trigger) RunFullSync(ctx context.Context) Payload {
	p, _ := t.Run(ctx, youtube.SyncOptions{Full: true, MaxVideos: t.maxVideos})
	return p
}

// RunIncrementalSync syncs videos published since the last run.
func (t *Trigger) RunIncrementalSync(ctx context.Context) Payload {
	p, _ := t.Run(ctx, youtube.SyncOptions{MaxVideos: t.maxVideos})
	return p
}

// Run executes one sync pass under the run lock and returns the payload
// together with the detailed result, which is nil when the lock was not
// acquired.
func (t *Trigger) Run(ctx context.Context, opts youtube.SyncOptions) (Payload, *youtube.SyncResult) {
	unlock, err := t.lock.TryLock(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			t.log.Info().Bool("full", opts.Full).Msg("Sync skipped, another run holds the lock")
			return errorPayload(ErrSyncInProgress), nil
		}
		t.log.Error().Err(err).Msg("Failed to acquire run lock")
		return errorPayload(err), nil
	}
	defer func() {
		if err := unlock(); err != nil {
			t.log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	if t.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.runTimeout)
		defer cancel()
	}

	result, err := t.syncer.Sync(ctx, opts)
	if err != nil {
		t.log.Error().Err(err).Bool("full", opts.Full).Msg("Sync failed")
		return errorPayload(err), result
	}

	msg := fmt.Sprintf("Incremental sync completed: %d new videos synced.", result.Processed)
	if opts.Full {
		msg = fmt.Sprintf("Full sync completed: %d videos synced.", result.Processed)
	}
	return Payload{Success: true, Message: msg, Count: result.Processed}, result
}

func errorPayload(err error) Payload {
	return Payload{Success: false, Message: err.Error()}
}

// MutexLocker is an in-process Locker.
type MutexLocker struct {
	mu sync.Mutex
}

// NewMutexLocker returns an unlocked MutexLocker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{}
}

// TryLock acquires the mutex or returns storage.ErrLocked.
func (l *MutexLocker) TryLock(ctx context.Context) (func() error, error) {
	if !l.mu.TryLock() {
		return nil, storage.ErrLocked
	}
	var once sync.Once
	return func() error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
