package youtube

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"videosync/storage"
)

const (
	// CursorMargin is subtracted from the last sync time to form the
	// incremental lower bound, covering clock skew and in-flight publishes.
	CursorMargin = time.Hour

	// WatchURLPrefix prefixes a video id to form its public URL.
	WatchURLPrefix = "https://www.youtube.com/watch?v="

	fieldTimeLayout = "2006-01-02 15:04:05"
)

// SyncOptions selects the kind of run.
type SyncOptions struct {
	// MaxVideos stops the run after this many videos were processed. 0 means unbounded.
	MaxVideos int
	// Full ignores the stored cursor and applies no publish-date lower bound.
	Full bool
}

// SyncResult contains the outcome of a sync run.
type SyncResult struct {
	// Processed is the number of videos upserted successfully.
	Processed int
	// Created and Updated split Processed by whether a local record existed.
	Created int
	Updated int
	// Failed is the number of videos skipped after a per-video error.
	Failed int
	// Pages is the number of listing pages fetched.
	Pages int
	// StoppedAtMax is true when the run ended on MaxVideos.
	StoppedAtMax bool
	// PublishedAfter is the lower bound applied, zero for none.
	PublishedAfter time.Time
}

// SyncManager mirrors a channel's uploads into a content store and keeps
// the incremental cursor in a state store.
type SyncManager struct {
	catalog VideoCatalog
	content storage.ContentStore
	state   storage.StateStore
	now     func() time.Time
	log     zerolog.Logger
}

// SyncOption configures a SyncManager.
type SyncOption func(*SyncManager)

// WithSyncLogger sets the logger.
func WithSyncLogger(l zerolog.Logger) SyncOption {
	return func(sm *SyncManager) { sm.log = l }
}

// WithSyncClock sets the time source used for the cursor and synced timestamps.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(sm *SyncManager) { sm.now = now }
}

// NewSyncManager creates a sync manager.
func NewSyncManager(catalog VideoCatalog, content storage.ContentStore, state storage.StateStore, opts ...SyncOption) *SyncManager {
	sm := &SyncManager{
		catalog: catalog,
		content: content,
		state:   state,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	sm.log = sm.log.With().Str("component", "sync").Logger()
	return sm
}

// abortError marks a per-video failure that must end the whole run.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Sync runs one pass over the channel's uploads. Listing and detail-fetch
// failures abort the run and are returned unchanged; per-video store
// failures are logged, counted in Failed and skipped. The cursor advances
// only when the run completes. The returned result is non-nil even on error.
func (sm *SyncManager) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	result := &SyncResult{}

	if !sm.catalog.IsConfigured(ctx) {
		return result, ErrNotConfigured
	}
	channelID, err := sm.catalog.ChannelID(ctx)
	if err != nil {
		return result, err
	}

	if !opts.Full {
		last, err := storage.GetTime(ctx, sm.state, storage.KeyLastSyncTime)
		if err != nil {
			return result, err
		}
		if !last.IsZero() {
			result.PublishedAfter = last.Add(-CursorMargin)
			sm.log.Info().Str("published_after", result.PublishedAfter.Format(time.RFC3339)).Msg("Incremental sync")
		} else {
			sm.log.Info().Msg("No previous sync found, doing full sync")
		}
	} else {
		sm.log.Info().Msg("Full sync requested")
	}

	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		entries, next, err := sm.catalog.ListChannelVideos(ctx, channelID, MaxPageSize, pageToken, result.PublishedAfter)
		if err != nil {
			return result, err
		}
		result.Pages++
		if len(entries) == 0 {
			break
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		videos, err := sm.catalog.FetchVideoDetails(ctx, ids)
		if err != nil {
			return result, err
		}

		for _, v := range videos {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			created, err := sm.processVideo(ctx, channelID, v)
			if err != nil {
				var abort *abortError
				if errors.As(err, &abort) {
					return result, abort.err
				}
				result.Failed++
				sm.log.Warn().Err(err).Str("video_id", v.ID).Msg("Failed to sync video")
			} else {
				result.Processed++
				if created {
					result.Created++
				} else {
					result.Updated++
				}
			}

			if opts.MaxVideos > 0 && result.Processed >= opts.MaxVideos {
				result.StoppedAtMax = true
				break
			}
		}

		if result.StoppedAtMax || next == "" {
			break
		}
		pageToken = next
	}

	if err := storage.SetTime(ctx, sm.state, storage.KeyLastSyncTime, sm.now()); err != nil {
		return result, err
	}

	sm.log.Info().
		Int("processed", result.Processed).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Bool("stopped_at_max", result.StoppedAtMax).
		Msg("Sync completed")
	return result, nil
}

// LastSync returns the stored cursor, zero when no run has completed.
func (sm *SyncManager) LastSync(ctx context.Context) (time.Time, error) {
	return storage.GetTime(ctx, sm.state, storage.KeyLastSyncTime)
}

// processVideo upserts one video. It reports whether a record was created.
func (sm *SyncManager) processVideo(ctx context.Context, channelID string, v Video) (bool, error) {
	id, err := sm.content.FindByExternalID(ctx, v.ID)
	created := false
	switch {
	case errors.Is(err, storage.ErrNotFound):
		desc := v.Description
		id, err = sm.content.Create(ctx, storage.Entry{ExternalID: v.ID, Title: v.Title, Description: &desc, PublishedAt: v.PublishedAt})
		if err != nil {
			return false, err
		}
		created = true
	case err != nil:
		return false, err
	default:
		entry := storage.Entry{Title: v.Title, PublishedAt: v.PublishedAt}
		modified, err := sm.content.GetField(ctx, id, storage.FieldDescriptionModified)
		if err != nil {
			return false, err
		}
		if !storage.ParseBool(modified) {
			desc := v.Description
			entry.Description = &desc
		}
		if err := sm.content.Update(ctx, id, entry); err != nil {
			return false, err
		}
	}

	fields := []struct{ name, value string }{
		{storage.FieldYouTubeID, v.ID},
		{storage.FieldYouTubeURL, WatchURLPrefix + v.ID},
		{storage.FieldDuration, v.Duration},
		{storage.FieldPublishedAt, formatFieldTime(v.PublishedAt)},
		{storage.FieldLastSynced, formatFieldTime(sm.now())},
	}
	if st := v.Statistics; st != nil {
		fields = append(fields,
			struct{ name, value string }{storage.FieldViewCount, strconv.FormatInt(st.Views, 10)},
			struct{ name, value string }{storage.FieldLikeCount, strconv.FormatInt(st.Likes, 10)},
			struct{ name, value string }{storage.FieldCommentCount, strconv.FormatInt(st.Comments, 10)},
		)
	}
	for _, f := range fields {
		if err := sm.content.SetField(ctx, id, f.name, f.value); err != nil {
			return created, err
		}
	}

	if err := sm.setType(ctx, id, v.Duration); err != nil {
		return created, err
	}
	if err := sm.setThumbnail(ctx, id, v.Thumbnails.Best()); err != nil {
		return created, err
	}
	if err := sm.setLabels(ctx, id, storage.TagTaxonomy, v.Tags); err != nil {
		return created, err
	}

	collections, err := sm.catalog.FetchCollectionsContaining(ctx, v.ID, channelID)
	if err != nil {
		if !isCatalogError(err) {
			return created, &abortError{err: err}
		}
		sm.log.Warn().Err(err).Str("video_id", v.ID).Msg("Could not resolve playlists")
		collections = nil
	}
	if err := sm.setLabels(ctx, id, storage.CategoryTaxonomy, collections); err != nil {
		return created, err
	}
	return created, nil
}

// setType recomputes the short/video classification from the duration.
func (sm *SyncManager) setType(ctx context.Context, id, duration string) error {
	seconds, err := ParseDuration(duration)
	if err != nil {
		sm.log.Warn().Str("duration", duration).Msg("Unparsable duration, classifying as 0 seconds")
		seconds = 0
	}
	labelID, err := sm.content.EnsureLabel(ctx, storage.TypeTaxonomy, string(Classify(seconds)))
	if err != nil {
		return err
	}
	return sm.content.AssignLabels(ctx, id, storage.TypeTaxonomy, []string{labelID})
}

// setThumbnail attaches url as the featured media unless the current
// featured attachment was fetched from the same url.
func (sm *SyncManager) setThumbnail(ctx context.Context, id, url string) error {
	if url == "" {
		return nil
	}
	featured, err := sm.content.FeaturedMedia(ctx, id)
	if err != nil {
		return err
	}
	if featured != "" {
		source, err := sm.content.GetField(ctx, featured, storage.FieldThumbnailSource)
		if err != nil {
			return err
		}
		if source == url {
			return nil
		}
	}

	mediaID, err := sm.content.AttachMedia(ctx, id, url)
	if err != nil {
		return err
	}
	if err := sm.content.SetField(ctx, mediaID, storage.FieldThumbnailSource, url); err != nil {
		return err
	}
	return sm.content.SetFeaturedMedia(ctx, id, mediaID)
}

// setLabels ensures each name exists in taxonomy and assigns them. A name the
// store rejects is logged and left out. An empty list leaves existing
// assignments in place.
func (sm *SyncManager) setLabels(ctx context.Context, id string, taxonomy storage.Taxonomy, names []string) error {
	var ids []string
	for _, name := range names {
		if name == "" {
			continue
		}
		labelID, err := sm.content.EnsureLabel(ctx, taxonomy, name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			sm.log.Warn().Err(err).Str("taxonomy", taxonomy.Name).Str("label", name).Msg("Skipping label")
			continue
		}
		ids = append(ids, labelID)
	}
	if len(ids) == 0 {
		return nil
	}
	return sm.content.AssignLabels(ctx, id, taxonomy, ids)
}

func formatFieldTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(fieldTimeLayout)
}
