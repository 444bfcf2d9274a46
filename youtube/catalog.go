package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	vhttp "videosync/http"
	"videosync/internal/retry"
	"videosync/storage"
)

const (
	// UploadsCacheTTL is how long a channel's uploads playlist id is reused.
	UploadsCacheTTL = 24 * time.Hour
	// PlaylistCacheTTL is how long a channel's playlist list is reused for
	// membership lookups within and across runs.
	PlaylistCacheTTL = 10 * time.Minute
)

// TokenProvider supplies bearer tokens for Data API calls.
type TokenProvider interface {
	IsAuthenticated(ctx context.Context) bool
	AccessToken(ctx context.Context) (string, error)
}

// CatalogConfig configures a Catalog.
type CatalogConfig struct {
	// Endpoint overrides the Data API base URL. Empty uses the library default.
	Endpoint string
	// Retry controls backoff for retryable failures.
	Retry retry.Config
	// UploadsTTL and PlaylistsTTL override the cache windows when non-zero.
	UploadsTTL   time.Duration
	PlaylistsTTL time.Duration
}

type playlistRef struct {
	ID    string
	Title string
}

// Catalog implements VideoCatalog over the YouTube Data API v3. Every call
// carries a bearer token obtained from the TokenProvider, so authentication
// errors from a failed refresh surface unchanged.
type Catalog struct {
	service   *youtube.Service
	tokens    TokenProvider
	state     storage.StateStore
	retry     retry.Config
	uploads   *ttlcache.Cache[string, string]
	playlists *ttlcache.Cache[string, []playlistRef]
	log       zerolog.Logger
}

// NewCatalog builds a catalog client. hc supplies timeouts, rate limiting and
// the circuit breaker; it must not add its own authorization.
func NewCatalog(ctx context.Context, tokens TokenProvider, state storage.StateStore, hc *http.Client, cfg CatalogConfig, logger zerolog.Logger) (*Catalog, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	uploadsTTL, playlistsTTL := cfg.UploadsTTL, cfg.PlaylistsTTL
	if uploadsTTL <= 0 {
		uploadsTTL = UploadsCacheTTL
	}
	if playlistsTTL <= 0 {
		playlistsTTL = PlaylistCacheTTL
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	c := &Catalog{
		service: service,
		tokens:  tokens,
		state:   state,
		retry:   cfg.Retry,
		uploads: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](uploadsTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		playlists: ttlcache.New[string, []playlistRef](
			ttlcache.WithTTL[string, []playlistRef](playlistsTTL),
			ttlcache.WithDisableTouchOnHit[string, []playlistRef](),
		),
		log: logger.With().Str("component", "youtube").Logger(),
	}
	go c.uploads.Start()
	go c.playlists.Start()
	return c, nil
}

// Close stops the cache janitors.
func (c *Catalog) Close() {
	c.uploads.Stop()
	c.playlists.Stop()
}

// ChannelID returns the configured channel id, or "" when unset.
func (c *Catalog) ChannelID(ctx context.Context) (string, error) {
	id, _, err := c.state.Get(ctx, storage.KeyChannelID)
	return id, err
}

// IsConfigured reports whether a channel id and an access token are stored.
func (c *Catalog) IsConfigured(ctx context.Context) bool {
	id, err := c.ChannelID(ctx)
	if err != nil || id == "" {
		return false
	}
	return c.tokens.IsAuthenticated(ctx)
}

// ListChannelVideos fetches one page of the channel's uploads collection.
// Entries published before publishedAfter are dropped here because
// playlistItems.list has no server-side date filter.
func (c *Catalog) ListChannelVideos(ctx context.Context, channelID string, pageSize int, pageToken string, publishedAfter time.Time) ([]VideoEntry, string, error) {
	if channelID == "" {
		return nil, "", ErrNotConfigured
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	playlistID, err := c.uploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, "", err
	}

	var resp *youtube.PlaylistItemListResponse
	err = c.call(ctx, "playlistItems.list", func(ctx context.Context, bearer string) error {
		call := c.service.PlaylistItems.List([]string{"snippet"}).
			PlaylistId(playlistID).
			MaxResults(int64(pageSize)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		call.Header().Set("Authorization", bearer)
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, "", err
	}

	entries := make([]VideoEntry, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Snippet == nil || item.Snippet.ResourceId == nil {
			continue
		}
		s := item.Snippet
		entry := VideoEntry{
			ID:          s.ResourceId.VideoId,
			ChannelID:   s.ChannelId,
			Title:       s.Title,
			Description: s.Description,
			PublishedAt: parseTime(s.PublishedAt),
		}
		if !publishedAfter.IsZero() && entry.PublishedAt.Before(publishedAfter) {
			continue
		}
		if entry.ChannelID != channelID {
			c.log.Warn().
				Str("video_id", entry.ID).
				Str("expected_channel", channelID).
				Str("got_channel", entry.ChannelID).
				Msg("Upload belongs to a different channel")
		}
		entries = append(entries, entry)
	}

	c.log.Debug().
		Str("playlist_id", playlistID).
		Int("items", len(resp.Items)).
		Int("kept", len(entries)).
		Msg("Fetched uploads page")
	return entries, resp.NextPageToken, nil
}

// FetchVideoDetails fetches full metadata for ids in one batched call, in
// the provider's response order. Empty input makes no call.
func (c *Catalog) FetchVideoDetails(ctx context.Context, ids []string) ([]Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxPageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyIDs, len(ids), MaxPageSize)
	}

	var resp *youtube.VideoListResponse
	err := c.call(ctx, "videos.list", func(ctx context.Context, bearer string) error {
		call := c.service.Videos.List([]string{"snippet", "contentDetails", "statistics", "status"}).
			Id(ids...).
			Context(ctx)
		call.Header().Set("Authorization", bearer)
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	videos := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		videos = append(videos, convertVideo(item))
	}
	return videos, nil
}

// FetchCollectionsContaining returns the titles of the channel's playlists
// that contain videoID. It costs one call per playlist; the playlist list
// itself is cached for PlaylistCacheTTL. A failed membership check for one
// playlist is skipped.
func (c *Catalog) FetchCollectionsContaining(ctx context.Context, videoID, channelID string) ([]string, error) {
	if channelID == "" {
		return nil, ErrNotConfigured
	}
	playlists, err := c.channelPlaylists(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var titles []string
	for _, pl := range playlists {
		var found bool
		err := c.call(ctx, "playlistItems.list", func(ctx context.Context, bearer string) error {
			call := c.service.PlaylistItems.List([]string{"id"}).
				PlaylistId(pl.ID).
				VideoId(videoID).
				MaxResults(1).
				Context(ctx)
			call.Header().Set("Authorization", bearer)
			resp, err := call.Do()
			if err != nil {
				return err
			}
			found = len(resp.Items) > 0
			return nil
		})
		if err != nil {
			if !isCatalogError(err) {
				return nil, err
			}
			c.log.Debug().Err(err).Str("playlist_id", pl.ID).Str("video_id", videoID).Msg("Membership check failed")
			continue
		}
		if found {
			titles = append(titles, pl.Title)
		}
	}
	return titles, nil
}

func (c *Catalog) uploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	if item := c.uploads.Get(channelID); item != nil {
		return item.Value(), nil
	}

	var playlistID string
	err := c.call(ctx, "channels.list", func(ctx context.Context, bearer string) error {
		call := c.service.Channels.List([]string{"contentDetails"}).
			Id(channelID).
			Context(ctx)
		call.Header().Set("Authorization", bearer)
		resp, err := call.Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil ||
			resp.Items[0].ContentDetails.RelatedPlaylists == nil ||
			resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
			return ErrNoUploadsPlaylist
		}
		playlistID = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
		return nil
	})
	if err != nil {
		return "", err
	}

	c.uploads.Set(channelID, playlistID, ttlcache.DefaultTTL)
	c.log.Debug().Str("channel_id", channelID).Str("playlist_id", playlistID).Msg("Resolved uploads playlist")
	return playlistID, nil
}

func (c *Catalog) channelPlaylists(ctx context.Context, channelID string) ([]playlistRef, error) {
	if item := c.playlists.Get(channelID); item != nil {
		return item.Value(), nil
	}

	var refs []playlistRef
	pageToken := ""
	for {
		var resp *youtube.PlaylistListResponse
		err := c.call(ctx, "playlists.list", func(ctx context.Context, bearer string) error {
			call := c.service.Playlists.List([]string{"snippet"}).
				ChannelId(channelID).
				MaxResults(MaxPageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			call.Header().Set("Authorization", bearer)
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, pl := range resp.Items {
			ref := playlistRef{ID: pl.Id}
			if pl.Snippet != nil {
				ref.Title = pl.Snippet.Title
			}
			refs = append(refs, ref)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	c.playlists.Set(channelID, refs, ttlcache.DefaultTTL)
	return refs, nil
}

// call runs fn with a fresh bearer token under the retry policy and maps
// library errors to APIError or TransportError.
func (c *Catalog) call(ctx context.Context, op string, fn func(ctx context.Context, bearer string) error) error {
	err := retry.Do(ctx, c.retry, isRetryable, func(ctx context.Context) error {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := fn(ctx, "Bearer "+token); err != nil {
			return classify(ctx, op, err)
		}
		return nil
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		c.log.Warn().Err(exhausted.Err).Str("op", op).Int("retries", exhausted.Retries).Msg("Retries exhausted")
		return exhausted.Err
	}
	return err
}

func classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrNoUploadsPlaylist) {
		return err
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Message == "" {
			return &TransportError{Op: op, Status: gErr.Code, Err: err}
		}
		apiErr := &APIError{Code: gErr.Code, Message: gErr.Message}
		if len(gErr.Errors) > 0 {
			apiErr.Reason = gErr.Errors[0].Reason
		}
		return apiErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TransportError{Op: op, Err: err}
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return !errors.Is(err, vhttp.ErrCircuitOpen)
	}
	return false
}

// isCatalogError reports whether err came from the provider or the wire,
// as opposed to authentication or cancellation.
func isCatalogError(err error) bool {
	var apiErr *APIError
	var tErr *TransportError
	return errors.As(err, &apiErr) || errors.As(err, &tErr)
}

func convertVideo(item *youtube.Video) Video {
	v := Video{ID: item.Id}
	if s := item.Snippet; s != nil {
		v.ChannelID = s.ChannelId
		v.Title = s.Title
		v.Description = s.Description
		v.PublishedAt = parseTime(s.PublishedAt)
		v.Tags = s.Tags
		if t := s.Thumbnails; t != nil {
			v.Thumbnails = Thumbnails{
				Default: thumbURL(t.Default),
				Medium:  thumbURL(t.Medium),
				High:    thumbURL(t.High),
				Maxres:  thumbURL(t.Maxres),
			}
		}
	}
	if item.ContentDetails != nil {
		v.Duration = item.ContentDetails.Duration
	}
	if st := item.Statistics; st != nil {
		v.Statistics = &Statistics{
			Views:    int64(st.ViewCount),
			Likes:    int64(st.LikeCount),
			Comments: int64(st.CommentCount),
		}
	}
	if item.Status != nil {
		v.PrivacyStatus = item.Status.PrivacyStatus
	}
	return v
}

func thumbURL(t *youtube.Thumbnail) string {
	if t == nil {
		return ""
	}
	return t.Url
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
