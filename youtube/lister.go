// Package youtube lists a channel's uploads over the YouTube Data API v3 and
// mirrors them into a local content store.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for catalog operations.
var (
	// ErrNotConfigured is returned when no channel id is set or no access token is stored.
	ErrNotConfigured = errors.New("youtube: YouTube API is not configured")
	// ErrTooManyIDs is returned when a detail fetch asks for more than MaxPageSize ids.
	ErrTooManyIDs = errors.New("youtube: too many video ids in one request")
	// ErrNoUploadsPlaylist is returned when the channel has no uploads collection.
	ErrNoUploadsPlaylist = errors.New("youtube: could not find uploads playlist for channel")
)

// MaxPageSize is the largest page and batch size the Data API accepts.
const MaxPageSize = 50

// APIError is a provider-reported error payload ({"error":{"message":...}}).
type APIError struct {
	// Code is the HTTP status of the response.
	Code int
	// Reason is the first error reason, e.g. "quotaExceeded".
	Reason string
	// Message is the provider's message, preserved verbatim.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("YouTube API Error: %s", e.Message)
}

// Temporary reports whether the call may succeed if retried.
func (e *APIError) Temporary() bool {
	switch e.Reason {
	case "rateLimitExceeded", "userRateLimitExceeded", "backendError":
		return true
	}
	return e.Code == 429 || e.Code >= 500
}

// TransportError is a network or HTTP-layer failure with no provider payload.
type TransportError struct {
	// Op names the catalog call, e.g. "playlistItems.list".
	Op string
	// Status is the HTTP status when a response was received, otherwise 0.
	Status int
	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("youtube: %s: HTTP %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("youtube: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// VideoEntry is one item of a channel's uploads collection.
type VideoEntry struct {
	// ID is the remote video id.
	ID string `json:"id"`
	// ChannelID is the channel that owns the entry.
	ChannelID string `json:"channel_id"`
	// Title is the entry title.
	Title string `json:"title"`
	// Description is the entry description.
	Description string `json:"description"`
	// PublishedAt is when the entry was published.
	PublishedAt time.Time `json:"published_at"`
}

// Thumbnails holds the available thumbnail URLs by size. Empty means absent.
type Thumbnails struct {
	Default string `json:"default,omitempty"`
	Medium  string `json:"medium,omitempty"`
	High    string `json:"high,omitempty"`
	Maxres  string `json:"maxres,omitempty"`
}

// Best returns the highest resolution thumbnail, or "" when none exist.
func (t Thumbnails) Best() string {
	for _, url := range []string{t.Maxres, t.High, t.Medium, t.Default} {
		if url != "" {
			return url
		}
	}
	return ""
}

// Statistics holds public counters for a video.
type Statistics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// Video is the full metadata returned by a detail fetch.
type Video struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
	Tags        []string  `json:"tags,omitempty"`
	// Duration is the ISO-8601 content duration, e.g. "PT4M13S".
	Duration   string     `json:"duration"`
	Thumbnails Thumbnails `json:"thumbnails"`
	// Statistics is nil when the response carried no statistics part.
	Statistics    *Statistics `json:"statistics,omitempty"`
	PrivacyStatus string      `json:"privacy_status,omitempty"`
}

// VideoCatalog is the remote side of a sync run.
type VideoCatalog interface {
	// IsConfigured reports whether a channel id and an access token are stored.
	IsConfigured(ctx context.Context) bool
	// ChannelID returns the configured channel id.
	ChannelID(ctx context.Context) (string, error)
	// ListChannelVideos returns one page of the channel's uploads and the next
	// page token. A zero publishedAfter applies no lower bound.
	ListChannelVideos(ctx context.Context, channelID string, pageSize int, pageToken string, publishedAfter time.Time) ([]VideoEntry, string, error)
	// FetchVideoDetails returns full metadata for up to MaxPageSize ids.
	FetchVideoDetails(ctx context.Context, ids []string) ([]Video, error)
	// FetchCollectionsContaining returns the titles of the channel's playlists that contain videoID.
	FetchCollectionsContaining(ctx context.Context, videoID, channelID string) ([]string, error)
}
