package storage

import "time"

// Taxonomy names a label set a record can be assigned to.
type Taxonomy struct {
	// Name is the taxonomy key, e.g. "nvm_video_tag".
	Name string `json:"name"`
	// Hierarchical taxonomies allow nested labels (categories); flat ones do not (tags).
	Hierarchical bool `json:"hierarchical"`
}

// Taxonomies written by the sync engine.
var (
	// TagTaxonomy holds free-text video tags.
	TagTaxonomy = Taxonomy{Name: "nvm_video_tag"}
	// CategoryTaxonomy holds playlist titles.
	CategoryTaxonomy = Taxonomy{Name: "nvm_video_category", Hierarchical: true}
	// TypeTaxonomy holds the duration-based classification.
	TypeTaxonomy = Taxonomy{Name: "nvm_video_type"}
)

// Record field names.
const (
	FieldYouTubeID           = "nvm_youtube_id"
	FieldYouTubeURL          = "nvm_youtube_url"
	FieldDuration            = "nvm_duration"
	FieldPublishedAt         = "nvm_published_at"
	FieldViewCount           = "nvm_view_count"
	FieldLikeCount           = "nvm_like_count"
	FieldCommentCount        = "nvm_comment_count"
	FieldLastSynced          = "nvm_last_synced"
	FieldDescriptionModified = "nvm_description_modified"

	// FieldThumbnailSource is stored on an attachment and records the URL it was fetched from.
	FieldThumbnailSource = "_nvm_thumbnail_url"
)

// State store keys.
const (
	KeyClientID        = "nvm_oauth_client_id"
	KeyClientSecret    = "nvm_oauth_client_secret"
	KeyAccessToken     = "nvm_oauth_access_token"
	KeyRefreshToken    = "nvm_oauth_refresh_token"
	KeyExpiresAt       = "nvm_oauth_expires_at"
	KeyAuthenticatedAt = "nvm_oauth_authenticated_at"
	KeyChannelID       = "nvm_youtube_channel_id"
	KeyLastSyncTime    = "nvm_last_sync_time"
	KeyAutoSync        = "nvm_auto_sync"
	KeySyncFrequency   = "nvm_sync_frequency"
)

// Entry carries the core fields of a record for Create and Update.
type Entry struct {
	// ExternalID is the remote video id. Create stores it with the record so
	// FindByExternalID sees the record as soon as it exists.
	ExternalID string
	// Title is the record title.
	Title string
	// Description replaces the record body. Nil leaves the stored body unchanged.
	Description *string
	// PublishedAt is the record's publish date.
	PublishedAt time.Time
}

// Record is a local video record or attachment as held by the content store.
type Record struct {
	// ID is the local identifier (UUID).
	ID string `json:"id"`
	// Kind is "video" or "attachment".
	Kind string `json:"kind"`
	// ParentID links an attachment to its record.
	ParentID string `json:"parent_id,omitempty"`
	// Title is the record title.
	Title string `json:"title"`
	// Description is the record body.
	Description string `json:"description,omitempty"`
	// PublishedAt is the record's publish date.
	PublishedAt time.Time `json:"published_at"`
	// SourceURL is the origin of an attachment.
	SourceURL string `json:"source_url,omitempty"`
	// Path is where an attachment's bytes were written, if they were downloaded.
	Path string `json:"path,omitempty"`
	// FeaturedMediaID is the record's featured attachment.
	FeaturedMediaID string `json:"featured_media_id,omitempty"`
	// Fields holds side fields keyed by name.
	Fields map[string]string `json:"fields,omitempty"`
	// Labels maps a taxonomy name to assigned label ids.
	Labels map[string][]string `json:"labels,omitempty"`
	// CreatedAt is when this record was first stored.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when this record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Record kinds.
const (
	KindVideo      = "video"
	KindAttachment = "attachment"
)

// Label is a taxonomy term.
type Label struct {
	// ID is the term slug, unique within its taxonomy.
	ID string `json:"id"`
	// Taxonomy is the owning taxonomy name.
	Taxonomy string `json:"taxonomy"`
	// Name is the display name.
	Name string `json:"name"`
	// ParentID is the parent term in hierarchical taxonomies.
	ParentID string `json:"parent_id,omitempty"`
}
