package models

import (
	"time"

	"gorm.io/gorm"
)

// MediaSource identifies where a media item's bytes come from.
type MediaSource string

const (
	MediaSourceYouTube    MediaSource = "youtube"
	MediaSourceArchiveOrg MediaSource = "archive_org"
	MediaSourcePlex       MediaSource = "plex"
	MediaSourceJellyfin   MediaSource = "jellyfin"
	MediaSourceEmby       MediaSource = "emby"
	MediaSourceLocal      MediaSource = "local"
)

// Valid reports whether the media source is a known value.
func (s MediaSource) Valid() bool {
	switch s {
	case MediaSourceYouTube, MediaSourceArchiveOrg, MediaSourcePlex,
		MediaSourceJellyfin, MediaSourceEmby, MediaSourceLocal:
		return true
	}
	return false
}

// DefaultUnknownDuration is assumed for scheduling when a media item's
// duration has not been probed. The actual finish is observed from FFmpeg
// and the anchor corrected on the next build.
const DefaultUnknownDuration = 30 * time.Minute

// MediaItem is a referentially stable entry in the media catalog.
type MediaItem struct {
	BaseModel

	Source MediaSource `gorm:"size:32;not null;index" json:"source"`

	// SourceID is the identifier within the source system (video ID,
	// library rating key, file path for local media).
	SourceID string `gorm:"size:2048;not null;index:idx_media_source_id" json:"source_id"`

	// LibraryID references the media library this item belongs to, for
	// server-backed sources that need a base URL and token to resolve.
	LibraryID *ULID `gorm:"type:varchar(26);index" json:"library_id,omitempty"`

	// URL is the direct playback URL when known. Server-library sources
	// leave it empty and resolve lazily.
	URL string `gorm:"size:4096" json:"url,omitempty"`

	Title string `gorm:"size:512;not null" json:"title"`

	// DurationSeconds is 0 when unknown; see DefaultUnknownDuration.
	DurationSeconds int `gorm:"default:0" json:"duration_seconds,omitempty"`

	// Episodic metadata.
	ShowTitle     string `gorm:"size:512" json:"show_title,omitempty"`
	SeasonNumber  int    `gorm:"default:0" json:"season_number,omitempty"`
	EpisodeNumber int    `gorm:"default:0" json:"episode_number,omitempty"`

	Description  string     `gorm:"type:text" json:"description,omitempty"`
	Genres       string     `gorm:"size:1024" json:"genres,omitempty"` // comma-separated
	Cast         string     `gorm:"size:2048;column:cast_list" json:"cast,omitempty"` // comma-separated
	AirDate      *time.Time `json:"air_date,omitempty"`
	Rating       string     `gorm:"size:32" json:"rating,omitempty"`
	ThumbnailURL string     `gorm:"size:2048" json:"thumbnail_url,omitempty"`

	// IsFiller marks items intended only as interstitial content.
	IsFiller bool `gorm:"default:false" json:"is_filler"`

	Library *MediaLibrary `gorm:"foreignKey:LibraryID" json:"library,omitempty"`
}

// TableName returns the table name for MediaItem.
func (MediaItem) TableName() string {
	return "media_items"
}

// Duration returns the scheduling duration for this item. Unknown
// durations fall back to DefaultUnknownDuration.
func (m *MediaItem) Duration() time.Duration {
	if m.DurationSeconds <= 0 {
		return DefaultUnknownDuration
	}
	return time.Duration(m.DurationSeconds) * time.Second
}

// HasEpisode reports whether season and episode numbers are both known.
func (m *MediaItem) HasEpisode() bool {
	return m.SeasonNumber > 0 && m.EpisodeNumber > 0
}

// Validate performs basic validation on the media item.
func (m *MediaItem) Validate() error {
	if !m.Source.Valid() {
		return ErrInvalidMediaSource
	}
	if m.Title == "" {
		return ErrTitleRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the item and generates the ID.
func (m *MediaItem) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}
