package models

import "gorm.io/gorm"

// MediaLibrary holds connection details for a media-server library
// (Plex, Jellyfin, Emby) or a local directory. The resolver uses the
// base URL and token to turn catalog entries into playable URLs.
type MediaLibrary struct {
	BaseModel

	Name string `gorm:"size:255;not null" json:"name"`

	Source MediaSource `gorm:"size:32;not null" json:"source"`

	// BaseURL of the media server, e.g. "http://plex.local:32400".
	// For local libraries this is the root directory path.
	BaseURL string `gorm:"size:2048;not null" json:"base_url"`

	// AccessToken authenticates resolution requests. Never serialized.
	AccessToken string `gorm:"size:512" json:"-"`

	// LibraryKey is the section/library identifier within the server.
	LibraryKey string `gorm:"size:255" json:"library_key,omitempty"`

	Enabled *bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for MediaLibrary.
func (MediaLibrary) TableName() string {
	return "media_libraries"
}

// IsEnabled reports whether the library is enabled (default true).
func (l *MediaLibrary) IsEnabled() bool {
	return BoolVal(l.Enabled)
}

// Validate performs basic validation on the library.
func (l *MediaLibrary) Validate() error {
	if l.Name == "" {
		return ErrNameRequired
	}
	if !l.Source.Valid() {
		return ErrInvalidMediaSource
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the library and generates the ID.
func (l *MediaLibrary) BeforeCreate(tx *gorm.DB) error {
	if err := l.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return l.Validate()
}
