package models

import "gorm.io/gorm"

// CollectionKind distinguishes the grouping models a schedule item can
// reference. Shows, seasons and artists are resolved directly against
// media item metadata and need no collection row.
type CollectionKind string

const (
	CollectionKindPlaylist CollectionKind = "playlist"
	CollectionKindManual   CollectionKind = "manual"
	CollectionKindSmart    CollectionKind = "smart"
	CollectionKindMulti    CollectionKind = "multi"
)

// Valid reports whether the kind is a known value.
func (k CollectionKind) Valid() bool {
	switch k {
	case CollectionKindPlaylist, CollectionKindManual, CollectionKindSmart, CollectionKindMulti:
		return true
	}
	return false
}

// Collection groups media items for scheduling. Playlists and manual
// collections enumerate members; smart collections store a query; multi
// collections reference child collections.
type Collection struct {
	BaseModel

	Name string `gorm:"size:255;not null" json:"name"`

	Kind CollectionKind `gorm:"size:16;not null;default:manual" json:"kind"`

	// Query holds the smart-collection expression, e.g.
	// `genre = "western" AND rating >= "PG"`. Only used for kind smart.
	Query string `gorm:"size:2048" json:"query,omitempty"`

	Members []CollectionMember `gorm:"foreignKey:CollectionID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
}

// TableName returns the table name for Collection.
func (Collection) TableName() string {
	return "collections"
}

// Validate performs basic validation on the collection.
func (c *Collection) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if !c.Kind.Valid() {
		return ErrValidation{Field: "kind", Message: "unknown collection kind"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the collection and generates the ID.
func (c *Collection) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// CollectionMember is one entry of a collection: either a media item or,
// for multi collections, a child collection.
type CollectionMember struct {
	BaseModel

	CollectionID ULID `gorm:"type:varchar(26);not null;index:idx_collection_position" json:"collection_id"`

	Position int `gorm:"not null;default:0;index:idx_collection_position" json:"position"`

	MediaItemID       *ULID `gorm:"type:varchar(26)" json:"media_item_id,omitempty"`
	ChildCollectionID *ULID `gorm:"type:varchar(26)" json:"child_collection_id,omitempty"`

	MediaItem *MediaItem `gorm:"foreignKey:MediaItemID" json:"media_item,omitempty"`
}

// TableName returns the table name for CollectionMember.
func (CollectionMember) TableName() string {
	return "collection_members"
}

// Validate performs basic validation on the member.
func (m *CollectionMember) Validate() error {
	if m.CollectionID.IsZero() {
		return ErrValidation{Field: "collection_id", Message: "collection_id is required"}
	}
	if m.MediaItemID == nil && m.ChildCollectionID == nil {
		return ErrValidation{Field: "media_item_id", Message: "member must reference a media item or child collection"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the member and generates the ID.
func (m *CollectionMember) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}
