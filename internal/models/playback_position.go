package models

import (
	"time"

	"gorm.io/gorm"
)

// ChannelPlaybackPosition is the persisted cursor for a channel: which
// item was last transmitted and how far into it playback got. On-demand
// channels resume from it; continuous channels use it to verify the
// global clock after restart.
type ChannelPlaybackPosition struct {
	BaseModel

	ChannelID ULID `gorm:"type:varchar(26);not null;uniqueIndex" json:"channel_id"`

	// ItemIndex is the index of the current item in the materialized
	// playout prefix.
	ItemIndex int `gorm:"not null;default:0" json:"item_index"`

	MediaItemID *ULID `gorm:"type:varchar(26)" json:"media_item_id,omitempty"`

	// ElapsedSeconds is the in-item offset at the last persist.
	ElapsedSeconds int `gorm:"not null;default:0" json:"elapsed_seconds"`

	// ItemStartedAt is the wall-clock time the current item began.
	ItemStartedAt time.Time `json:"item_started_at"`

	// PersistedAt is when this row was last refreshed by the stream.
	PersistedAt time.Time `json:"persisted_at"`
}

// TableName returns the table name for ChannelPlaybackPosition.
func (ChannelPlaybackPosition) TableName() string {
	return "channel_playback_positions"
}

// Validate performs basic validation on the position.
func (p *ChannelPlaybackPosition) Validate() error {
	if p.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the position and generates the ID.
func (p *ChannelPlaybackPosition) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
