package models

import (
	"strings"

	"gorm.io/gorm"
)

// PlayoutMode controls how a channel's timeline relates to wall-clock time.
type PlayoutMode string

const (
	// PlayoutModeContinuous transmits on a global wall clock; joining
	// clients see whatever is "now".
	PlayoutModeContinuous PlayoutMode = "continuous"
	// PlayoutModeOnDemand resumes from where the last client left off.
	PlayoutModeOnDemand PlayoutMode = "on_demand"
)

// Valid reports whether the playout mode is a known value.
func (m PlayoutMode) Valid() bool {
	return m == PlayoutModeContinuous || m == PlayoutModeOnDemand
}

// Channel represents one virtual TV channel presented through the tuner
// surface. The playout core treats channels as immutable; edits arrive
// through the CRUD collaborator and are observed on next read.
type Channel struct {
	BaseModel

	// Number is the stable channel number clients tune to ("2", "7.1").
	Number string `gorm:"size:32;not null;uniqueIndex" json:"number"`

	// Name is the display name shown in lineups and the EPG.
	Name string `gorm:"size:512;not null" json:"name"`

	// Enabled channels appear in the lineup and may be streamed.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// PlayoutMode selects continuous or on-demand playout.
	PlayoutMode PlayoutMode `gorm:"size:32;not null;default:continuous" json:"playout_mode"`

	// GroupTitle is an optional category used in M3U output.
	GroupTitle string `gorm:"size:255" json:"group_title,omitempty"`

	// LogoURL is an optional channel logo.
	LogoURL string `gorm:"size:2048" json:"logo_url,omitempty"`

	// StopOnIdle controls whether the stream is torn down after the idle
	// grace period with no subscribers. Continuous channels may be kept hot.
	StopOnIdle *bool `gorm:"default:true" json:"stop_on_idle"`

	// ScheduleID binds the channel to a schedule. Nil means no schedule;
	// the EPG emits a placeholder and the stream serves the offline slate.
	ScheduleID *ULID `gorm:"type:varchar(26);index" json:"schedule_id,omitempty"`

	// FFmpegProfileID selects transcode settings for this channel.
	FFmpegProfileID *ULID `gorm:"type:varchar(26)" json:"ffmpeg_profile_id,omitempty"`

	// WatermarkID selects an optional overlay rendered onto the output.
	WatermarkID *ULID `gorm:"type:varchar(26)" json:"watermark_id,omitempty"`

	Schedule      *Schedule      `gorm:"foreignKey:ScheduleID" json:"schedule,omitempty"`
	FFmpegProfile *FFmpegProfile `gorm:"foreignKey:FFmpegProfileID" json:"ffmpeg_profile,omitempty"`
	Watermark     *Watermark     `gorm:"foreignKey:WatermarkID" json:"watermark,omitempty"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// IsEnabled reports whether the channel is enabled (default true).
func (c *Channel) IsEnabled() bool {
	return BoolVal(c.Enabled)
}

// GuideName returns the lineup display name with a leading channel-number
// prefix stripped, so guides do not render the number twice.
func (c *Channel) GuideName() string {
	name := strings.TrimSpace(c.Name)
	prefix := c.Number + " "
	if strings.HasPrefix(name, prefix) {
		if stripped := strings.TrimSpace(strings.TrimPrefix(name, prefix)); stripped != "" {
			return stripped
		}
	}
	return name
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Number == "" {
		return ErrNumberRequired
	}
	if c.Name == "" {
		return ErrNameRequired
	}
	if !c.PlayoutMode.Valid() {
		return ErrInvalidPlayoutMode
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates the ID.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}
