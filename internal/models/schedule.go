package models

import (
	"time"

	"gorm.io/gorm"
)

// CollectionType selects how a schedule item resolves its content list.
type CollectionType string

const (
	CollectionTypeSingleMedia     CollectionType = "single_media"
	CollectionTypePlaylist        CollectionType = "playlist"
	CollectionTypeCollection      CollectionType = "collection"
	CollectionTypeSmartCollection CollectionType = "smart_collection"
	CollectionTypeTVShow          CollectionType = "tv_show"
	CollectionTypeTVSeason        CollectionType = "tv_season"
	CollectionTypeArtist          CollectionType = "artist"
	CollectionTypeMultiCollection CollectionType = "multi_collection"
)

// Valid reports whether the collection type is a known value.
func (t CollectionType) Valid() bool {
	switch t {
	case CollectionTypeSingleMedia, CollectionTypePlaylist, CollectionTypeCollection,
		CollectionTypeSmartCollection, CollectionTypeTVShow, CollectionTypeTVSeason,
		CollectionTypeArtist, CollectionTypeMultiCollection:
		return true
	}
	return false
}

// PlaybackMode controls how many candidates a schedule item consumes per visit.
type PlaybackMode string

const (
	// PlaybackModeOne emits exactly one candidate, then moves on.
	PlaybackModeOne PlaybackMode = "one"
	// PlaybackModeMultiple emits a fixed count of candidates.
	PlaybackModeMultiple PlaybackMode = "multiple"
	// PlaybackModeDuration emits candidates until a cumulative duration is reached.
	PlaybackModeDuration PlaybackMode = "duration"
	// PlaybackModeFlood emits candidates until the next fixed-start boundary
	// or the horizon is exhausted.
	PlaybackModeFlood PlaybackMode = "flood"
)

// Valid reports whether the playback mode is a known value.
func (m PlaybackMode) Valid() bool {
	switch m {
	case PlaybackModeOne, PlaybackModeMultiple, PlaybackModeDuration, PlaybackModeFlood:
		return true
	}
	return false
}

// PlaybackOrder controls candidate ordering within a schedule item.
type PlaybackOrder string

const (
	PlaybackOrderChronological  PlaybackOrder = "chronological"
	PlaybackOrderShuffled       PlaybackOrder = "shuffled"
	PlaybackOrderRandom         PlaybackOrder = "random"
	PlaybackOrderShuffleInOrder PlaybackOrder = "shuffle_in_order"
	PlaybackOrderSeasonEpisode  PlaybackOrder = "season_episode"
)

// Valid reports whether the playback order is a known value.
func (o PlaybackOrder) Valid() bool {
	switch o {
	case PlaybackOrderChronological, PlaybackOrderShuffled, PlaybackOrderRandom,
		PlaybackOrderShuffleInOrder, PlaybackOrderSeasonEpisode:
		return true
	}
	return false
}

// FixedStartBehavior selects what happens when the build cursor would
// overshoot a fixed start time.
type FixedStartBehavior string

const (
	// FixedStartImmediately truncates the previous item at the fixed start.
	FixedStartImmediately FixedStartBehavior = "start_immediately"
	// FixedStartSkipItem drops the fixed item when its start was missed.
	FixedStartSkipItem FixedStartBehavior = "skip_item"
	// FixedStartWaitForNext inserts tail filler until the fixed start.
	FixedStartWaitForNext FixedStartBehavior = "wait_for_next"
)

// Valid reports whether the behavior is a known value.
func (b FixedStartBehavior) Valid() bool {
	switch b {
	case FixedStartImmediately, FixedStartSkipItem, FixedStartWaitForNext:
		return true
	}
	return false
}

// FillerKind tags a playout item produced from filler content.
type FillerKind string

const (
	FillerKindNone     FillerKind = ""
	FillerKindPreRoll  FillerKind = "pre_roll"
	FillerKindMidRoll  FillerKind = "mid_roll"
	FillerKindPostRoll FillerKind = "post_roll"
	FillerKindTail     FillerKind = "tail"
	FillerKindFallback FillerKind = "fallback"
	FillerKindOffline  FillerKind = "offline"
)

// Schedule is a named ordered sequence of schedule items. The timeline
// builder cycles through the items to materialize a channel's playout.
type Schedule struct {
	BaseModel

	Name string `gorm:"size:255;not null" json:"name"`

	// Items in build order. Position is authoritative, not creation time.
	Items []ScheduleItem `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// TableName returns the table name for Schedule.
func (Schedule) TableName() string {
	return "schedules"
}

// Validate performs basic validation on the schedule.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the schedule and generates the ID.
func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// ScheduleItem selects content and defines how it is consumed when the
// build cursor visits it.
type ScheduleItem struct {
	BaseModel

	ScheduleID ULID `gorm:"type:varchar(26);not null;index" json:"schedule_id"`

	// Position orders items within the schedule, starting at 0.
	Position int `gorm:"not null;default:0;index" json:"position"`

	CollectionType CollectionType `gorm:"size:32;not null" json:"collection_type"`

	// CollectionID references the playlist/show/season/collection selected
	// by CollectionType. For single_media it is the media item ID.
	CollectionID ULID `gorm:"type:varchar(26);not null" json:"collection_id"`

	PlaybackMode PlaybackMode `gorm:"size:16;not null;default:one" json:"playback_mode"`

	// PlaybackCount is the candidate count for mode "multiple".
	PlaybackCount int `gorm:"default:1" json:"playback_count,omitempty"`

	// PlaybackDuration is the cumulative target for mode "duration",
	// stored in seconds.
	PlaybackDurationSeconds int `gorm:"default:0" json:"playback_duration_seconds,omitempty"`

	PlaybackOrder PlaybackOrder `gorm:"size:32;not null;default:chronological" json:"playback_order"`

	// FixedStartTime, when set, pins this item's start to a time of day
	// (stored as "15:04" UTC). Empty means dynamic start.
	FixedStartTime string `gorm:"size:8" json:"fixed_start_time,omitempty"`

	FixedStartBehavior FixedStartBehavior `gorm:"size:32;default:wait_for_next" json:"fixed_start_behavior,omitempty"`

	// Filler references. All optional; each points at a media item played
	// around the main content.
	PreRollFillerID  *ULID `gorm:"type:varchar(26)" json:"pre_roll_filler_id,omitempty"`
	MidRollFillerID  *ULID `gorm:"type:varchar(26)" json:"mid_roll_filler_id,omitempty"`
	PostRollFillerID *ULID `gorm:"type:varchar(26)" json:"post_roll_filler_id,omitempty"`
	TailFillerID     *ULID `gorm:"type:varchar(26)" json:"tail_filler_id,omitempty"`
	FallbackFillerID *ULID `gorm:"type:varchar(26)" json:"fallback_filler_id,omitempty"`

	// MidRollFrequencyMinutes controls mid-roll interleave spacing.
	MidRollFrequencyMinutes int `gorm:"default:0" json:"mid_roll_frequency_minutes,omitempty"`

	// CustomTitle overrides the media title in the EPG when set.
	CustomTitle string `gorm:"size:512" json:"custom_title,omitempty"`
}

// TableName returns the table name for ScheduleItem.
func (ScheduleItem) TableName() string {
	return "schedule_items"
}

// PlaybackDuration returns the duration-mode target as a time.Duration.
func (i *ScheduleItem) PlaybackDuration() time.Duration {
	return time.Duration(i.PlaybackDurationSeconds) * time.Second
}

// Validate performs basic validation on the schedule item.
func (i *ScheduleItem) Validate() error {
	if i.ScheduleID.IsZero() {
		return ErrScheduleIDRequired
	}
	if !i.CollectionType.Valid() {
		return ErrInvalidCollectionType
	}
	if !i.PlaybackMode.Valid() {
		return ErrInvalidPlaybackMode
	}
	if !i.PlaybackOrder.Valid() {
		return ErrInvalidPlaybackOrder
	}
	if i.FixedStartTime != "" && !i.FixedStartBehavior.Valid() {
		return ErrInvalidFixedStartBehavior
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the item and generates the ID.
func (i *ScheduleItem) BeforeCreate(tx *gorm.DB) error {
	if err := i.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return i.Validate()
}
