package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CollectionCursor is the opaque per-schedule-item progress state carried
// inside the playout anchor: which candidate each item consumes next and
// which shuffle epoch is active. Stored as JSON.
type CollectionCursor struct {
	// ScheduleIndex is the schedule item the next build visit starts at.
	ScheduleIndex int `json:"schedule_index"`

	// Offsets maps schedule item ID to the next candidate index within
	// that item's materialized content list.
	Offsets map[string]int `json:"offsets,omitempty"`

	// Epochs maps schedule item ID to the shuffle epoch. The epoch
	// increments each time a shuffled list is fully consumed, reseeding
	// the permutation.
	Epochs map[string]int `json:"epochs,omitempty"`
}

// Clone returns a deep copy of the cursor.
func (c CollectionCursor) Clone() CollectionCursor {
	out := CollectionCursor{ScheduleIndex: c.ScheduleIndex}
	if c.Offsets != nil {
		out.Offsets = make(map[string]int, len(c.Offsets))
		for k, v := range c.Offsets {
			out.Offsets[k] = v
		}
	}
	if c.Epochs != nil {
		out.Epochs = make(map[string]int, len(c.Epochs))
		for k, v := range c.Epochs {
			out.Epochs[k] = v
		}
	}
	return out
}

// Value implements driver.Valuer, serializing the cursor as JSON.
func (c CollectionCursor) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling collection cursor: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (c *CollectionCursor) Scan(value any) error {
	if value == nil {
		*c = CollectionCursor{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for collection cursor: %T", value)
	}
	if len(data) == 0 {
		*c = CollectionCursor{}
		return nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("unmarshaling collection cursor: %w", err)
	}
	return nil
}

// GormDataType returns the GORM data type for CollectionCursor.
func (CollectionCursor) GormDataType() string {
	return "text"
}

// PlayoutAnchor is the monotonic state that lets timeline generation
// resume deterministically. NextStart never moves backward.
type PlayoutAnchor struct {
	// NextStart is the UTC wall-clock time the next yet-to-be-built item
	// begins. Zero means "no items materialized yet"; builds treat it
	// as now.
	NextStart time.Time `gorm:"column:anchor_next_start" json:"next_start"`

	// Cursor carries collection progress and shuffle state.
	Cursor CollectionCursor `gorm:"column:anchor_cursor;type:text" json:"cursor"`
}

// IsZero reports whether the anchor has never been advanced.
func (a PlayoutAnchor) IsZero() bool {
	return a.NextStart.IsZero()
}

// Playout is the persistent binding of a channel to its schedule, the
// anchor, and the rolling prefix of materialized items.
type Playout struct {
	BaseModel

	ChannelID ULID `gorm:"type:varchar(26);not null;uniqueIndex" json:"channel_id"`

	ScheduleID *ULID `gorm:"type:varchar(26);index" json:"schedule_id,omitempty"`

	Anchor PlayoutAnchor `gorm:"embedded" json:"anchor"`

	Channel  *Channel      `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
	Schedule *Schedule     `gorm:"foreignKey:ScheduleID" json:"schedule,omitempty"`
	Items    []PlayoutItem `gorm:"foreignKey:PlayoutID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// TableName returns the table name for Playout.
func (Playout) TableName() string {
	return "playouts"
}

// Validate performs basic validation on the playout.
func (p *Playout) Validate() error {
	if p.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the playout and generates the ID.
func (p *Playout) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// PlayoutItem is one materialized slot of a channel's timeline. Items for
// one channel are non-overlapping and contiguous; they are the audit and
// EPG record of what is transmitted.
type PlayoutItem struct {
	BaseModel

	PlayoutID ULID `gorm:"type:varchar(26);not null;index:idx_playout_start" json:"playout_id"`

	StartTime  time.Time `gorm:"not null;index:idx_playout_start" json:"start_time"`
	FinishTime time.Time `gorm:"not null" json:"finish_time"`

	Title string `gorm:"size:512;not null" json:"title"`

	// MediaItemID is nil for synthetic items (offline slate, tail filler
	// with no backing media).
	MediaItemID *ULID `gorm:"type:varchar(26)" json:"media_item_id,omitempty"`

	FillerKind FillerKind `gorm:"size:16;default:''" json:"filler_kind,omitempty"`

	// SeekSeconds is a non-zero in-media start offset, used when a fixed
	// start truncated the preceding item or a resume lands mid-media.
	SeekSeconds int `gorm:"default:0" json:"seek_seconds,omitempty"`

	MediaItem *MediaItem `gorm:"foreignKey:MediaItemID" json:"media_item,omitempty"`
}

// TableName returns the table name for PlayoutItem.
func (PlayoutItem) TableName() string {
	return "playout_items"
}

// Duration returns the scheduled length of the item.
func (i *PlayoutItem) Duration() time.Duration {
	return i.FinishTime.Sub(i.StartTime)
}

// Contains reports whether t falls within [StartTime, FinishTime).
func (i *PlayoutItem) Contains(t time.Time) bool {
	return !t.Before(i.StartTime) && t.Before(i.FinishTime)
}

// IsFiller reports whether this item was produced from filler content.
func (i *PlayoutItem) IsFiller() bool {
	return i.FillerKind != FillerKindNone
}

// Validate performs basic validation on the playout item.
func (i *PlayoutItem) Validate() error {
	if i.Title == "" {
		return ErrTitleRequired
	}
	if !i.FinishTime.After(i.StartTime) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the item and generates the ID.
func (i *PlayoutItem) BeforeCreate(tx *gorm.DB) error {
	if err := i.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return i.Validate()
}
