// Package repository defines data access interfaces for airwave entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/airwavetv/airwave/internal/models"
)

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// GetByID retrieves a channel by ID, or nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByNumber retrieves a channel by its tuning number, or nil when absent.
	GetByNumber(ctx context.Context, number string) (*models.Channel, error)
	// GetAll retrieves all channels ordered by number.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// GetEnabled retrieves all enabled channels ordered by number.
	GetEnabled(ctx context.Context) ([]*models.Channel, error)
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// Delete deletes a channel by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// ScheduleRepository defines operations for schedule persistence.
type ScheduleRepository interface {
	// Create creates a schedule together with its items.
	Create(ctx context.Context, schedule *models.Schedule) error
	// GetByID retrieves a schedule with its items ordered by position,
	// or nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Schedule, error)
	// GetAll retrieves all schedules without items.
	GetAll(ctx context.Context) ([]*models.Schedule, error)
	// Delete deletes a schedule and its items.
	Delete(ctx context.Context, id models.ULID) error
}

// PlayoutRepository defines operations for playout state persistence.
// Anchor updates always travel in the same transaction as the items
// they produced, so two builders can never consume the same anchor
// segment.
type PlayoutRepository interface {
	// GetOrCreate returns the playout for a channel, creating an empty
	// one bound to the given schedule when none exists.
	GetOrCreate(ctx context.Context, channelID models.ULID, scheduleID *models.ULID) (*models.Playout, error)
	// GetByChannel returns the playout for a channel, or nil when absent.
	GetByChannel(ctx context.Context, channelID models.ULID) (*models.Playout, error)
	// AppendItems persists newly materialized items and the advanced
	// anchor atomically. It fails if the anchor would move backward.
	AppendItems(ctx context.Context, playoutID models.ULID, items []*models.PlayoutItem, anchor models.PlayoutAnchor) error
	// ResetAnchor rewrites the anchor and deletes materialized items
	// extending past the new next start. Used when an on-demand channel
	// is re-based to "now".
	ResetAnchor(ctx context.Context, playoutID models.ULID, anchor models.PlayoutAnchor) error
	// ItemsInWindow returns items overlapping [from, to) ordered by start.
	ItemsInWindow(ctx context.Context, playoutID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error)
	// ItemAt returns the item containing t, or nil when none does.
	ItemAt(ctx context.Context, playoutID models.ULID, t time.Time) (*models.PlayoutItem, error)
	// TrimBefore deletes items that finished before the cutoff,
	// bounding the rolling prefix.
	TrimBefore(ctx context.Context, playoutID models.ULID, cutoff time.Time) error
}

// MediaRepository defines read operations against the media catalog.
type MediaRepository interface {
	// GetByID retrieves a media item by ID, or nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.MediaItem, error)
	// GetCollection retrieves a collection with its members ordered by
	// position, or nil when absent.
	GetCollection(ctx context.Context, id models.ULID) (*models.Collection, error)
	// CollectionItems resolves the ordered media items of a collection.
	// Smart collections run their stored query; multi collections are
	// expanded one level deep.
	CollectionItems(ctx context.Context, id models.ULID) ([]*models.MediaItem, error)
	// ArtistItems retrieves all items featuring the artist referenced by
	// the given media item, ordered by air date.
	ArtistItems(ctx context.Context, artistRef models.ULID) ([]*models.MediaItem, error)
	// ShowEpisodes retrieves all episodes of a show ordered by season
	// and episode number.
	ShowEpisodes(ctx context.Context, showID models.ULID) ([]*models.MediaItem, error)
	// SeasonEpisodes retrieves the episodes of one season ordered by
	// episode number.
	SeasonEpisodes(ctx context.Context, seasonID models.ULID) ([]*models.MediaItem, error)
	// GetLibrary retrieves a media library by ID, or nil when absent.
	GetLibrary(ctx context.Context, id models.ULID) (*models.MediaLibrary, error)
}

// PositionRepository defines operations for playback position persistence.
type PositionRepository interface {
	// Get returns the position for a channel, or nil when absent.
	Get(ctx context.Context, channelID models.ULID) (*models.ChannelPlaybackPosition, error)
	// Upsert creates or refreshes the position for a channel.
	Upsert(ctx context.Context, pos *models.ChannelPlaybackPosition) error
	// Delete removes the position for a channel.
	Delete(ctx context.Context, channelID models.ULID) error
}
