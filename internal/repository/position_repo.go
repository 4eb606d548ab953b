package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/airwavetv/airwave/internal/models"
)

// positionRepo implements PositionRepository using GORM.
type positionRepo struct {
	db *gorm.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *gorm.DB) PositionRepository {
	return &positionRepo{db: db}
}

// Get returns the position for a channel.
func (r *positionRepo) Get(ctx context.Context, channelID models.ULID) (*models.ChannelPlaybackPosition, error) {
	var pos models.ChannelPlaybackPosition
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playback position: %w", err)
	}
	return &pos, nil
}

// Upsert creates or refreshes the position for a channel.
func (r *positionRepo) Upsert(ctx context.Context, pos *models.ChannelPlaybackPosition) error {
	pos.PersistedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"item_index", "media_item_id", "elapsed_seconds",
				"item_started_at", "persisted_at", "updated_at",
			}),
		}).
		Create(pos).Error
	if err != nil {
		return fmt.Errorf("upserting playback position: %w", err)
	}
	return nil
}

// Delete removes the position for a channel.
func (r *positionRepo) Delete(ctx context.Context, channelID models.ULID) error {
	err := r.db.WithContext(ctx).
		Delete(&models.ChannelPlaybackPosition{}, "channel_id = ?", channelID).Error
	if err != nil {
		return fmt.Errorf("deleting playback position: %w", err)
	}
	return nil
}
