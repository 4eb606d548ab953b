package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/airwavetv/airwave/internal/models"
)

// ErrAnchorRegression is returned when an append would move a playout's
// anchor backward in time.
var ErrAnchorRegression = errors.New("playout anchor must not move backward")

// playoutRepo implements PlayoutRepository using GORM.
type playoutRepo struct {
	db *gorm.DB
}

// NewPlayoutRepository creates a new PlayoutRepository.
func NewPlayoutRepository(db *gorm.DB) PlayoutRepository {
	return &playoutRepo{db: db}
}

// GetOrCreate returns the playout for a channel, creating an empty one
// when none exists.
func (r *playoutRepo) GetOrCreate(ctx context.Context, channelID models.ULID, scheduleID *models.ULID) (*models.Playout, error) {
	existing, err := r.GetByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	playout := &models.Playout{ChannelID: channelID, ScheduleID: scheduleID}
	if err := r.db.WithContext(ctx).Create(playout).Error; err != nil {
		return nil, fmt.Errorf("creating playout: %w", err)
	}
	return playout, nil
}

// GetByChannel returns the playout for a channel.
func (r *playoutRepo) GetByChannel(ctx context.Context, channelID models.ULID) (*models.Playout, error) {
	var playout models.Playout
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&playout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playout by channel: %w", err)
	}
	return &playout, nil
}

// AppendItems persists newly materialized items and the advanced anchor
// in one transaction. Builds are serialized per playout row via the
// anchor check inside the transaction.
func (r *playoutRepo) AppendItems(ctx context.Context, playoutID models.ULID, items []*models.PlayoutItem, anchor models.PlayoutAnchor) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Playout
		if err := tx.Where("id = ?", playoutID).First(&current).Error; err != nil {
			return fmt.Errorf("loading playout for append: %w", err)
		}
		if !current.Anchor.IsZero() && anchor.NextStart.Before(current.Anchor.NextStart) {
			return ErrAnchorRegression
		}

		for _, item := range items {
			item.PlayoutID = playoutID
		}
		if len(items) > 0 {
			if err := tx.Create(items).Error; err != nil {
				return fmt.Errorf("creating playout items: %w", err)
			}
		}

		err := tx.Model(&models.Playout{}).
			Where("id = ?", playoutID).
			Updates(map[string]any{
				"anchor_next_start": anchor.NextStart,
				"anchor_cursor":     anchor.Cursor,
			}).Error
		if err != nil {
			return fmt.Errorf("updating playout anchor: %w", err)
		}
		return nil
	})
}

// ResetAnchor rewrites the anchor and drops items extending past the
// new next start, including one straddling it.
func (r *playoutRepo) ResetAnchor(ctx context.Context, playoutID models.ULID, anchor models.PlayoutAnchor) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Delete(&models.PlayoutItem{},
			"playout_id = ? AND finish_time > ?", playoutID, anchor.NextStart).Error
		if err != nil {
			return fmt.Errorf("deleting superseded playout items: %w", err)
		}

		err = tx.Model(&models.Playout{}).
			Where("id = ?", playoutID).
			Updates(map[string]any{
				"anchor_next_start": anchor.NextStart,
				"anchor_cursor":     anchor.Cursor,
			}).Error
		if err != nil {
			return fmt.Errorf("resetting playout anchor: %w", err)
		}
		return nil
	})
}

// ItemsInWindow returns items overlapping [from, to) ordered by start.
func (r *playoutRepo) ItemsInWindow(ctx context.Context, playoutID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error) {
	var items []*models.PlayoutItem
	err := r.db.WithContext(ctx).
		Preload("MediaItem").
		Where("playout_id = ? AND finish_time > ? AND start_time < ?", playoutID, from, to).
		Order("start_time ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("getting playout items in window: %w", err)
	}
	return items, nil
}

// ItemAt returns the item containing t.
func (r *playoutRepo) ItemAt(ctx context.Context, playoutID models.ULID, t time.Time) (*models.PlayoutItem, error) {
	var item models.PlayoutItem
	err := r.db.WithContext(ctx).
		Preload("MediaItem").
		Where("playout_id = ? AND start_time <= ? AND finish_time > ?", playoutID, t, t).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playout item at time: %w", err)
	}
	return &item, nil
}

// TrimBefore deletes items that finished before the cutoff.
func (r *playoutRepo) TrimBefore(ctx context.Context, playoutID models.ULID, cutoff time.Time) error {
	err := r.db.WithContext(ctx).
		Delete(&models.PlayoutItem{}, "playout_id = ? AND finish_time < ?", playoutID, cutoff).Error
	if err != nil {
		return fmt.Errorf("trimming playout items: %w", err)
	}
	return nil
}
