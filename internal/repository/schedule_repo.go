package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/airwavetv/airwave/internal/models"
)

// scheduleRepo implements ScheduleRepository using GORM.
type scheduleRepo struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(db *gorm.DB) ScheduleRepository {
	return &scheduleRepo{db: db}
}

// Create creates a schedule together with its items.
func (r *scheduleRepo) Create(ctx context.Context, schedule *models.Schedule) error {
	if err := r.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}
	return nil
}

// GetByID retrieves a schedule with its items ordered by position.
func (r *scheduleRepo) GetByID(ctx context.Context, id models.ULID) (*models.Schedule, error) {
	var schedule models.Schedule
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		First(&schedule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting schedule by ID: %w", err)
	}
	return &schedule, nil
}

// GetAll retrieves all schedules without items.
func (r *scheduleRepo) GetAll(ctx context.Context) ([]*models.Schedule, error) {
	var schedules []*models.Schedule
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("getting all schedules: %w", err)
	}
	return schedules, nil
}

// Delete deletes a schedule and its items.
func (r *scheduleRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ScheduleItem{}, "schedule_id = ?", id).Error; err != nil {
			return fmt.Errorf("deleting schedule items: %w", err)
		}
		if err := tx.Delete(&models.Schedule{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("deleting schedule: %w", err)
		}
		return nil
	})
}
