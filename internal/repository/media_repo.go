package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/airwavetv/airwave/internal/models"
)

// mediaRepo implements MediaRepository using GORM.
type mediaRepo struct {
	db *gorm.DB
}

// NewMediaRepository creates a new MediaRepository.
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &mediaRepo{db: db}
}

// GetByID retrieves a media item by ID.
func (r *mediaRepo) GetByID(ctx context.Context, id models.ULID) (*models.MediaItem, error) {
	var item models.MediaItem
	err := r.db.WithContext(ctx).Preload("Library").Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media item by ID: %w", err)
	}
	return &item, nil
}

// GetCollection retrieves a collection with its members ordered by position.
func (r *mediaRepo) GetCollection(ctx context.Context, id models.ULID) (*models.Collection, error) {
	var collection models.Collection
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Members.MediaItem").
		Where("id = ?", id).
		First(&collection).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting collection by ID: %w", err)
	}
	return &collection, nil
}

// CollectionItems resolves the ordered media items of a collection.
// Smart collections run their stored query; multi collections are
// expanded one level deep.
func (r *mediaRepo) CollectionItems(ctx context.Context, id models.ULID) ([]*models.MediaItem, error) {
	collection, err := r.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, nil
	}

	if collection.Kind == models.CollectionKindSmart {
		return r.smartQueryItems(ctx, collection.Query)
	}

	var items []*models.MediaItem
	for _, member := range collection.Members {
		switch {
		case member.MediaItemID != nil:
			if member.MediaItem != nil {
				items = append(items, member.MediaItem)
				continue
			}
			item, err := r.GetByID(ctx, *member.MediaItemID)
			if err != nil {
				return nil, err
			}
			if item != nil {
				items = append(items, item)
			}
		case member.ChildCollectionID != nil:
			child, err := r.GetCollection(ctx, *member.ChildCollectionID)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			for _, cm := range child.Members {
				if cm.MediaItem != nil {
					items = append(items, cm.MediaItem)
				}
			}
		}
	}
	return items, nil
}

// smartQueryItems evaluates a smart-collection query. The query language
// is a conjunction of field matchers, e.g.
// `genre=western rating=PG show="Gunsmoke"`; unknown fields are ignored.
func (r *mediaRepo) smartQueryItems(ctx context.Context, query string) ([]*models.MediaItem, error) {
	tx := r.db.WithContext(ctx).Model(&models.MediaItem{})

	for _, clause := range strings.Fields(query) {
		field, value, ok := strings.Cut(clause, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch strings.ToLower(field) {
		case "genre":
			tx = tx.Where("genres LIKE ?", "%"+value+"%")
		case "rating":
			tx = tx.Where("rating = ?", value)
		case "show":
			tx = tx.Where("show_title = ?", value)
		case "source":
			tx = tx.Where("source = ?", value)
		case "filler":
			tx = tx.Where("is_filler = ?", value == "true")
		}
	}

	var items []*models.MediaItem
	if err := tx.Order("air_date ASC, title ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("running smart collection query: %w", err)
	}
	return items, nil
}

// ArtistItems retrieves all items featuring the artist referenced by the
// given media item, matched against the cast list.
func (r *mediaRepo) ArtistItems(ctx context.Context, artistRef models.ULID) ([]*models.MediaItem, error) {
	ref, err := r.GetByID(ctx, artistRef)
	if err != nil {
		return nil, err
	}
	if ref == nil || ref.Cast == "" {
		return nil, nil
	}
	artist := strings.TrimSpace(strings.SplitN(ref.Cast, ",", 2)[0])

	var items []*models.MediaItem
	err = r.db.WithContext(ctx).
		Where("cast_list LIKE ?", "%"+artist+"%").
		Order("air_date ASC, title ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("getting artist items: %w", err)
	}
	return items, nil
}

// ShowEpisodes retrieves all episodes of a show ordered by season and
// episode number. showID references any media item of the show; episodes
// are matched by show title.
func (r *mediaRepo) ShowEpisodes(ctx context.Context, showID models.ULID) ([]*models.MediaItem, error) {
	ref, err := r.GetByID(ctx, showID)
	if err != nil {
		return nil, err
	}
	if ref == nil || ref.ShowTitle == "" {
		return nil, nil
	}

	var items []*models.MediaItem
	err = r.db.WithContext(ctx).
		Where("show_title = ?", ref.ShowTitle).
		Order("season_number ASC, episode_number ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("getting show episodes: %w", err)
	}
	return items, nil
}

// SeasonEpisodes retrieves the episodes of one season ordered by episode
// number. seasonID references any episode of the season.
func (r *mediaRepo) SeasonEpisodes(ctx context.Context, seasonID models.ULID) ([]*models.MediaItem, error) {
	ref, err := r.GetByID(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if ref == nil || ref.ShowTitle == "" {
		return nil, nil
	}

	var items []*models.MediaItem
	err = r.db.WithContext(ctx).
		Where("show_title = ? AND season_number = ?", ref.ShowTitle, ref.SeasonNumber).
		Order("episode_number ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("getting season episodes: %w", err)
	}
	return items, nil
}

// GetLibrary retrieves a media library by ID.
func (r *mediaRepo) GetLibrary(ctx context.Context, id models.ULID) (*models.MediaLibrary, error) {
	var library models.MediaLibrary
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&library).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media library by ID: %w", err)
	}
	return &library, nil
}
