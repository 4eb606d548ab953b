package migrations

import (
	"gorm.io/gorm"

	"github.com/airwavetv/airwave/internal/models"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002DefaultProfile(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
// Schema evolution must preserve playout anchors, so later migrations
// never drop or rewrite the playouts table.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				// Catalog
				&models.MediaLibrary{},
				&models.MediaItem{},
				&models.Collection{},
				&models.CollectionMember{},

				// Scheduling
				&models.Schedule{},
				&models.ScheduleItem{},

				// Channels
				&models.FFmpegProfile{},
				&models.Watermark{},
				&models.Channel{},

				// Playout state
				&models.Playout{},
				&models.PlayoutItem{},
				&models.ChannelPlaybackPosition{},
			)
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.ChannelPlaybackPosition{},
				&models.PlayoutItem{},
				&models.Playout{},
				&models.Channel{},
				&models.Watermark{},
				&models.FFmpegProfile{},
				&models.ScheduleItem{},
				&models.Schedule{},
				&models.CollectionMember{},
				&models.Collection{},
				&models.MediaItem{},
				&models.MediaLibrary{},
			)
		},
	}
}

// migration002DefaultProfile seeds the built-in transcode profile used by
// channels that do not select one.
func migration002DefaultProfile() Migration {
	return Migration{
		Version:     "002",
		Description: "Seed default FFmpeg profile",
		Up: func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&models.FFmpegProfile{}).
				Where("name = ?", "default").Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
			return tx.Create(&models.FFmpegProfile{
				Name:       "default",
				VideoCodec: "libx264",
				AudioCodec: "aac",
				Preset:     "veryfast",
			}).Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Where("name = ?", "default").Delete(&models.FFmpegProfile{}).Error
		},
	}
}
