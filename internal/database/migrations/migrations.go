// Package migrations manages schema evolution for airwave. Each
// migration is applied inside its own transaction and recorded in the
// schema_migrations table, keyed by version.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// ErrNoRollback is returned by Rollback when the most recent migration
// defines no Down step.
var ErrNoRollback = errors.New("migration does not support rollback")

// Migration is one versioned schema change. Down is optional; without
// it the migration cannot be rolled back.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// MigrationRecord is one row of the applied-migration ledger.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the ledger table name.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// Migrator applies registered migrations against one database.
type Migrator struct {
	db         *gorm.DB
	logger     *slog.Logger
	registered []Migration
}

// NewMigrator creates a Migrator.
func NewMigrator(db *gorm.DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger}
}

// RegisterAll adds migrations to the registry.
func (m *Migrator) RegisterAll(migrations []Migration) {
	m.registered = append(m.registered, migrations...)
}

// Init ensures the ledger table exists.
func (m *Migrator) Init(ctx context.Context) error {
	return m.db.WithContext(ctx).AutoMigrate(&MigrationRecord{})
}

// Up applies every registered migration not yet in the ledger, in
// version order.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("initializing migration ledger: %w", err)
	}

	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		m.logger.InfoContext(ctx, "applying migration",
			slog.String("version", migration.Version),
			slog.String("description", migration.Description))

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     migration.Version,
				Description: migration.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration. A ledger with
// no rows is a no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("initializing migration ledger: %w", err)
	}

	var record MigrationRecord
	err := m.db.WithContext(ctx).Order("version DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading migration ledger: %w", err)
	}

	migration, ok := m.lookup(record.Version)
	if !ok {
		return fmt.Errorf("no registered migration for version %s", record.Version)
	}
	if migration.Down == nil {
		return fmt.Errorf("%w: %s", ErrNoRollback, record.Version)
	}

	m.logger.InfoContext(ctx, "rolling back migration",
		slog.String("version", migration.Version),
		slog.String("description", migration.Description))

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&MigrationRecord{}, "version = ?", record.Version).Error
	})
	if err != nil {
		return fmt.Errorf("rolling back migration %s: %w", record.Version, err)
	}
	return nil
}

// pending returns the registered migrations missing from the ledger,
// sorted by version.
func (m *Migrator) pending(ctx context.Context) ([]Migration, error) {
	var records []MigrationRecord
	if err := m.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	applied := make(map[string]bool, len(records))
	for _, r := range records {
		applied[r.Version] = true
	}

	var out []Migration
	for _, migration := range m.registered {
		if !applied[migration.Version] {
			out = append(out, migration)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// lookup finds a registered migration by version.
func (m *Migrator) lookup(version string) (Migration, bool) {
	for _, migration := range m.registered {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}
