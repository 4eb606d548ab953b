// Package service hosts the operational services that run beside the
// playout core: scheduled database backups and the self-heal action
// adapter.
package service

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/airwavetv/airwave/internal/config"
	"github.com/airwavetv/airwave/internal/observability"
)

// backupTimeFormat is the timestamp embedded in backup filenames.
const backupTimeFormat = "2006-01-02T15-04-05.000"

var backupNameRe = regexp.MustCompile(`^airwave-backup-(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3})\.db(\.gz)?$`)

// BackupMetadata describes one backup file on disk.
type BackupMetadata struct {
	Filename   string    `json:"filename"`
	FilePath   string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	Compressed bool      `json:"compressed"`
}

// BackupService creates consistent SQLite backups on a schedule and
// enforces the retention policy.
type BackupService struct {
	db     *gorm.DB
	dbCfg  config.DatabaseConfig
	cfg    config.BackupConfig
	dir    string
	logger *slog.Logger
	cron   *cron.Cron
}

// NewBackupService creates a backup service. When no directory is
// configured, backups live in a backups/ directory next to the
// database file.
func NewBackupService(db *gorm.DB, dbCfg config.DatabaseConfig, cfg config.BackupConfig, logger *slog.Logger) *BackupService {
	if logger == nil {
		logger = slog.Default()
	}
	dir := cfg.Directory
	if dir == "" {
		dir = filepath.Join(filepath.Dir(dbCfg.DSN), "backups")
	}
	return &BackupService{
		db:     db,
		dbCfg:  dbCfg,
		cfg:    cfg,
		dir:    dir,
		logger: observability.WithComponent(logger, "backup"),
	}
}

// Directory returns the backup storage directory.
func (s *BackupService) Directory() string {
	return s.dir
}

// Start schedules periodic backups until ctx is canceled. A no-op when
// backups are disabled.
func (s *BackupService) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	interval := s.cfg.IntervalHours
	if interval <= 0 {
		interval = 24
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %dh", interval), func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.CreateBackup(runCtx); err != nil {
			s.logger.Error("scheduled backup failed", "error", err)
			return
		}
		if _, err := s.CleanupOldBackups(runCtx); err != nil {
			s.logger.Warn("backup cleanup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling backups: %w", err)
	}

	s.cron.Start()
	s.logger.Info("backup schedule started",
		"interval_hours", interval,
		"directory", s.dir)

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// CreateBackup snapshots the database with VACUUM INTO, optionally
// compressing the result. Only the sqlite driver supports this;
// operators of server databases bring their own backup tooling.
func (s *BackupService) CreateBackup(ctx context.Context) (*BackupMetadata, error) {
	if s.dbCfg.Driver != "sqlite" {
		return nil, fmt.Errorf("backups require the sqlite driver, have %q", s.dbCfg.Driver)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	timestamp := time.Now().UTC()
	baseName := "airwave-backup-" + timestamp.Format(backupTimeFormat)
	dbPath := filepath.Join(s.dir, baseName+".db")

	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", dbPath).Error; err != nil {
		return nil, fmt.Errorf("vacuum into backup: %w", err)
	}

	finalPath := dbPath
	if s.cfg.Compress {
		gzPath := dbPath + ".gz"
		if err := compressFile(dbPath, gzPath); err != nil {
			_ = os.Remove(dbPath)
			return nil, fmt.Errorf("compressing backup: %w", err)
		}
		_ = os.Remove(dbPath)
		finalPath = gzPath
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}
	checksum, err := fileChecksum(finalPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}

	meta := &BackupMetadata{
		Filename:   filepath.Base(finalPath),
		FilePath:   finalPath,
		CreatedAt:  timestamp,
		SizeBytes:  info.Size(),
		Checksum:   checksum,
		Compressed: s.cfg.Compress,
	}
	s.logger.Info("backup created",
		"filename", meta.Filename,
		"size", meta.SizeBytes)
	return meta, nil
}

// ListBackups returns all backups, newest first.
func (s *BackupService) ListBackups() ([]*BackupMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var backups []*BackupMetadata
	for _, entry := range entries {
		createdAt, ok := parseBackupTimestamp(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, &BackupMetadata{
			Filename:   entry.Name(),
			FilePath:   filepath.Join(s.dir, entry.Name()),
			CreatedAt:  createdAt,
			SizeBytes:  info.Size(),
			Compressed: strings.HasSuffix(entry.Name(), ".gz"),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// CleanupOldBackups applies the retention policy: at most KeepCount
// backups, none older than KeepDays. Zero disables either limit.
func (s *BackupService) CleanupOldBackups(_ context.Context) (int, error) {
	backups, err := s.ListBackups()
	if err != nil {
		return 0, err
	}

	cutoff := time.Time{}
	if s.cfg.KeepDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -s.cfg.KeepDays)
	}

	deleted := 0
	for i, backup := range backups {
		drop := false
		if s.cfg.KeepCount > 0 && i >= s.cfg.KeepCount {
			drop = true
		}
		if !cutoff.IsZero() && backup.CreatedAt.Before(cutoff) {
			drop = true
		}
		if !drop {
			continue
		}
		if err := os.Remove(backup.FilePath); err != nil {
			s.logger.Warn("deleting old backup failed",
				"filename", backup.Filename, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("old backups removed", "deleted", deleted)
	}
	return deleted, nil
}

// parseBackupTimestamp extracts the creation time from a backup
// filename, reporting false for files that are not backups.
func parseBackupTimestamp(filename string) (time.Time, bool) {
	matches := backupNameRe.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return time.Time{}, false
	}
	t, err := time.Parse(backupTimeFormat, matches[1])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func compressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	gzWriter := gzip.NewWriter(dstFile)
	if _, err := io.Copy(gzWriter, srcFile); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
