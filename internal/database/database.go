package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gluk-w/remsh/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Host{}, &CommandArchive{}, &AuditLog{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

func DeleteSetting(key string) error {
	return DB.Where("key = ?", key).Delete(&Setting{}).Error
}

// Host helpers

func GetHostByAlias(alias string) (*Host, error) {
	var h Host
	if err := DB.Where("alias = ?", alias).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// IsNotFoundErr reports whether err is gorm's record-miss sentinel. Kept
// here so callers do not import gorm just for the comparison.
func IsNotFoundErr(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func ListHosts() ([]Host, error) {
	var hosts []Host
	if err := DB.Order("alias").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}

// UpsertHost creates or updates the host row keyed by alias.
func UpsertHost(h *Host) error {
	var existing Host
	err := DB.Where("alias = ?", h.Alias).First(&existing).Error
	if err == nil {
		h.ID = existing.ID
		h.CreatedAt = existing.CreatedAt
		return DB.Save(h).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DB.Create(h).Error
	}
	return err
}

func DeleteHost(alias string) error {
	res := DB.Where("alias = ?", alias).Delete(&Host{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Command archive helpers

func SaveArchive(a *CommandArchive) error {
	return DB.Create(a).Error
}

func QueryArchive(sessionKey string, limit int) ([]CommandArchive, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	tx := DB.Model(&CommandArchive{})
	if sessionKey != "" {
		tx = tx.Where("session_key = ?", sessionKey)
	}
	rows := make([]CommandArchive, 0)
	if err := tx.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PurgeArchiveOlderThan removes archived commands older than the given
// number of days. Returns the number of rows deleted.
func PurgeArchiveOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := DB.Where("created_at < ?", cutoff).Delete(&CommandArchive{})
	return res.RowsAffected, res.Error
}
