package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillRoomDefaults  = "2026-09-02_backfill_room_defaults"
	migrationNormalizeLanguageTags = "2026-09-14_normalize_language_tags"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRoomDefaults, apply: backfillRoomDefaults},
		{name: migrationNormalizeLanguageTags, apply: normalizeLanguageTags},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rooms written before names and languages were required carry empty values.
func backfillRoomDefaults(db *gorm.DB) error {
	if err := db.Model(&rooms.Room{}).
		Where("TRIM(name) = ''").
		Update("name", rooms.DefaultRoomName).Error; err != nil {
		return err
	}
	return db.Model(&rooms.Room{}).
		Where("TRIM(language) = ''").
		Update("language", rooms.DefaultLanguage).Error
}

func normalizeLanguageTags(db *gorm.DB) error {
	return db.Model(&rooms.Room{}).
		Where("language <> LOWER(TRIM(language))").
		Update("language", gorm.Expr("LOWER(TRIM(language))")).Error
}
