package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsRoomDefaults(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&rooms.Room{}, &rooms.Snapshot{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := []rooms.Room{
		{RoomID: "legacy-1", Name: " ", Code: "x", Language: ""},
		{RoomID: "legacy-2", Name: "Kept", Code: "y", Language: " Python "},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert rooms: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var first rooms.Room
	if err := database.Where("room_id = ?", "legacy-1").Take(&first).Error; err != nil {
		testContext.Fatalf("failed to reload room: %v", err)
	}
	if first.Name != rooms.DefaultRoomName || first.Language != rooms.DefaultLanguage {
		testContext.Fatalf("expected defaults to be backfilled, got %+v", first)
	}

	var second rooms.Room
	if err := database.Where("room_id = ?", "legacy-2").Take(&second).Error; err != nil {
		testContext.Fatalf("failed to reload room: %v", err)
	}
	if second.Name != "Kept" || second.Language != "python" {
		testContext.Fatalf("expected normalized language and kept name, got %+v", second)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillRoomDefaults).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-running migrations to be a no-op: %v", err)
	}
}

func TestOpenValidatesConfig(testContext *testing.T) {
	cases := []Config{
		{Driver: "mysql", Path: "x.db"},
		{Driver: DriverSQLite},
		{Driver: DriverPostgres},
	}
	for _, cfg := range cases {
		if _, err := Open(cfg, nil); err == nil {
			testContext.Fatalf("expected error for config %+v", cfg)
		}
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "coderoom.db")
	database, err := Open(Config{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if !database.Migrator().HasTable(&rooms.Room{}) || !database.Migrator().HasTable(&rooms.Snapshot{}) {
		testContext.Fatalf("expected room tables to exist")
	}
	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", count)
	}
}
