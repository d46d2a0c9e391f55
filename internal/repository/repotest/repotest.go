// Package repotest opens throwaway ledgers backed by in-memory SQLite.
package repotest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/repository"
)

// Open returns a migrated gorm DB private to t
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&model.EmailRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewRepository returns a Repository over Open(t)
func NewRepository(t *testing.T) *repository.Repository {
	t.Helper()
	return repository.New(Open(t))
}
