package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wefthq/weft/internal/common/config"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// NewSQLite creates a SQLite-backed store
func NewSQLite(cfg *config.DatabaseConfig) (Store, error) {
	// In-memory databases have no directory to create
	if !strings.Contains(cfg.DBName, ":memory:") {
		dir := filepath.Dir(cfg.DBName)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormDB, err := gorm.Open(sqlite.Open(cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newGormStore(gormDB)
}
