package storage

import (
	"fmt"

	"github.com/wefthq/weft/internal/common/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewPostgres creates a PostgreSQL-backed store
func NewPostgres(cfg *config.DatabaseConfig) (Store, error) {
	gormDB, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newGormStore(gormDB)
}
