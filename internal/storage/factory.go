package storage

import (
	"fmt"

	"github.com/wefthq/weft/internal/common/cnst"
	"github.com/wefthq/weft/internal/common/config"
)

// NewStore creates a durable store based on configuration.
func NewStore(cfg *config.DatabaseConfig) (Store, error) {
	switch cnst.DatabaseType(cfg.Type) {
	case cnst.DatabaseTypeSQLite:
		return NewSQLite(cfg)
	case cnst.DatabaseTypePostgres:
		return NewPostgres(cfg)
	case cnst.DatabaseTypeMySQL:
		return NewMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
