package bus

import (
	"fmt"

	"github.com/wefthq/weft/internal/common/cnst"
	"github.com/wefthq/weft/internal/common/config"

	"go.uber.org/zap"
)

// New creates an event bus based on configuration.
func New(logger *zap.Logger, cfg *config.BusConfig) (Bus, error) {
	logger.Info("initializing event bus", zap.String("type", cfg.Type))
	switch cnst.BusType(cfg.Type) {
	case cnst.BusTypeMemory:
		return NewMemoryBus(logger), nil
	case cnst.BusTypeRedis:
		return NewRedisBus(logger, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cfg.Type)
	}
}
