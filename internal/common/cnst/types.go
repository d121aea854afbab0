package cnst

// BusType represents the backend used by the event bus
type BusType string

const (
	// BusTypeMemory is the in-process event bus
	BusTypeMemory BusType = "memory"
	// BusTypeRedis is the Redis-backed event bus for multi-instance deployments
	BusTypeRedis BusType = "redis"
)

// DatabaseType represents the backend used by the durable store
type DatabaseType string

const (
	// DatabaseTypeSQLite is the embedded SQLite store
	DatabaseTypeSQLite DatabaseType = "sqlite"
	// DatabaseTypePostgres is the PostgreSQL store
	DatabaseTypePostgres DatabaseType = "postgres"
	// DatabaseTypeMySQL is the MySQL store
	DatabaseTypeMySQL DatabaseType = "mysql"
)
