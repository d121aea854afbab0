package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/wefthq/weft/pkg/helper"
	"github.com/wefthq/weft/pkg/trace"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the top-level weft-server configuration
	Config struct {
		Server   ServerConfig   `yaml:"server"`
		Logger   LoggerConfig   `yaml:"logger"`
		Database DatabaseConfig `yaml:"database"`
		Bus      BusConfig      `yaml:"bus"`
		Auth     AuthConfig     `yaml:"auth"`
		Realtime RealtimeConfig `yaml:"realtime"`
		Metrics  MetricsConfig  `yaml:"metrics"`
		Tracing  trace.Config   `yaml:"tracing"`
	}

	// ServerConfig represents the HTTP listener configuration
	ServerConfig struct {
		Port int `yaml:"port"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps
	}

	// DatabaseConfig represents the durable store configuration
	DatabaseConfig struct {
		Type     string `yaml:"type"`     // sqlite, postgres, mysql
		Host     string `yaml:"host"`     // localhost
		Port     int    `yaml:"port"`     // 5432 (postgres), 3306 (mysql)
		User     string `yaml:"user"`     // database user
		Password string `yaml:"password"` // database password
		DBName   string `yaml:"dbname"`   // database name, or file path for sqlite
		SSLMode  string `yaml:"sslmode"`  // disable (for postgres)
	}

	// BusConfig represents the event bus configuration
	BusConfig struct {
		Type  string         `yaml:"type"`  // "memory" or "redis"
		Redis BusRedisConfig `yaml:"redis"` // Redis configuration
	}

	// BusRedisConfig represents the Redis configuration for the event bus
	BusRedisConfig struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Topic    string `yaml:"topic"`
	}

	// AuthConfig represents the authentication configuration
	AuthConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	// JWTConfig represents the JWT token configuration
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	// MetricsConfig represents the Prometheus metrics configuration
	MetricsConfig struct {
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"` // histogram buckets in seconds
	}

	// RealtimeConfig tunes the websocket and fan-out layer
	RealtimeConfig struct {
		SendBufferSize    int           `yaml:"send_buffer_size"`   // outbound frames buffered per connection
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // websocket ping interval
		ReadTimeout       time.Duration `yaml:"read_timeout"`       // websocket read deadline
		ApprovalTimeout   time.Duration `yaml:"approval_timeout"`   // default pending approval lifetime
		AllowedOrigins    []string      `yaml:"allowed_origins"`    // websocket origin allowlist, empty allows all
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.setDefaults()
	return &cfg, cfgPath, nil
}

// setDefaults fills in zero-valued fields after unmarshalling
func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DBName == "" {
		c.Database.DBName = "./data/weft.db"
	}
	if c.Bus.Type == "" {
		c.Bus.Type = "memory"
	}
	if c.Bus.Redis.Topic == "" {
		c.Bus.Redis.Topic = "weft:events"
	}
	if c.Auth.JWT.Duration == 0 {
		c.Auth.JWT.Duration = 24 * time.Hour
	}
	if c.Realtime.SendBufferSize <= 0 {
		c.Realtime.SendBufferSize = 256
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		c.Realtime.HeartbeatInterval = 30 * time.Second
	}
	if c.Realtime.ReadTimeout <= 0 {
		c.Realtime.ReadTimeout = 60 * time.Second
	}
	if c.Realtime.ApprovalTimeout <= 0 {
		c.Realtime.ApprovalTimeout = 5 * time.Minute
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "weft"
	}
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	case "sqlite":
		// For SQLite, DBName is the file path
		return c.DBName
	default:
		return ""
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
