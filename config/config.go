// services/install/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the complete configuration for the service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	ServiceBus ServiceBusConfig `mapstructure:"service_bus"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Logger     *logrus.Logger
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Environment  string        `mapstructure:"environment"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GatewayConfig holds connection settings for the external fleet gateway.
//
// The gateway exposes two endpoint families with different auth schemes:
// resource endpoints (groups/vehicles/devices/SIMs) under APIBaseURL using an
// "Authenticate" header, and installation-record endpoints under
// ServicesBaseURL using "Authorization: Bearer". The inconsistency is a
// property of the upstream service and is preserved per endpoint.
type GatewayConfig struct {
	APIBaseURL      string           `mapstructure:"api_base_url"`
	ServicesBaseURL string           `mapstructure:"services_base_url"`
	Token           string           `mapstructure:"token"`
	Instances       []InstanceConfig `mapstructure:"instances"`
	DefaultGroupID  int              `mapstructure:"default_group_id"`
	LookupTimeout   time.Duration    `mapstructure:"lookup_timeout"`
	MutateTimeout   time.Duration    `mapstructure:"mutate_timeout"`
	MaxRetries      int              `mapstructure:"max_retries"`
	RetryDelay      time.Duration    `mapstructure:"retry_delay"`
}

// InstanceConfig identifies one of the redundant SIM-holding gateway
// instances. Order in the config list is the search order.
type InstanceConfig struct {
	Name  string `mapstructure:"name"`
	Token string `mapstructure:"token"`
}

// AuthConfig holds JWT and operator roster settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []UserConfig  `mapstructure:"users"`
}

// UserConfig seeds one operator account at startup.
type UserConfig struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Role     string `mapstructure:"role"`
	Name     string `mapstructure:"name"`
}

// TrackerConfig holds activity tracker settings.
type TrackerConfig struct {
	Backend       string        `mapstructure:"backend"` // "file" or "postgres"
	DataDir       string        `mapstructure:"data_dir"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	AbandonAfter  time.Duration `mapstructure:"abandon_after"`
}

// DatabaseConfig holds the PostgreSQL connection settings for the
// postgres tracker backend.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// ServiceBusConfig holds the Azure Service Bus settings for installation
// lifecycle events.
type ServiceBusConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	QueueName        string `mapstructure:"queue_name"`
}

// WorkflowConfig holds installation workflow behavior switches.
type WorkflowConfig struct {
	TestMode             bool `mapstructure:"test_mode"`
	ConfirmationFallback bool `mapstructure:"confirmation_fallback"`
}

// Load reads configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("INSTALL")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.environment", "production")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")

	viper.SetDefault("gateway.lookup_timeout", "10s")
	viper.SetDefault("gateway.mutate_timeout", "30s")
	viper.SetDefault("gateway.max_retries", 3)
	viper.SetDefault("gateway.retry_delay", "1s")

	viper.SetDefault("auth.token_ttl", "24h")

	viper.SetDefault("tracker.backend", "file")
	viper.SetDefault("tracker.data_dir", "./data")
	viper.SetDefault("tracker.sweep_interval", "1h")
	viper.SetDefault("tracker.abandon_after", "24h")

	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")

	viper.SetDefault("workflow.test_mode", false)
	viper.SetDefault("workflow.confirmation_fallback", true)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error if using env vars
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
