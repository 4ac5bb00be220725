package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Database    DatabaseConfig
	RadiusDB    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Redis       RedisConfig
	Router      RouterConfig
	Voucher     VoucherConfig
	Sweep       SweepConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	CommandExchange   string
	CommandQueue      string
	CommandRoutingKey string
	EventExchange     string
	EventRoutingKey   string
	DLQQueue          string
	PrefetchCount     int
}

// RedisConfig holds the router statistics cache settings
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	StatsTTLMinutes int
}

// RouterConfig holds router control-channel settings
type RouterConfig struct {
	ConnectTimeoutSeconds int
}

// VoucherConfig holds voucher lifecycle settings
type VoucherConfig struct {
	// ExpiryWindowDays is the redeem-by ceiling stamped at generation
	// time. Independent of a voucher's validityDays, which only bounds
	// the provisioned account.
	ExpiryWindowDays    int
	CollisionRetryLimit int
}

// SweepConfig holds intervals for the periodic maintenance loops
type SweepConfig struct {
	RouterCheckIntervalMinutes int
	VoucherSweepIntervalHours  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "isp-provisioning-worker"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RadiusDB: DatabaseConfig{
			URL: getEnv("RADIUS_DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			CommandExchange:   getEnv("RABBITMQ_COMMAND_EXCHANGE", "provisioning.commands.exchange"),
			CommandQueue:      getEnv("RABBITMQ_COMMAND_QUEUE", "provisioning.commands.queue"),
			CommandRoutingKey: getEnv("RABBITMQ_COMMAND_ROUTING_KEY", "provisioning.command"),
			EventExchange:     getEnv("RABBITMQ_EVENT_EXCHANGE", "provisioning.events.exchange"),
			EventRoutingKey:   getEnv("RABBITMQ_EVENT_ROUTING_KEY", "provisioning.event"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "provisioning.commands.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			StatsTTLMinutes: getEnvAsInt("REDIS_STATS_TTL_MINUTES", 90),
		},
		Router: RouterConfig{
			ConnectTimeoutSeconds: getEnvAsInt("ROUTER_CONNECT_TIMEOUT_SECONDS", 10),
		},
		Voucher: VoucherConfig{
			ExpiryWindowDays:    getEnvAsInt("VOUCHER_EXPIRY_WINDOW_DAYS", 90),
			CollisionRetryLimit: getEnvAsInt("VOUCHER_COLLISION_RETRY_LIMIT", 5),
		},
		Sweep: SweepConfig{
			RouterCheckIntervalMinutes: getEnvAsInt("SWEEP_ROUTER_CHECK_INTERVAL_MINUTES", 60),
			VoucherSweepIntervalHours:  getEnvAsInt("SWEEP_VOUCHER_INTERVAL_HOURS", 24),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RadiusDB.URL == "" {
		return nil, fmt.Errorf("RADIUS_DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
