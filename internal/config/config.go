package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServiceName     string
	ServicePort     int
	DefaultDeviceID string
	Database        DatabaseConfig
	RabbitMQ        RabbitMQConfig
	Ingest          IngestConfig
	Purchase        PurchaseConfig
	Status          StatusConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL             string
	ReadingExchange string
	ReadingQueue    string
	ReadingKey      string
	ChangesExchange string
	ChangesQueue    string
	DLQQueue        string
	PrefetchCount   int
}

// IngestConfig holds reading ingestion settings
type IngestConfig struct {
	TimestampToleranceMinutes int
	LowUnitThreshold          float64
}

// PurchaseConfig holds unit purchase settings
type PurchaseConfig struct {
	UnitPrice float64
	MaxUnits  float64
}

// StatusConfig holds device status derivation settings
type StatusConfig struct {
	OnlineWindowMinutes   int
	WatcherRefreshSeconds int
	AlertsDefaultLimit    int
	ReadingsDefaultLimit  int
	PurchaseHistoryLimit  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:     getEnv("SERVICE_NAME", "smart-meter-service"),
		ServicePort:     getEnvAsInt("SERVICE_PORT", 8080),
		DefaultDeviceID: getEnv("DEFAULT_DEVICE_ID", "SM001"),
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			AutoMigrate: getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			ReadingExchange: getEnv("RABBITMQ_READING_EXCHANGE", "smart-meter.readings.exchange"),
			ReadingQueue:    getEnv("RABBITMQ_READING_QUEUE", "smart-meter.readings.queue"),
			ReadingKey:      getEnv("RABBITMQ_READING_ROUTING_KEY", "meter.reading.raw"),
			ChangesExchange: getEnv("RABBITMQ_CHANGES_EXCHANGE", "smart-meter.changes.exchange"),
			ChangesQueue:    getEnv("RABBITMQ_CHANGES_QUEUE", "smart-meter.changes.queue"),
			DLQQueue:        getEnv("RABBITMQ_DLQ_QUEUE", "smart-meter.readings.dlq"),
			PrefetchCount:   getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Ingest: IngestConfig{
			TimestampToleranceMinutes: getEnvAsInt("INGEST_TIMESTAMP_TOLERANCE_MINUTES", 10080),
			LowUnitThreshold:          getEnvAsFloat("INGEST_LOW_UNIT_THRESHOLD", 20),
		},
		Purchase: PurchaseConfig{
			UnitPrice: getEnvAsFloat("PURCHASE_UNIT_PRICE", 50),
			MaxUnits:  getEnvAsFloat("PURCHASE_MAX_UNITS", 1000),
		},
		Status: StatusConfig{
			OnlineWindowMinutes:   getEnvAsInt("STATUS_ONLINE_WINDOW_MINUTES", 5),
			WatcherRefreshSeconds: getEnvAsInt("STATUS_WATCHER_REFRESH_SECONDS", 30),
			AlertsDefaultLimit:    getEnvAsInt("ALERTS_DEFAULT_LIMIT", 20),
			ReadingsDefaultLimit:  getEnvAsInt("READINGS_DEFAULT_LIMIT", 50),
			PurchaseHistoryLimit:  getEnvAsInt("PURCHASE_HISTORY_LIMIT", 50),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
