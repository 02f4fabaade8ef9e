// internal/config/config.go

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Geo         GeoConfig
	Feed        FeedConfig
	Presence    PresenceConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// GeoConfig holds location acquisition configuration
type GeoConfig struct {
	FallbackLat    float64
	FallbackLng    float64
	MaxAttempts    int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	CacheTolerance time.Duration
}

// FeedConfig holds feed merge and ranking configuration
type FeedConfig struct {
	PageSize        int
	LookBack        time.Duration
	IndifferenceKm  float64
	ToleranceWindow time.Duration
	LookAhead       time.Duration
}

// PresenceConfig holds presence tracking configuration
type PresenceConfig struct {
	Subject        string
	Heartbeat      time.Duration
	NearbyRadiusKm float64
	Staleness      time.Duration
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			// Long enough for the location long-poll to settle
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "ritrovo"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Geo: GeoConfig{
			FallbackLat:    getEnvAsFloat("GEO_FALLBACK_LAT", 41.9028),
			FallbackLng:    getEnvAsFloat("GEO_FALLBACK_LNG", 12.4964),
			MaxAttempts:    getEnvAsInt("GEO_MAX_ATTEMPTS", 3),
			RetryDelay:     getEnvAsDuration("GEO_RETRY_DELAY", 2*time.Second),
			RequestTimeout: getEnvAsDuration("GEO_REQUEST_TIMEOUT", 15*time.Second),
			CacheTolerance: getEnvAsDuration("GEO_CACHE_TOLERANCE", 5*time.Minute),
		},
		Feed: FeedConfig{
			PageSize:        getEnvAsInt("FEED_PAGE_SIZE", 20),
			LookBack:        getEnvAsDuration("FEED_LOOK_BACK", 3*time.Hour),
			IndifferenceKm:  getEnvAsFloat("FEED_INDIFFERENCE_KM", 0.5),
			ToleranceWindow: getEnvAsDuration("FEED_TOLERANCE_WINDOW", 24*time.Hour),
			LookAhead:       getEnvAsDuration("FEED_LOOK_AHEAD", 2*time.Hour),
		},
		Presence: PresenceConfig{
			Subject:        getEnv("PRESENCE_SUBJECT", "presence.updated"),
			Heartbeat:      getEnvAsDuration("PRESENCE_HEARTBEAT", 30*time.Second),
			NearbyRadiusKm: getEnvAsFloat("PRESENCE_NEARBY_RADIUS_KM", 10.0),
			Staleness:      getEnvAsDuration("PRESENCE_STALENESS", 90*time.Second),
		},
	}

	return config, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
