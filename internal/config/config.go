package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CasdoorConfig holds the auth provider settings.
type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Application  string
	Organization string
}

// Config holds all runtime configuration for the exam engine.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string

	OracleBaseURL string
	OracleTimeout time.Duration

	SweepInterval time.Duration

	Casdoor CasdoorConfig
}

// Load reads configuration from the environment, with .env as a fallback for
// local development.
func Load() (*Config, error) {
	// Missing .env is fine in deployed environments.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", ""),

		OracleBaseURL: getEnv("ORACLE_BASE_URL", "http://localhost:9090"),
		OracleTimeout: getDuration("ORACLE_TIMEOUT", 10*time.Second),

		SweepInterval: getDuration("SWEEP_INTERVAL", 30*time.Second),

		Casdoor: CasdoorConfig{
			Endpoint:     getEnv("CASDOOR_ENDPOINT", ""),
			ClientID:     getEnv("CASDOOR_CLIENT_ID", ""),
			ClientSecret: getEnv("CASDOOR_CLIENT_SECRET", ""),
			Cert:         getEnv("CASDOOR_CERT", ""),
			Application:  getEnv("CASDOOR_APPLICATION", ""),
			Organization: getEnv("CASDOOR_ORGANIZATION", ""),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
