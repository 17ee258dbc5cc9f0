// Package config loads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string        `default:":8080"`
	ShutdownTimeout time.Duration `default:"15s"`
	LogLevel        string        `default:"info"`
	AllowedOrigins  []string      `default:"[\"*\"]"`

	AWSRegion      string  `default:"eu-west-1"`
	CollectionID   string  `default:"auth-selfies"`
	MatchThreshold float32 `default:"90"`

	DatabaseDSN string `default:"host=postgres user=postgres password=postgres dbname=faceauth port=5432 sslmode=disable"`
	RedisAddr   string `default:"redis:6379"`

	JWTSecret   string        `default:"dev-secret"`
	JWTAudience string
	SessionTTL  time.Duration `default:"15m"`
}

// Load reads the optional env files (".env" when none are given), applies
// defaults and then environment overrides.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// .env files are optional
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.CollectionID = getEnv("REKOGNITION_COLLECTION_ID", cfg.CollectionID)
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTAudience = getEnv("JWT_AUDIENCE", cfg.JWTAudience)
	cfg.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", cfg.AllowedOrigins)

	var err error
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.MatchThreshold, err = getEnvThreshold("MATCH_THRESHOLD", cfg.MatchThreshold); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

func getEnvThreshold(key string, fallback float32) (float32, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil || f <= 0 || f > 100 {
		return 0, fmt.Errorf("%s: threshold must be in (0, 100], got %q", key, value)
	}
	return float32(f), nil
}
