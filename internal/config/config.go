// Package config loads settings from an optional .env file and the environment.
// Environment variables always take precedence over .env values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"raffle/internal/storage"
	"raffle/internal/tabular"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port    string
	Debug   bool
	LogFile string // domain log copy; empty keeps stdout/stderr only

	// Participant tables
	MinColumns      int
	MaxParticipants int // 0 disables truncation

	// Exports
	ExportFileName string
	ExportDir      string
	S3             storage.S3SinkConfig

	// Sessions
	SessionTTL      time.Duration
	CleanupInterval time.Duration
}

// Load reads configuration from .env (if present) and then from the environment.
func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("PORT", ":8080")
	v.SetDefault("DEBUG", false)
	v.SetDefault("MIN_COLUMNS", tabular.DefaultMinColumns)
	v.SetDefault("MAX_PARTICIPANTS", tabular.DefaultMaxParticipants)
	v.SetDefault("EXPORT_FILENAME", tabular.DefaultExportName)
	v.SetDefault("EXPORT_DIR", "exports")
	v.SetDefault("SESSION_TTL", time.Hour)
	v.SetDefault("CLEANUP_INTERVAL", 10*time.Minute)
	v.SetDefault("S3_REGION", "auto")

	cfg := &Config{
		Port:            v.GetString("PORT"),
		Debug:           v.GetBool("DEBUG"),
		LogFile:         v.GetString("LOG_FILE"),
		MinColumns:      v.GetInt("MIN_COLUMNS"),
		MaxParticipants: v.GetInt("MAX_PARTICIPANTS"),
		ExportFileName:  v.GetString("EXPORT_FILENAME"),
		ExportDir:       v.GetString("EXPORT_DIR"),
		SessionTTL:      v.GetDuration("SESSION_TTL"),
		CleanupInterval: v.GetDuration("CLEANUP_INTERVAL"),
		S3: storage.S3SinkConfig{
			Bucket:          v.GetString("S3_BUCKET"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			Region:          v.GetString("S3_REGION"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			Prefix:          v.GetString("S3_PREFIX"),
		},
	}

	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UseS3 reports whether exports should go to a bucket instead of ExportDir.
func (c *Config) UseS3() bool {
	return c.S3.Bucket != ""
}

func (c *Config) validate() error {
	if c.MinColumns < 1 {
		return fmt.Errorf("config: MIN_COLUMNS must be at least 1, got %d", c.MinColumns)
	}
	if c.MaxParticipants < 0 {
		return fmt.Errorf("config: MAX_PARTICIPANTS must not be negative, got %d", c.MaxParticipants)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("config: CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}
	if strings.TrimSpace(c.ExportFileName) == "" {
		return fmt.Errorf("config: EXPORT_FILENAME must not be empty")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("config: S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

func newViper() *viper.Viper {
	// A missing .env is fine; production uses real environment variables.
	if err := godotenv.Load(); err != nil {
		logger.Info("config: no .env file found, using environment variables only")
	}

	v := viper.New()
	v.AutomaticEnv()
	return v
}
