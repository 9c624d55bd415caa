// Package config loads clinicdesk settings from CLINICDESK_-prefixed
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"clinicdesk/internal/blob"
	"clinicdesk/internal/core"
	"clinicdesk/internal/infra/kv"
	"clinicdesk/pkg/domain"
)

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "CLINICDESK"

// Config holds the resolved settings.
type Config struct {
	StorageDriver   string `mapstructure:"STORAGE_DRIVER"`
	SQLitePath      string `mapstructure:"SQLITE_PATH"`
	PostgresDSN     string `mapstructure:"POSTGRES_DSN"`
	BlobDriver      string `mapstructure:"BLOB_DRIVER"`
	BlobFSRoot      string `mapstructure:"BLOB_FS_ROOT"`
	BlobS3Bucket    string `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region    string `mapstructure:"BLOB_S3_REGION"`
	BlobS3Endpoint  string `mapstructure:"BLOB_S3_ENDPOINT"`
	BlobS3AccessKey string `mapstructure:"BLOB_S3_ACCESS_KEY_ID"`
	BlobS3SecretKey string `mapstructure:"BLOB_S3_SECRET_ACCESS_KEY"`
	BlobS3PathStyle bool   `mapstructure:"BLOB_S3_PATH_STYLE"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	RedisChannel    string `mapstructure:"REDIS_CHANNEL"`
	Origin          string `mapstructure:"ORIGIN"`
	HTTPAddr        string `mapstructure:"HTTP_ADDR"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	RemoteURL       string `mapstructure:"REMOTE_URL"`
	RemoteTimeout   string `mapstructure:"REMOTE_TIMEOUT"`
	FollowUpSlot    string `mapstructure:"FOLLOW_UP_SLOT"`

	// FollowUpSlotValue is FollowUpSlot parsed by Validate.
	FollowUpSlotValue core.FollowUpSlot `mapstructure:"-"`
}

var keys = []string{
	"STORAGE_DRIVER",
	"SQLITE_PATH",
	"POSTGRES_DSN",
	"BLOB_DRIVER",
	"BLOB_FS_ROOT",
	"BLOB_S3_BUCKET",
	"BLOB_S3_REGION",
	"BLOB_S3_ENDPOINT",
	"BLOB_S3_ACCESS_KEY_ID",
	"BLOB_S3_SECRET_ACCESS_KEY",
	"BLOB_S3_PATH_STYLE",
	"REDIS_URL",
	"REDIS_CHANNEL",
	"ORIGIN",
	"HTTP_ADDR",
	"LOG_LEVEL",
	"LOG_PRETTY",
	"REMOTE_URL",
	"REMOTE_TIMEOUT",
	"FOLLOW_UP_SLOT",
}

// Load reads the configuration. Each env file is loaded with godotenv when it
// exists; variables already present in the environment win. With no files
// given, ./.env is tried.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("STORAGE_DRIVER", string(kv.DriverSQLite))
	v.SetDefault("SQLITE_PATH", "clinicdesk.db")
	v.SetDefault("BLOB_DRIVER", string(blob.DriverFilesystem))
	v.SetDefault("BLOB_FS_ROOT", "blobdata")
	v.SetDefault("BLOB_S3_REGION", "us-east-1")
	v.SetDefault("REDIS_CHANNEL", "clinicdesk:changes")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("REMOTE_TIMEOUT", "10s")
	v.SetDefault("FOLLOW_UP_SLOT", "10:00/30")

	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names and the combinations they require, and parses
// FollowUpSlot into FollowUpSlotValue.
func (c *Config) Validate() error {
	var errs []error
	switch kv.Driver(c.StorageDriver) {
	case kv.DriverMemory, kv.DriverSQLite:
	case kv.DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.BlobS3Bucket == "" {
			errs = append(errs, errors.New("BLOB_S3_BUCKET is required for the s3 blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BLOB_DRIVER %q", c.BlobDriver))
	}
	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}
	slot, err := ParseFollowUpSlot(c.FollowUpSlot)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.FollowUpSlotValue = slot
	}
	return errors.Join(errs...)
}

// Timeout parses RemoteTimeout.
func (c *Config) Timeout() (time.Duration, error) {
	if c.RemoteTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RemoteTimeout)
	if err != nil {
		return 0, fmt.Errorf("REMOTE_TIMEOUT: %w", err)
	}
	return d, nil
}

// KV returns the backend options for the configured storage driver.
func (c *Config) KV() kv.Options {
	return kv.Options{
		Driver:      kv.Driver(c.StorageDriver),
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
		Origin:      c.Origin,
	}
}

// Blob returns the options for the configured image store.
func (c *Config) Blob() blob.Options {
	return blob.Options{
		Driver: blob.Driver(c.BlobDriver),
		FSRoot: c.BlobFSRoot,
		S3: blob.S3Config{
			Region:          c.BlobS3Region,
			Bucket:          c.BlobS3Bucket,
			Endpoint:        c.BlobS3Endpoint,
			AccessKeyID:     c.BlobS3AccessKey,
			SecretAccessKey: c.BlobS3SecretKey,
			PathStyle:       c.BlobS3PathStyle,
		},
	}
}

// ParseFollowUpSlot accepts "HH:MM" or "HH:MM/minutes". Missing parts fall
// back to core.DefaultFollowUpSlot.
func ParseFollowUpSlot(s string) (core.FollowUpSlot, error) {
	slot := core.DefaultFollowUpSlot
	s = strings.TrimSpace(s)
	if s == "" {
		return slot, nil
	}
	at, minutes, hasMinutes := strings.Cut(s, "/")
	if at = strings.TrimSpace(at); at != "" {
		if _, err := time.Parse(domain.TimeLayout, at); err != nil {
			return slot, fmt.Errorf("FOLLOW_UP_SLOT time %q must be HH:MM", at)
		}
		slot.Time = at
	}
	if hasMinutes {
		n, err := strconv.Atoi(strings.TrimSpace(minutes))
		if err != nil || n <= 0 {
			return slot, fmt.Errorf("FOLLOW_UP_SLOT duration %q must be a positive number of minutes", minutes)
		}
		slot.Duration = n
	}
	return slot, nil
}
