// Package config reads process configuration from RABTRACK_* environment
// variables, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "RABTRACK_"

// S3 configures the s3 blob driver.
type S3 struct {
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Bucket          string `env:"BUCKET"`
	Endpoint        string `env:"ENDPOINT"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	PathStyle       bool   `env:"PATH_STYLE"`
}

// Config is the full process configuration.
type Config struct {
	StoreDriver  string        `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"rabtrack.db"`
	PostgresDSN  string        `env:"POSTGRES_DSN"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`

	BlobDriver    string `env:"BLOB_DRIVER" envDefault:"fs"`
	BlobFSRoot    string `env:"BLOB_FS_ROOT" envDefault:"./blobdata"`
	BlobFSBaseURL string `env:"BLOB_FS_BASE_URL"`
	S3            S3     `envPrefix:"BLOB_S3_"`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the given .env files (missing ones are skipped; variables
// already set win) and parses the environment.
func Load(files ...string) (Config, error) {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("stat %s: %w", f, err)
		}
		present = append(present, f)
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("%sSTORE_DRIVER: unknown driver %q", Prefix, c.StoreDriver)
	}
	switch c.BlobDriver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("%sBLOB_DRIVER: unknown driver %q", Prefix, c.BlobDriver)
	}
	if c.BlobDriver == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("%sBLOB_S3_BUCKET required for the s3 driver", Prefix)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%sLOG_LEVEL: %w", Prefix, err)
	}
	return lvl, nil
}
