package blob

import (
	"context"
	"fmt"

	fsstore "rabtrack/internal/infra/blob/fs"
	memorystore "rabtrack/internal/infra/blob/memory"
	s3store "rabtrack/internal/infra/blob/s3"
)

// S3Config configures the S3 driver.
type S3Config = s3store.Config

// Config selects and configures a driver.
type Config struct {
	Driver    Driver
	FSRoot    string
	FSBaseURL string
	S3        S3Config
}

// Open builds the store named by cfg.Driver; empty means filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.FSBaseURL)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root, baseURL string) (Store, error) {
	s, err := fsstore.New(root, baseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory returns an in-process store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := s3store.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
