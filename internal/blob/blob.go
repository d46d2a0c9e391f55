// Package blob stores raw email payloads by key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no object exists for a key
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for empty or path-escaping keys
var ErrInvalidKey = errors.New("invalid blob key")

// Store is a durable key-addressed byte store
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Config selects and configures a Store implementation
type Config struct {
	Driver string `mapstructure:"driver"` // s3, filesystem or memory

	// filesystem
	Path string `mapstructure:"path"`

	// s3 (also R2 and MinIO through Endpoint)
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// New builds the Store named by cfg.Driver
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "s3", "r2":
		return NewS3Store(ctx, cfg)
	case "", "filesystem", "fs", "file":
		return NewFileStore(cfg.Path)
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return ErrInvalidKey
		}
	}
	return nil
}
