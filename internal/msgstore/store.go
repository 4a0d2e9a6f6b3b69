// Package msgstore holds email content for dispatched messages. Bodies live
// outside the relational store so they can be scrubbed independently of the
// message record and never travel through the job queue.
package msgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no content is stored under a key.
var ErrNotFound = errors.New("msgstore: content not found")

// ContentStore persists opaque content blobs by key.
type ContentStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the content. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Config holds configuration for creating a ContentStore.
type Config struct {
	Type       string `mapstructure:"type" validate:"omitempty,oneof=local s3"`
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket" validate:"required_if=Type s3"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// ContentKey returns the storage key for a client's message content.
// Both parts are expected to have passed message.ValidID.
func ContentKey(client, messageID string) string {
	return fmt.Sprintf("%s/%s.json", client, messageID)
}

// New creates a ContentStore from cfg. An empty type selects local storage;
// an unknown type falls back to local storage with a warning.
func New(cfg Config, logger zerolog.Logger) (ContentStore, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalFileStore(cfg.Path)
	case "s3":
		return NewS3StoreFromConfig(cfg)
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported content store type, defaulting to local")
		return NewLocalFileStore(cfg.Path)
	}
}
