package contentstore

import (
	"context"
	"fmt"
	"net/http"

	"dvault/internal/config"
	"dvault/internal/dv"
)

// NewContentStoreFromConfig creates a ContentStore implementation based on the content store config type.
func NewContentStoreFromConfig(ctx context.Context, cfg config.ContentStoreConfig, clock dv.Clock) (dv.ContentStore, error) {
	algo, err := ParseHashAlgorithm(cfg.Hash)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(algo, cfg.PublicBaseURL), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem content store requires root to be set")
		}
		s, err := NewFileSystemStore(cfg.Root, algo, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			BaseURL:   cfg.PublicBaseURL,
			Hash:      algo,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pinata":
		s, err := NewPinataStore(cfg.PinataJWT, cfg.PinataAPIURL, cfg.GatewayURL, http.DefaultClient, clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown content store type: %s", cfg.Type)
	}
}
