package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrObjectNotFound   = errors.New("object not found")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrURLExpired       = errors.New("signed url expired")
	ErrInvalidKey       = errors.New("invalid object key")
)

// ObjectStore keeps review images and hands out time-limited URLs for them.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectServer is implemented by stores whose signed URLs point back at this service.
type ObjectServer interface {
	Open(key, expires, signature string) ([]byte, string, error)
}

type Config struct {
	Type            string `yaml:"type"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
	EnsureBucket    bool   `yaml:"ensureBucket"`
	Directory       string `yaml:"directory"`
	SigningKey      string `yaml:"signingKey"`
	BaseURL         string `yaml:"baseURL"`
}

const ReviewImagePrefix = "reviews"

// NewObjectKey returns a fresh key of the form <prefix>/<uuid>.jpg
func NewObjectKey(prefix string) string {
	return fmt.Sprintf("%s/%s.jpg", prefix, uuid.NewString())
}

func NewObjectStore(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local", "":
		return NewLocalStore(cfg.Directory, cfg.SigningKey, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
