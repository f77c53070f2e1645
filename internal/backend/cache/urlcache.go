package cache

import (
	"context"
	"fmt"
	"time"
)

// URLCache remembers signed object URLs by object key so repeated reads do not re-sign.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, url string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

type Config struct {
	Type     string `yaml:"type"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ExpiryMargin is subtracted from the signing TTL so a cached URL is evicted before it expires.
const ExpiryMargin = time.Minute

// EntryTTL returns how long a URL signed for signedTTL may be cached; 0 means do not cache
func EntryTTL(signedTTL time.Duration) time.Duration {
	if signedTTL <= ExpiryMargin {
		return 0
	}
	return signedTTL - ExpiryMargin
}

func NewURLCache(ctx context.Context, cfg Config) (URLCache, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisURLCache(ctx, cfg)
	case "none", "":
		return NoopURLCache{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NoopURLCache never stores anything
type NoopURLCache struct{}

func (NoopURLCache) Get(context.Context, string) (string, bool, error)        { return "", false, nil }
func (NoopURLCache) Set(context.Context, string, string, time.Duration) error { return nil }
func (NoopURLCache) Delete(context.Context, ...string) error                  { return nil }
func (NoopURLCache) Close() error                                             { return nil }
