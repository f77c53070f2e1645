package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const DefaultLocalBaseURL = "/api/objects"

// LocalStore keeps objects on the local filesystem. Its signed URLs carry an
// HMAC-SHA256 signature over key and expiry and are served by this application.
type LocalStore struct {
	directory  string
	signingKey []byte
	baseURL    string
	now        func() time.Time
}

func NewLocalStore(directory, signingKey, baseURL string) (*LocalStore, error) {
	if directory == "" {
		return nil, fmt.Errorf("local storage requires a directory")
	}
	if signingKey == "" {
		return nil, fmt.Errorf("local storage requires a signing key")
	}
	if baseURL == "" {
		baseURL = DefaultLocalBaseURL
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{
		directory:  directory,
		signingKey: []byte(signingKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	cleaned := path.Clean(key)
	if key == "" || cleaned != key || strings.HasPrefix(cleaned, "/") || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.directory, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return err
	}
	return nil
}

func (s *LocalStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	query := url.Values{}
	query.Set("expires", expires)
	query.Set("signature", s.sign(key, expires))
	return s.baseURL + "/" + key + "?" + query.Encode(), nil
}

// Open verifies a signed URL's parameters and returns the object behind it.
func (s *LocalStore) Open(key, expires, signature string) ([]byte, string, error) {
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, expires))) {
		return nil, "", ErrInvalidSignature
	}
	expiry, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return nil, "", ErrInvalidSignature
	}
	if s.now().Unix() > expiry {
		return nil, "", ErrURLExpired
	}

	data, err := s.Get(context.Background(), key)
	if err != nil {
		return nil, "", err
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func (s *LocalStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key + "|" + expires))
	return hex.EncodeToString(mac.Sum(nil))
}
