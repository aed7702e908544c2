// Package storage fetches uploaded documents from S3-compatible object
// storage (R2, S3, MinIO).
package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

// DefaultMaxBytes caps how much of an object GetBytes will read.
const DefaultMaxBytes = 25 << 20

// ErrNotFound is returned when the key does not exist.
var ErrNotFound = eris.New("storage: object not found")

// ErrTooLarge is returned when an object exceeds the read limit.
var ErrTooLarge = eris.New("storage: object exceeds size limit")

// Store is the byte-fetch collaborator the ingestion job depends on.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	MaxBytes  int64
}

// MinioStore implements Store with minio-go.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

// NewMinio creates a MinioStore. Endpoint may include a scheme, which
// then decides SSL.
func NewMinio(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, eris.New("storage: endpoint and bucket are required")
	}
	endpoint, secure := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, eris.Wrap(err, "storage: create client")
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

func (s *MinioStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr(err, "get "+key)
	}
	defer obj.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(obj, s.maxBytes+1))
	if err != nil {
		return nil, mapErr(err, "read "+key)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, eris.Wrapf(ErrTooLarge, "storage: %s", key)
	}
	return data, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return mapErr(err, "put "+key)
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	return mapErr(err, "delete "+key)
}

func (s *MinioStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", mapErr(err, "sign "+key)
	}
	return u.String(), nil
}

func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return eris.Wrapf(ErrNotFound, "storage: %s", op)
	}
	return eris.Wrapf(err, "storage: %s", op)
}

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *Memory) GetBytes(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "storage: get %s", key)
	}
	return bytes.Clone(data), nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(data)
	m.types[key] = contentType
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

func (m *Memory) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + strings.TrimPrefix(key, "/"), nil
}
