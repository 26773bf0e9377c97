// Package miniostore is a cache.Backend on MinIO / S3, for cache sharing
// between hosts. Each cache key is one object in a dedicated bucket.
//
// Usage:
//
//	store, err := miniostore.New(ctx, &miniostore.Config{
//	    Endpoint: "localhost:9000", AccessKey: "minioadmin", SecretKey: "minioadmin",
//	    Bucket: "tessera-cache",
//	})
//	if err != nil { ... }
//	factory := cache.NewFactory(prefix, cache.FactoryConfig{Backend: store})
package miniostore

import (
	"bytes"
	"context"
	"io"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/tessera/internal/errs"
)

// Config holds the settings needed to reach the cache bucket.
type Config struct {
	// Endpoint is the host:port of the storage server.
	Endpoint string

	AccessKey string
	SecretKey string

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool

	// Region is used by region-aware backends (e.g. AWS S3).
	Region string

	// Bucket holds the cache objects. It is created when missing.
	Bucket string
}

// Validate reports missing required fields.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errs.New(errs.ErrKindConfiguration, "minio endpoint is required")
	}
	if c.Bucket == "" {
		return errs.New(errs.ErrKindConfiguration, "minio bucket is required")
	}
	return nil
}

// Store is a MinIO implementation of cache.Backend.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	client *miniogo.Client
	bucket string
}

// New connects to MinIO, makes sure the bucket exists and returns a Store.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, mapError(err, "ping failed")
	}
	if !exists {
		err := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{Region: cfg.Region})
		if err != nil && !errs.IsObjectExists(mapError(err, "")) {
			return nil, mapError(err, "failed to create cache bucket")
		}
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return s.miss(err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return s.miss(err)
	}
	return data, true, nil
}

func (s *Store) miss(err error) ([]byte, bool, error) {
	e := mapError(err, "failed to read cache object")
	if errs.IsObjectNotFound(e) {
		return nil, false, nil
	}
	return nil, false, e
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return mapError(err, "failed to write cache object")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, miniogo.RemoveObjectOptions{})
	if err != nil {
		return mapError(err, "failed to delete cache object")
	}
	return nil
}
