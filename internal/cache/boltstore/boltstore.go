// Package boltstore is a cache.Backend on a local bbolt file, for hosts
// running several sessions side by side on one machine.
package boltstore

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/koustreak/tessera/internal/errs"
)

var bucketName = []byte("cache")

// Store is a bbolt-backed cache.Backend. bbolt serializes writers, so
// every Set and Delete is atomic.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the cache file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to open cache file", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindDriver, "failed to create cache bucket", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			// v is only valid for the life of the transaction.
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errs.Wrap(errs.ErrKindDriver, "cache read failed", err)
	}
	return out, out != nil, nil
}

func (s *Store) Set(_ context.Context, key string, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), data)
	})
	if err != nil {
		return errs.Wrap(errs.ErrKindDriver, "cache write failed", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return errs.Wrap(errs.ErrKindDriver, "cache delete failed", err)
	}
	return nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
