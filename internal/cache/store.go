// Package cache is the session's metadata cache.
//
// The keyspace is split into named binaries ("table-details", "engine",
// …). Each binary is a Store: a request-scoped map that optionally writes
// through to a persistent Backend shared with other processes. Backend
// failures never fail the caller; they degrade to a miss and are logged.
//
// Persistent keys look like:
//
//	<prefix>:<binary>:<id>
package cache

import (
	"context"
	"time"

	"github.com/koustreak/tessera/internal/logger"
	"github.com/koustreak/tessera/internal/serializer"
)

// Backend is an optional persistent byte store. Implementations must make
// each call atomic; no compare-and-swap is assumed.
type Backend interface {
	// Get returns the bytes stored at key; ok is false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Entry is one cached value. When Serialized is true Data holds the
// serializer's bytes and must be decoded before use.
type Entry struct {
	Data       any
	Serialized bool
	Created    time.Time
}

// envelope is the persistent form of an Entry.
type envelope struct {
	Created int64
	Payload []byte
}

// Store is one cache binary.
type Store struct {
	name    string
	entries map[string]*Entry
	ser     serializer.Serializer
	backend Backend
	log     *logger.Logger
	now     func() time.Time
}

// Name returns the namespaced binary name, "<prefix>:<binary>".
func (s *Store) Name() string {
	return s.name
}

func (s *Store) key(id string) string {
	return s.name + ":" + id
}

// Get returns the entry for id, consulting the backend on a local miss.
func (s *Store) Get(ctx context.Context, id string) (*Entry, bool) {
	if e, ok := s.entries[id]; ok {
		return e, true
	}
	if s.backend == nil {
		return nil, false
	}

	data, ok, err := s.backend.Get(ctx, s.key(id))
	if err != nil {
		s.log.WarnWith("cache backend get failed", err, map[string]interface{}{"key": s.key(id)})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var env envelope
	if err := s.ser.Unserialize(data, &env); err != nil {
		s.log.WarnWith("cache entry unreadable", err, map[string]interface{}{"key": s.key(id)})
		return nil, false
	}
	e := &Entry{Data: env.Payload, Serialized: true, Created: time.Unix(0, env.Created)}
	s.entries[id] = e
	return e, true
}

// Set stores data as-is for this request and writes it through to the
// backend when one is configured.
func (s *Store) Set(ctx context.Context, id string, data any) {
	e := &Entry{Data: data, Created: s.now()}
	s.entries[id] = e
	s.writeThrough(ctx, id, e, nil)
}

// SetSerialized stores a serialized snapshot of data, so later mutation of
// the caller's value cannot leak into the cache.
func (s *Store) SetSerialized(ctx context.Context, id string, data any) error {
	payload, err := s.ser.Serialize(data)
	if err != nil {
		return err
	}
	e := &Entry{Data: payload, Serialized: true, Created: s.now()}
	s.entries[id] = e
	s.writeThrough(ctx, id, e, payload)
	return nil
}

func (s *Store) writeThrough(ctx context.Context, id string, e *Entry, payload []byte) {
	if s.backend == nil {
		return
	}
	if payload == nil {
		var err error
		if payload, err = s.ser.Serialize(e.Data); err != nil {
			s.log.WarnWith("cache value not serializable", err, map[string]interface{}{"key": s.key(id)})
			return
		}
	}
	data, err := s.ser.Serialize(envelope{Created: e.Created.UnixNano(), Payload: payload})
	if err != nil {
		s.log.WarnWith("cache envelope not serializable", err, map[string]interface{}{"key": s.key(id)})
		return
	}
	if err := s.backend.Set(ctx, s.key(id), data); err != nil {
		s.log.WarnWith("cache backend set failed", err, map[string]interface{}{"key": s.key(id)})
	}
}

// Clear removes id locally and from the backend.
func (s *Store) Clear(ctx context.Context, id string) {
	delete(s.entries, id)
	if s.backend == nil {
		return
	}
	if err := s.backend.Delete(ctx, s.key(id)); err != nil {
		s.log.WarnWith("cache backend delete failed", err, map[string]interface{}{"key": s.key(id)})
	}
}

// Reset drops every request-scoped entry. Persistent entries survive.
func (s *Store) Reset() {
	s.entries = make(map[string]*Entry)
}

// Len reports how many entries are held locally.
func (s *Store) Len() int {
	return len(s.entries)
}

// Load returns the cached value for id decoded as T. Serialized entries are
// decoded with the store's serializer; a decode failure drops the entry and
// reports a miss.
func Load[T any](ctx context.Context, s *Store, id string) (T, bool) {
	var zero T
	e, ok := s.Get(ctx, id)
	if !ok {
		return zero, false
	}
	if !e.Serialized {
		v, ok := e.Data.(T)
		return v, ok
	}

	raw, _ := e.Data.([]byte)
	var v T
	if err := s.ser.Unserialize(raw, &v); err != nil {
		s.log.WarnWith("cache entry decode failed", err, map[string]interface{}{"key": s.key(id)})
		delete(s.entries, id)
		return zero, false
	}
	return v, true
}
