// Package cachestore is the cache client adapter (spec §4.A): a typed,
// four-operation view over the shared evictable store. It wraps
// github.com/bradfitz/gomemcache/memcache the way the pack's
// mchtech-httpcache/memcache package wraps the same client for a plain
// RFC-cache use case; here the four primitives are exposed individually
// instead of folded into a Get/Set/Delete httpcache.Cache, because the
// reservation protocol (internal/reservation) needs Add, Incr, and CAS as
// first-class operations, not just Get/Set.
package cachestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/yourname/webcache/internal/cacheerr"
)

// ErrAlreadyPresent is returned by Add when the key already exists.
var ErrAlreadyPresent = errors.New("cachestore: key already present")

// ErrAbsent is returned by Get, Incr, and CAS when the key does not exist.
var ErrAbsent = errors.New("cachestore: key absent")

// ErrConflict is returned by CAS when the token no longer matches the
// record currently held by the store (concurrent write won the race).
var ErrConflict = errors.New("cachestore: cas conflict")

// Token is the opaque CAS token an adapter obtained during Get. It must be
// presented back to CAS unmodified; gomemcache tracks the comparison id on
// the *memcache.Item itself, so Token simply retains that Item.
type Token struct {
	item *memcache.Item
}

// Store is the adapter described in spec §4.A.
type Store struct {
	client *memcache.Client
}

// New dials a memcached-style endpoint (host:port, possibly comma-separated
// for multiple equally-weighted servers, per gomemcache.New's convention).
func New(endpoint string) *Store {
	return &Store{client: memcache.New(endpoint)}
}

// Ping verifies the store is reachable, for health checks.
func (s *Store) Ping() error {
	// gomemcache has no dedicated ping RPC; a miss on a key that should
	// never exist still proves the connection and protocol round-trip
	// work, which is all a health probe needs.
	_, err := s.client.Get("cachestore:health-probe")
	if err == nil || errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return fmt.Errorf("cachestore: ping: %w: %v", cacheerr.ErrStoreUnavailable, err)
}

// Get returns the raw bytes at key along with a Token for a later CAS.
func (s *Store) Get(key string) ([]byte, Token, error) {
	item, err := s.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, Token{}, ErrAbsent
		}
		return nil, Token{}, fmt.Errorf("cachestore: get %s: %w: %v", key, cacheerr.ErrStoreUnavailable, err)
	}
	return item.Value, Token{item: item}, nil
}

// Add performs an atomic add-if-absent. ttl of 0 means no expiration.
func (s *Store) Add(key string, value []byte, ttl time.Duration) error {
	err := s.client.Add(&memcache.Item{Key: key, Value: value, Expiration: ttlSeconds(ttl)})
	if err == nil {
		return nil
	}
	if errors.Is(err, memcache.ErrNotStored) {
		return ErrAlreadyPresent
	}
	return fmt.Errorf("cachestore: add %s: %w: %v", key, cacheerr.ErrStoreUnavailable, err)
}

// Incr atomically increments the numeric value at key by delta, failing if
// the key does not exist. This is the sibling-key increment the reservation
// protocol relies on (spec §9).
func (s *Store) Incr(key string, delta uint64) (uint64, error) {
	n, err := s.client.Increment(key, delta)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, memcache.ErrCacheMiss) {
		return 0, ErrAbsent
	}
	return 0, fmt.Errorf("cachestore: incr %s: %w: %v", key, cacheerr.ErrStoreUnavailable, err)
}

// CAS replaces the record at key with value only if tok is still the
// currently held version. ttl of 0 means no expiration.
func (s *Store) CAS(key string, tok Token, value []byte, ttl time.Duration) error {
	if tok.item == nil {
		return fmt.Errorf("cachestore: cas %s: %w: nil token", key, cacheerr.ErrStoreUnavailable)
	}
	item := tok.item
	item.Value = value
	item.Expiration = ttlSeconds(ttl)
	err := s.client.CompareAndSwap(item)
	if err == nil {
		return nil
	}
	if errors.Is(err, memcache.ErrCASConflict) {
		return ErrConflict
	}
	if errors.Is(err, memcache.ErrCacheMiss) || errors.Is(err, memcache.ErrNotStored) {
		return ErrAbsent
	}
	return fmt.Errorf("cachestore: cas %s: %w: %v", key, cacheerr.ErrStoreUnavailable, err)
}

// Delete removes key outright. Deleting a key that is already absent is
// not an error.
func (s *Store) Delete(key string) error {
	err := s.client.Delete(key)
	if err == nil || errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return fmt.Errorf("cachestore: delete %s: %w: %v", key, cacheerr.ErrStoreUnavailable, err)
}

func ttlSeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32(d / time.Second)
}
