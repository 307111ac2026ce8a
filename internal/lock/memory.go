package lock

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps lock records in process memory. It only deduplicates
// within one process and is meant for local runs and tests.
type MemoryStore struct {
	c   *gocache.Cache
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. Expired records are swept
// every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		c:   gocache.New(gocache.NoExpiration, cleanupInterval),
		now: time.Now,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

// Create adds key unless an unexpired record exists. go-cache performs the
// check and the insert under one mutex.
func (s *MemoryStore) Create(_ context.Context, key string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	if err := s.c.Add(key, expiresAt, ttl); err != nil {
		return ErrAlreadyLocked
	}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.c.Delete(key)
	return nil
}
