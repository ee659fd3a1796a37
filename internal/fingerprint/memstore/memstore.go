// Package memstore provides an in-memory implementation of
// fingerprint.Store. Suitable for dev/testing; state does not survive
// a restart.
package memstore

import (
	"context"
	"sync"
	"time"
)

// Store holds fingerprints in a sync.Map so that check-and-insert is
// atomic per key without a lock shared across unrelated fingerprints.
type Store struct {
	seen sync.Map // fingerprint -> time.Time (first seen)
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{}
}

// Has reports whether the fingerprint has been recorded.
func (s *Store) Has(_ context.Context, fp string) (bool, error) {
	_, ok := s.seen.Load(fp)
	return ok, nil
}

// Add records the fingerprint; LoadOrStore makes the first writer win.
func (s *Store) Add(_ context.Context, fp string, firstSeen time.Time) (bool, error) {
	_, loaded := s.seen.LoadOrStore(fp, firstSeen)
	return !loaded, nil
}

// Prune removes entries first seen before the cutoff.
func (s *Store) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	var removed int64
	s.seen.Range(func(key, value any) bool {
		if ts, ok := value.(time.Time); ok && ts.Before(olderThan) {
			if _, loaded := s.seen.LoadAndDelete(key); loaded {
				removed++
			}
		}
		return true
	})
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
