package fingerprint

import (
	"context"
	"time"
)

// Store persists delivered fingerprints. Add must be atomic with
// respect to concurrent attempts for the same fingerprint: exactly one
// caller observes added=true, every other caller added=false. The
// atomicity is per fingerprint; unrelated fingerprints must not
// serialize against each other.
type Store interface {
	// Has reports whether the fingerprint has been recorded.
	Has(ctx context.Context, fp string) (bool, error)

	// Add records the fingerprint with its first-seen time. added is
	// false when the fingerprint already existed.
	Add(ctx context.Context, fp string, firstSeen time.Time) (added bool, err error)

	// Prune removes fingerprints first seen before the cutoff and
	// returns how many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	Close()
}
