// Package pgstore provides a PostgreSQL implementation of
// fingerprint.Store. The primary-key insert with ON CONFLICT DO
// NOTHING is the per-fingerprint atomic check-and-insert the dedup
// invariant depends on.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"
)

var tracer = otel.Tracer("github.com/linnemanlabs/clarion/internal/fingerprint/pgstore")

//go:embed schema.sql
var schema string

// Store persists fingerprints in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The pool's lifecycle belongs to the caller; Close is a no-op here.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Has reports whether the fingerprint has been recorded.
func (s *Store) Has(ctx context.Context, fp string) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Has", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fingerprints WHERE fingerprint = $1)`, fp,
	).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return exists, nil
}

// Add inserts the fingerprint; added is false when a concurrent or
// earlier Add already recorded it. Uniqueness rides on the primary
// key, so two racing inserts for the same fingerprint resolve inside
// PostgreSQL without any lock in this process.
func (s *Store) Add(ctx context.Context, fp string, firstSeen time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Add", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO fingerprints (fingerprint, first_seen) VALUES ($1, $2)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fp, firstSeen.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("insert fingerprint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Prune deletes fingerprints first seen before the cutoff.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Prune", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fingerprints WHERE first_seen < $1`, olderThan.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("prune fingerprints: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() {}
