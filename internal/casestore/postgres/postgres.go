// Package postgres provides the PostgreSQL-backed casestore.Store.
//
// A single [pgxpool.Pool] backs all operations; [Migrate] creates the two
// tables on startup with CREATE TABLE IF NOT EXISTS, so the service can be
// pointed at an empty database.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nordlicht-labs/mayday/internal/casestore"
	"github.com/nordlicht-labs/mayday/internal/session"
)

var _ casestore.Store = (*Store)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — emergency cases and call notes
// ─────────────────────────────────────────────────────────────────────────────

const ddlCases = `
CREATE TABLE IF NOT EXISTS cases (
    id                     UUID         PRIMARY KEY,
    source                 TEXT         NOT NULL,
    full_name              TEXT         NOT NULL,
    identification_number  TEXT         NOT NULL,
    location               TEXT         NOT NULL,
    latitude               DOUBLE PRECISION,
    longitude              DOUBLE PRECISION,
    description            TEXT         NOT NULL,
    category               TEXT         NOT NULL,
    severity               INT          NOT NULL,
    status                 TEXT         NOT NULL DEFAULT 'open',
    created_at             TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cases_status   ON cases (status);
CREATE INDEX IF NOT EXISTS idx_cases_category ON cases (category);
CREATE INDEX IF NOT EXISTS idx_cases_source   ON cases (source);
`

const ddlCaseNotes = `
CREATE TABLE IF NOT EXISTS case_notes (
    id         BIGSERIAL    PRIMARY KEY,
    case_id    UUID         NOT NULL REFERENCES cases (id) ON DELETE CASCADE,
    note       TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_case_notes_case_id ON case_notes (case_id);
`

// Migrate creates the required tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCases, ddlCaseNotes} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Store is the PostgreSQL-backed case store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// CreateCase implements casestore.Store.
func (s *Store) CreateCase(ctx context.Context, source string, rec session.Extraction) (string, error) {
	if missing := rec.MissingFields(); len(missing) > 0 {
		return "", fmt.Errorf("postgres store: incomplete record, missing %v", missing)
	}

	id := uuid.NewString()
	var lat, lng *float64
	if rec.HasCoordinates {
		lat, lng = &rec.Latitude, &rec.Longitude
	}

	const q = `
INSERT INTO cases (id, source, full_name, identification_number, location,
                   latitude, longitude, description, category, severity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := s.pool.Exec(ctx, q,
		id, source, rec.FullName, rec.IdentificationNumber, rec.Location,
		lat, lng, rec.Description, string(rec.Category), rec.Severity,
	); err != nil {
		return "", fmt.Errorf("postgres store: create case: %w", err)
	}
	return id, nil
}

// AppendNote implements casestore.Store.
func (s *Store) AppendNote(ctx context.Context, caseID, note string) error {
	const q = `INSERT INTO case_notes (case_id, note) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, q, caseID, note); err != nil {
		return fmt.Errorf("postgres store: append note: %w", err)
	}
	return nil
}

// Ping reports database reachability. Wired into the readiness probe so
// a lost database drains new calls.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
