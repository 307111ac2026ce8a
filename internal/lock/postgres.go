package lock

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgExecer is the subset of pgxpool.Pool used by PostgresStore.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

const (
	insertLockSQL = `INSERT INTO dispatch_locks (lock_key, expires_at)
VALUES ($1, $2)
ON CONFLICT (lock_key) DO NOTHING`

	deleteLockSQL = `DELETE FROM dispatch_locks WHERE lock_key = $1`
)

// PostgresStore keeps lock records in the dispatch_locks table. Rows are
// never overwritten; purging rows past expires_at is left to a scheduled
// job (see migrations).
type PostgresStore struct {
	db pgExecer
}

// NewPostgresStore creates a PostgresStore over db, usually a *pgxpool.Pool.
func NewPostgresStore(db pgExecer) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

// Create inserts the row and reports ErrAlreadyLocked when the primary key
// already exists.
func (s *PostgresStore) Create(ctx context.Context, key string, expiresAt time.Time) error {
	tag, err := s.db.Exec(ctx, insertLockSQL, key, expiresAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyLocked
	}
	return nil
}

// Delete removes the row for key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, deleteLockSQL, key)
	return err
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
