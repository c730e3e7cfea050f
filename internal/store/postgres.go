package store

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on top of a pgx connection pool: raw SQL,
// explicit transactions where more than one statement must commit
// atomically, FOR UPDATE SKIP LOCKED for concurrent claim operations.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an already-configured pgx pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger.With("component", "store")}
}

// pgxUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the signal for "name already taken" across every
// CreateX method in this package.
func pgxUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
