package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface on PostgreSQL via lib/pq.
// Transitions lock the row with SELECT ... FOR UPDATE before the guarded UPDATE.
type PostgresStore struct {
	sqlStore
	logger *slog.Logger
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		sqlStore: sqlStore{db: db, dialect: dialectPostgres},
		logger:   logger.With("module", "postgres_store"),
	}, nil
}

// Migrate runs all pending database migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db, s.dialect, postgresMigrations); err != nil {
		return err
	}
	s.logger.Debug("migrations applied")
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
