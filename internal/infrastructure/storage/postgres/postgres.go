package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ticketgate/internal/infrastructure/migration"
)

type Storage struct {
	pool *pgxpool.Pool
}

// New открывает пул соединений и накатывает миграции авторитета.
func New(ctx context.Context, databaseURI string, engine migration.MigrationEngine) (*Storage, error) {
	if err := migration.NewMigration(migration.Postgres, databaseURI, engine).Up(); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Storage{pool: pool}, nil
}

// NewWithPool оборачивает готовый пул (используется в интеграционных тестах).
func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
