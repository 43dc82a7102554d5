// Package postgres owns the connection pool and the embedded schema.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"harvester/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Options struct {
	URL      string
	MaxConns int32
}

type Service struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// New creates and verifies a pgxpool connection pool.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Service{pool: pool, log: logger.New("Postgres")}, nil
}

func (s *Service) Pool() *pgxpool.Pool { return s.pool }
func (s *Service) Close()              { s.pool.Close() }

func (s *Service) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		s.log.LogErrorf("Postgres health check failed: %v", err)
		return fmt.Errorf("postgres query failed: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.LogSuccess("Schema applied")
	return nil
}

// Schema returns the DDL applied by Migrate.
func Schema() string { return schema }
