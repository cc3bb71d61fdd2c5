package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/contentive/orchestrator/internal/models"
)

// Store persists usage records.
type Store interface {
	Append(ctx context.Context, record *models.UsageRecord) error
}

// PostgresStore appends usage records to the ai_usage table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects, verifies the connection, and applies pool limits
// suited to an append-mostly workload.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

const insertUsage = `
INSERT INTO ai_usage (
	id, tenant_id, task_type, provider, model,
	prompt_tokens, completion_tokens, total_tokens,
	cost_usd, outcome, attempts, prompt_hash, created_at
) VALUES (
	:id, :tenant_id, :task_type, :provider, :model,
	:prompt_tokens, :completion_tokens, :total_tokens,
	:cost_usd, :outcome, :attempts, :prompt_hash, :created_at
)`

// Append inserts one usage record.
func (s *PostgresStore) Append(ctx context.Context, record *models.UsageRecord) error {
	if _, err := s.db.NamedExecContext(ctx, insertUsage, record); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
