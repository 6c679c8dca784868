package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/migrations"
)

// Migrate applies the archive schema to the database at databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Archive stores imported operations in Postgres so they can be correlated
// after the orchestration tool has discarded them.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive connects to the archive database.
func NewArchive(ctx context.Context, connString string) (*Archive, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Archive{pool: pool}, nil
}

// Close releases the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}

// Import stores op, replacing any previously imported chain with the same id.
func (a *Archive) Import(ctx context.Context, op *models.Operation) error {
	if op.ID == "" {
		return errors.New("operation id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO operations (id, name, started_at, finished_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at,
		    imported_at = NOW()
	`, op.ID, op.Name, nullTime(op.Start), nullTime(op.End))
	if err != nil {
		return fmt.Errorf("failed to upsert operation: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM operation_steps WHERE operation_id = $1`, op.ID); err != nil {
		return fmt.Errorf("failed to clear operation steps: %w", err)
	}

	batch := &pgx.Batch{}
	for i, step := range op.Chain {
		batch.Queue(`
			INSERT INTO operation_steps
				(operation_id, position, link_id, technique_id, ability_name, executed_at, pid, paw, command)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, op.ID, i, step.LinkID, step.TechniqueID, step.AbilityName, nullTime(step.Timestamp),
			step.ProcessID, step.Paw, step.Command)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert operation steps: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExecutionChain implements Source.
func (a *Archive) ExecutionChain(ctx context.Context, operationID string) (*models.Operation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	op := &models.Operation{ID: operationID, Chain: []models.ExecutionStep{}}
	var start, end *time.Time
	err := a.pool.QueryRow(ctx,
		`SELECT name, started_at, finished_at FROM operations WHERE id = $1`, operationID,
	).Scan(&op.Name, &start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("archived operation %s: %w", operationID, ErrOperationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation: %w", err)
	}
	if start != nil {
		op.Start = start.UTC()
	}
	if end != nil {
		op.End = end.UTC()
	}

	rows, err := a.pool.Query(ctx, `
		SELECT link_id, technique_id, ability_name, executed_at, pid, paw, command
		FROM operation_steps
		WHERE operation_id = $1
		ORDER BY position
	`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load operation steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step models.ExecutionStep
		var executedAt *time.Time
		if err := rows.Scan(&step.LinkID, &step.TechniqueID, &step.AbilityName, &executedAt,
			&step.ProcessID, &step.Paw, &step.Command); err != nil {
			return nil, fmt.Errorf("failed to scan operation step: %w", err)
		}
		if executedAt != nil {
			step.Timestamp = executedAt.UTC()
		}
		op.Chain = append(op.Chain, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operation steps: %w", err)
	}

	op.MatchWindows = DeriveMatchWindows(op.Chain)
	return FillSpan(op), nil
}

// Count returns the number of archived operations.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
