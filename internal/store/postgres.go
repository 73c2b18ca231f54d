package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/hydra-network/hydra/internal/chain"
)

//go:embed migrations/*
var migrationsFS embed.FS

// Postgres persists blocks keyed by height and pending transactions keyed by
// identifier. Rows carry the wire-form JSON so the store stays agnostic of
// field layout.
type Postgres struct {
	pool *pgxpool.Pool
}

func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := &Postgres{pool: pool}

	// Run migrations. This is idempotent.
	if err := s.runMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (p *Postgres) runMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(p.pool)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (p *Postgres) PutBlock(ctx context.Context, b *chain.Block) error {
	data, err := b.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", b.Height, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO hydra.blocks (height, hash, data) VALUES ($1, $2, $3)
		ON CONFLICT (height) DO UPDATE SET hash = EXCLUDED.hash, data = EXCLUDED.data;
	`, b.Height, b.Hash, data)
	if err != nil {
		return fmt.Errorf("failed to write block %d: %w", b.Height, err)
	}
	return nil
}

func (p *Postgres) LoadBlocks(ctx context.Context) ([]*chain.Block, error) {
	rows, err := p.pool.Query(ctx, `SELECT data FROM hydra.blocks ORDER BY height ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*chain.Block
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan block row: %w", err)
		}
		b, err := chain.DecodeBlock(data)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// ReplaceChain swaps the entire persisted block sequence in one SQL
// transaction so a failed import never leaves a truncated chain behind.
func (p *Postgres) ReplaceChain(ctx context.Context, blocks []*chain.Block) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Ensure rollback if commit is not reached

	if _, err := tx.Exec(ctx, `DELETE FROM hydra.blocks`); err != nil {
		return fmt.Errorf("failed to clear chain: %w", err)
	}
	for _, b := range blocks {
		data, err := b.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode block %d: %w", b.Height, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO hydra.blocks (height, hash, data) VALUES ($1, $2, $3);
		`, b.Height, b.Hash, data); err != nil {
			return fmt.Errorf("failed to write block %d: %w", b.Height, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chain replacement: %w", err)
	}
	return nil
}

func (p *Postgres) PutPendingTx(ctx context.Context, t *chain.Transaction) error {
	data, err := t.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", t.ID, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO hydra.pending_transactions (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING;
	`, t.ID, data)
	if err != nil {
		return fmt.Errorf("failed to write pending transaction: %w", err)
	}
	return nil
}

func (p *Postgres) DeletePendingTx(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM hydra.pending_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending transaction: %w", err)
	}
	return nil
}

func (p *Postgres) LoadPendingTxs(ctx context.Context) ([]*chain.Transaction, error) {
	rows, err := p.pool.Query(ctx, `SELECT data FROM hydra.pending_transactions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transactions: %w", err)
	}
	defer rows.Close()

	var txs []*chain.Transaction
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan pending transaction row: %w", err)
		}
		tx, err := chain.DecodeTransaction(data)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (p *Postgres) Close() error {
	slog.Info("Closing PostgreSQL connection pool")
	p.pool.Close()
	return nil
}
