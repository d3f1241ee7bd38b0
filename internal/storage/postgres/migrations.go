package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ternarybob/colligo/internal/common"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// migrate applies the embedded goose migrations through a throwaway
// database/sql handle over the pool.
func (p *PostgresDB) migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(p.pool)
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return err
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		p.logger.Debug().Int("version", int(version)).Msg("Migrations applied")
	}
	return db.Close()
}

// assertVectorIndex verifies the HNSW index on embeddings exists.
func (p *PostgresDB) assertVectorIndex(ctx context.Context) error {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pg_indexes WHERE tablename = 'embeddings' AND indexname = 'idx_embeddings_vector'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check vector index: %w", err)
	}
	if count == 0 {
		return common.E(common.KindInternal, "vector index idx_embeddings_vector is missing; refusing to start")
	}
	return nil
}
