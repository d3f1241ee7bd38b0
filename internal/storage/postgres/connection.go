package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// PostgresDB manages the pgx connection pool
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
	config *common.PostgresConfig
}

// NewPostgresDB opens the pool, runs migrations and verifies the vector
// index is in place. A database without the index would silently degrade
// every KNN to a sequential scan, so its absence is fatal.
func NewPostgresDB(ctx context.Context, logger arbor.ILogger, config *common.PostgresConfig) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if config.MaxConns > 0 {
		poolCfg.MaxConns = int32(config.MaxConns)
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	// Postgres wants milliseconds; config carries a Go duration string.
	if d := config.StatementDeadline(); d > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(d.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	p := &PostgresDB{
		pool:   pool,
		logger: logger,
		config: config,
	}

	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, common.WrapErr(common.KindUnavailable, err, "postgres is not reachable")
	}

	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := p.assertVectorIndex(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Str("database", poolCfg.ConnConfig.Database).Msg("Postgres database initialized")
	return p, nil
}

// Pool returns the underlying connection pool
func (p *PostgresDB) Pool() *pgxpool.Pool {
	return p.pool
}

// Ping verifies the database connection
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool
func (p *PostgresDB) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
