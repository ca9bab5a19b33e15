package repository

import (
	"context"

	"github.com/kartoteket/kundeimport/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// q resolves the statement executor for ctx. Statements issued under a batch
// lock join the lock transaction; everything else runs on the pool.
func q(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	return db.QuerierFrom(ctx, pool)
}
