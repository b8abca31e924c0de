package ledgerpg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS refresh_rotations (
    subject TEXT PRIMARY KEY,
    token_hash TEXT NOT NULL,
    expires_unix BIGINT NOT NULL,
    updated_unix BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_rotations_expires ON refresh_rotations (expires_unix);
`)
	return err
}
