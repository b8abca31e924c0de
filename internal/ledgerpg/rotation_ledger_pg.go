package ledgerpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mprlab/gatekit/internal/sessionkit"
)

// PostgresRotationLedger persists rotation state in PostgreSQL. The UPDATE
// predicate carries the presented hash, so of two racing rotations the
// database lets exactly one row change.
type PostgresRotationLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresRotationLedger constructs a Postgres ledger.
func NewPostgresRotationLedger(pool *pgxpool.Pool) *PostgresRotationLedger {
	return &PostgresRotationLedger{pool: pool}
}

// Seed upserts the subject's current token hash.
func (ledger *PostgresRotationLedger) Seed(ctx context.Context, subject string, tokenHash string, expiresUnix int64) error {
	nowUnix := time.Now().UTC().Unix()
	_, execErr := ledger.pool.Exec(ctx, `
INSERT INTO refresh_rotations (subject, token_hash, expires_unix, updated_unix)
VALUES ($1, $2, $3, $4)
ON CONFLICT (subject) DO UPDATE
SET token_hash = EXCLUDED.token_hash,
    expires_unix = EXCLUDED.expires_unix,
    updated_unix = EXCLUDED.updated_unix`,
		subject, tokenHash, expiresUnix, nowUnix)
	if execErr != nil {
		return fmt.Errorf("ledger.seed.pg: %w", execErr)
	}
	return nil
}

// Rotate swaps hashes with a conditional UPDATE evaluated atomically by the
// database.
func (ledger *PostgresRotationLedger) Rotate(ctx context.Context, subject string, presentedHash string, nextHash string, expiresUnix int64) error {
	nowUnix := time.Now().UTC().Unix()
	commandTag, execErr := ledger.pool.Exec(ctx, `
UPDATE refresh_rotations
SET token_hash = $1, expires_unix = $2, updated_unix = $3
WHERE subject = $4 AND token_hash = $5 AND expires_unix > $3`,
		nextHash, expiresUnix, nowUnix, subject, presentedHash)
	if execErr != nil {
		return fmt.Errorf("ledger.rotate.pg: %w", execErr)
	}
	if commandTag.RowsAffected() == 0 {
		var storedHash string
		scanErr := ledger.pool.QueryRow(ctx, `
SELECT token_hash FROM refresh_rotations
WHERE subject = $1 AND expires_unix > $2`,
			subject, nowUnix).Scan(&storedHash)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("ledger.rotate.pg: %w", sessionkit.ErrRotationUnknown)
		}
		if scanErr != nil {
			return fmt.Errorf("ledger.rotate.pg: %w", scanErr)
		}
		return fmt.Errorf("ledger.rotate.pg: %w", sessionkit.ErrRotationConflict)
	}
	return nil
}

// Drop deletes the subject's entry.
func (ledger *PostgresRotationLedger) Drop(ctx context.Context, subject string) error {
	_, execErr := ledger.pool.Exec(ctx, `DELETE FROM refresh_rotations WHERE subject = $1`, subject)
	if execErr != nil {
		return fmt.Errorf("ledger.drop.pg: %w", execErr)
	}
	return nil
}
