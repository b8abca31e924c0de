package ledgerpg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BuildPool opens a pgx pool for the rotation ledger and verifies the
// connection before handing it out, so a bad URL fails at startup rather
// than on the first refresh.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	configuration, parseErr := pgxpool.ParseConfig(databaseURL)
	if parseErr != nil {
		return nil, fmt.Errorf("ledgerpg.parse_config: %w", parseErr)
	}
	configuration.MinConns = 1
	configuration.MaxConns = 4
	configuration.MaxConnLifetime = time.Hour
	configuration.HealthCheckPeriod = time.Minute

	pool, poolErr := pgxpool.NewWithConfig(ctx, configuration)
	if poolErr != nil {
		return nil, fmt.Errorf("ledgerpg.open: %w", poolErr)
	}
	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("ledgerpg.ping: %w", pingErr)
	}
	return pool, nil
}
