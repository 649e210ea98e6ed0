package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearStore truncates every data table. The schema is kept.
func ClearStore(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing store tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE
		dapps,
		dapp_order,
		protocol_bindings,
		settings`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Store cleared", clearLogPrefix))
	return nil
}
