package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

const repoLogPrefix = "db:repository"

// Repository is the postgres-backed store for dapps, order, protocol bindings
// and settings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Clear removes all data, keeping the schema.
func (r *Repository) Clear(ctx context.Context) error {
	return ClearStore(ctx, r.pool)
}

// =========================================================================
// DAPP OPERATIONS
// =========================================================================

// ListDapps returns every dapp ordered by origin.
func (r *Repository) ListDapps(ctx context.Context) ([]ipc.Dapp, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT origin, alias, favicon_url, favicon_base64, created, modified
		 FROM dapps
		 ORDER BY origin`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListDapps query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	out := []ipc.Dapp{}
	for rows.Next() {
		row, err := scanDapp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row.Dapp())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListDapps rows failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

// GetDapp finds a dapp by origin. Returns nil, nil when not found.
func (r *Repository) GetDapp(ctx context.Context, origin string) (*ipc.Dapp, error) {
	slog.Debug(fmt.Sprintf("%s - GetDapp origin=%s", repoLogPrefix, origin))

	row := r.pool.QueryRow(ctx,
		`SELECT origin, alias, favicon_url, favicon_base64, created, modified
		 FROM dapps
		 WHERE origin = $1`, origin)

	d, err := scanDapp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dapp := d.Dapp()
	return &dapp, nil
}

// SaveDapp creates or updates a dapp.
func (r *Repository) SaveDapp(ctx context.Context, dapp ipc.Dapp) error {
	slog.Info(fmt.Sprintf("%s - SaveDapp origin=%s", repoLogPrefix, dapp.Origin))

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO dapps (origin, alias, favicon_url, favicon_base64, created, modified)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (origin) DO UPDATE SET
		   alias = EXCLUDED.alias,
		   favicon_url = EXCLUDED.favicon_url,
		   favicon_base64 = EXCLUDED.favicon_base64,
		   modified = EXCLUDED.modified`,
		dapp.Origin, dapp.Alias, dapp.FaviconURL, dapp.FaviconBase64, now)
	if err != nil {
		return fmt.Errorf("%s - SaveDapp failed: %w", repoLogPrefix, err)
	}
	return nil
}

// DeleteDapps removes the given origins.
func (r *Repository) DeleteDapps(ctx context.Context, origins []string) error {
	if len(origins) == 0 {
		return nil
	}
	slog.Info(fmt.Sprintf("%s - DeleteDapps %v", repoLogPrefix, origins))

	if _, err := r.pool.Exec(ctx, `DELETE FROM dapps WHERE origin = ANY($1)`, origins); err != nil {
		return fmt.Errorf("%s - DeleteDapps failed: %w", repoLogPrefix, err)
	}
	return nil
}

// =========================================================================
// ORDER OPERATIONS
// =========================================================================

// LoadOrder returns the pinned and unpinned lists.
func (r *Repository) LoadOrder(ctx context.Context) (ipc.DappsOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT origin, pinned, position
		 FROM dapp_order
		 ORDER BY pinned DESC, position`)
	if err != nil {
		return ipc.DappsOrder{}, fmt.Errorf("%s - LoadOrder query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		if err := rows.Scan(&o.Origin, &o.Pinned, &o.Position); err != nil {
			return ipc.DappsOrder{}, fmt.Errorf("%s - LoadOrder scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return ipc.DappsOrder{}, fmt.Errorf("%s - LoadOrder rows failed: %w", repoLogPrefix, err)
	}
	return orderFromRows(out), nil
}

// SaveOrder replaces the stored order.
func (r *Repository) SaveOrder(ctx context.Context, order ipc.DappsOrder) error {
	rows := orderRows(order)
	return r.replaceAll(ctx, "SaveOrder", `DELETE FROM dapp_order`, "dapp_order",
		[]string{"origin", "pinned", "position"}, len(rows),
		func(i int) []interface{} {
			return []interface{}{rows[i].Origin, rows[i].Pinned, rows[i].Position}
		})
}

// =========================================================================
// PROTOCOL BINDING OPERATIONS
// =========================================================================

// LoadProtocolBindings returns the protocol binding map.
func (r *Repository) LoadProtocolBindings(ctx context.Context) (ipc.ProtocolDappBindings, error) {
	rows, err := r.pool.Query(ctx, `SELECT protocol, origin, site_url FROM protocol_bindings`)
	if err != nil {
		return nil, fmt.Errorf("%s - LoadProtocolBindings query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	out := ipc.ProtocolDappBindings{}
	for rows.Next() {
		var protocol string
		var b ipc.ProtocolDappBinding
		if err := rows.Scan(&protocol, &b.Origin, &b.SiteURL); err != nil {
			return nil, fmt.Errorf("%s - LoadProtocolBindings scan failed: %w", repoLogPrefix, err)
		}
		out[protocol] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - LoadProtocolBindings rows failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

// SaveProtocolBindings replaces the protocol binding map.
func (r *Repository) SaveProtocolBindings(ctx context.Context, bindings ipc.ProtocolDappBindings) error {
	type entry struct {
		protocol string
		b        ipc.ProtocolDappBinding
	}
	entries := make([]entry, 0, len(bindings))
	for p, b := range bindings {
		entries = append(entries, entry{p, b})
	}
	return r.replaceAll(ctx, "SaveProtocolBindings", `DELETE FROM protocol_bindings`, "protocol_bindings",
		[]string{"protocol", "origin", "site_url"}, len(entries),
		func(i int) []interface{} {
			return []interface{}{entries[i].protocol, entries[i].b.Origin, entries[i].b.SiteURL}
		})
}

// replaceAll empties a table and copies n rows into it in one transaction.
func (r *Repository) replaceAll(ctx context.Context, op, deleteSQL, table string, columns []string, n int, row func(int) []interface{}) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - %s begin failed: %w", repoLogPrefix, op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteSQL); err != nil {
		return fmt.Errorf("%s - %s delete failed: %w", repoLogPrefix, op, err)
	}
	if n > 0 {
		src := pgx.CopyFromSlice(n, func(i int) ([]interface{}, error) { return row(i), nil })
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, src); err != nil {
			return fmt.Errorf("%s - %s copy failed: %w", repoLogPrefix, op, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - %s commit failed: %w", repoLogPrefix, op, err)
	}
	return nil
}

// =========================================================================
// SETTINGS OPERATIONS
// =========================================================================

// LoadAppState returns the desktop app state, nil when never saved.
func (r *Repository) LoadAppState(ctx context.Context) (*ipc.DesktopAppState, error) {
	var st ipc.DesktopAppState
	found, err := r.getSetting(ctx, SettingDesktopAppState, &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

// SaveAppState stores the desktop app state.
func (r *Repository) SaveAppState(ctx context.Context, state ipc.DesktopAppState) error {
	return r.putSetting(ctx, SettingDesktopAppState, state)
}

// LoadProxyConf returns the persisted proxy configuration, nil when never saved.
func (r *Repository) LoadProxyConf(ctx context.Context) (*ipc.AppProxyConf, error) {
	var conf ipc.AppProxyConf
	found, err := r.getSetting(ctx, SettingProxyConf, &conf)
	if err != nil || !found {
		return nil, err
	}
	return &conf, nil
}

// SaveProxyConf stores the proxy configuration.
func (r *Repository) SaveProxyConf(ctx context.Context, conf ipc.AppProxyConf) error {
	return r.putSetting(ctx, SettingProxyConf, conf)
}

func (r *Repository) getSetting(ctx context.Context, key string, v interface{}) (bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s - getSetting %s failed: %w", repoLogPrefix, key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%s - getSetting %s decode failed: %w", repoLogPrefix, key, err)
	}
	return true, nil
}

func (r *Repository) putSetting(ctx context.Context, key string, v interface{}) error {
	slog.Info(fmt.Sprintf("%s - putSetting key=%s", repoLogPrefix, key))

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s - putSetting %s encode failed: %w", repoLogPrefix, key, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO settings (key, value, modified)
		 VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, modified = EXCLUDED.modified`,
		key, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s - putSetting %s failed: %w", repoLogPrefix, key, err)
	}
	return nil
}

// =========================================================================
// SCAN HELPERS
// =========================================================================

func scanDapp(row pgx.Row) (*DappRow, error) {
	var d DappRow
	err := row.Scan(&d.Origin, &d.Alias, &d.FaviconURL, &d.FaviconBase64, &d.Created, &d.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan dapp failed: %w", repoLogPrefix, err)
	}
	return &d, nil
}
