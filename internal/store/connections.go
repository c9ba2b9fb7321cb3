package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fund_sheet_sync/internal/mapping"
	"fund_sheet_sync/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a connection id does not exist or the
// connection has been disconnected.
var ErrNotFound = errors.New("connection not found")

// ConnectionStore persists spreadsheet connections and their sync
// state. Token columns hold ciphertext produced by the platform's
// encryption boundary; this layer treats them as opaque strings.
type ConnectionStore struct {
	pool *pgxpool.Pool
}

func NewConnectionStore(pool *pgxpool.Pool) *ConnectionStore {
	return &ConnectionStore{pool: pool}
}

const connectionColumns = `
	id, fund_id, deal_id, spreadsheet_id, sheet_name, column_mapping,
	frequency, enabled, access_token, refresh_token, token_expires_at,
	account_email, status, last_synced_at, last_row_count, last_error,
	next_sync_at, created_at, updated_at, deleted_at`

// Create inserts a new connection, assigning an id when none is set.
// New connections start pending; their first sync slot is scheduled
// immediately when the schedule is active.
func (s *ConnectionStore) Create(ctx context.Context, conn *model.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Status == "" {
		conn.Status = model.StatusPending
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.NextSyncAt == nil {
		conn.NextSyncAt = conn.NextSyncTime(now)
	}

	mappingJSON, err := json.Marshal(conn.Mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal column mapping: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sheet_connections (
			id, fund_id, deal_id, spreadsheet_id, sheet_name, column_mapping,
			frequency, enabled, access_token, refresh_token, token_expires_at,
			account_email, status, next_sync_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		conn.ID, conn.FundID, nullableString(conn.DealID), conn.SpreadsheetID,
		conn.SheetName, mappingJSON, string(conn.Frequency), conn.Enabled,
		conn.AccessToken, conn.RefreshToken, conn.TokenExpiresAt,
		conn.AccountEmail, string(conn.Status), conn.NextSyncAt,
		conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

// Get loads one connection by id. Disconnected rows are not returned.
func (s *ConnectionStore) Get(ctx context.Context, id string) (*model.Connection, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+connectionColumns+`
		FROM sheet_connections
		WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanConnection(row)
}

// UpdateConfig persists user edits to mapping and schedule, and keeps
// the nextSyncAt invariant: null iff disabled or frequency off.
func (s *ConnectionStore) UpdateConfig(ctx context.Context, conn *model.Connection) error {
	mappingJSON, err := json.Marshal(conn.Mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal column mapping: %w", err)
	}

	now := time.Now().UTC()
	next := conn.NextSyncTime(now)
	conn.NextSyncAt = next

	tag, err := s.pool.Exec(ctx, `
		UPDATE sheet_connections
		SET sheet_name = $2, column_mapping = $3, frequency = $4,
		    enabled = $5, next_sync_at = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL`,
		conn.ID, conn.SheetName, mappingJSON, string(conn.Frequency),
		conn.Enabled, next, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokens persists a refreshed credential bundle.
func (s *ConnectionStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sheet_connections
		SET access_token = $2, refresh_token = $3, token_expires_at = $4,
		    updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL`,
		id, accessToken, refreshToken, expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Disconnect soft-deletes the connection and removes it from the
// schedule. No further syncs run for it afterwards.
func (s *ConnectionStore) Disconnect(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sheet_connections
		SET deleted_at = $2, enabled = FALSE, next_sync_at = NULL, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDue returns every enabled, scheduled connection whose slot has
// arrived, oldest slot first.
func (s *ConnectionStore) ListDue(ctx context.Context, now time.Time) ([]model.Connection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+connectionColumns+`
		FROM sheet_connections
		WHERE deleted_at IS NULL
		  AND enabled = TRUE
		  AND frequency <> 'off'
		  AND (next_sync_at IS NULL OR next_sync_at <= $1)
		ORDER BY next_sync_at NULLS FIRST`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due connections: %w", err)
	}
	defer rows.Close()

	var conns []model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

// MarkSyncing claims a connection for one executor. It only succeeds
// when the row is not already syncing, which is what guarantees at most
// one active sync per connection.
func (s *ConnectionStore) MarkSyncing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sheet_connections
		SET status = 'syncing', updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL AND status <> 'syncing'`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark syncing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSuccess records a completed sync and its freshly computed slot.
func (s *ConnectionStore) MarkSuccess(ctx context.Context, id string, syncedAt time.Time, rowCount int, nextSyncAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sheet_connections
		SET status = 'success', last_synced_at = $2, last_row_count = $3,
		    last_error = NULL, next_sync_at = $4, updated_at = $5
		WHERE id = $1`,
		id, syncedAt, rowCount, nextSyncAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark success: %w", err)
	}
	return nil
}

// MarkError records a failed sync. A next slot is still written so a
// transient failure retries on the natural schedule instead of
// stalling the connection forever.
func (s *ConnectionStore) MarkError(ctx context.Context, id, message string, nextSyncAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sheet_connections
		SET status = 'error', last_error = $2, next_sync_at = $3, updated_at = $4
		WHERE id = $1`,
		id, message, nextSyncAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark error: %w", err)
	}
	return nil
}

// ReleaseStale reconciles connections abandoned mid-sync by a previous
// process lifetime: any row still 'syncing' whose last write predates
// this process start is forced to error so the scheduler can pick it
// up again.
func (s *ConnectionStore) ReleaseStale(ctx context.Context, processStart time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sheet_connections
		SET status = 'error',
		    last_error = 'sync interrupted by process restart (stale lock)',
		    updated_at = $2
		WHERE status = 'syncing' AND updated_at < $1`,
		processStart, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale syncs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanConnection(row pgx.Row) (*model.Connection, error) {
	var (
		conn        model.Connection
		dealID      *string
		mappingJSON []byte
		frequency   string
		status      string
		lastError   *string
	)
	err := row.Scan(
		&conn.ID, &conn.FundID, &dealID, &conn.SpreadsheetID, &conn.SheetName,
		&mappingJSON, &frequency, &conn.Enabled, &conn.AccessToken,
		&conn.RefreshToken, &conn.TokenExpiresAt, &conn.AccountEmail,
		&status, &conn.LastSyncedAt, &conn.LastRowCount, &lastError,
		&conn.NextSyncAt, &conn.CreatedAt, &conn.UpdatedAt, &conn.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if dealID != nil {
		conn.DealID = *dealID
	}
	conn.Frequency = model.Frequency(frequency)
	conn.Status = model.SyncStatus(status)
	conn.LastError = lastError
	if len(mappingJSON) > 0 {
		var entries []mapping.Entry
		if err := json.Unmarshal(mappingJSON, &entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal column mapping: %w", err)
		}
		conn.Mapping = entries
	}
	return &conn, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
