package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/radmesh/radmesh/internal/models"
)

// ErrVoucherNotFound is returned when a voucher lookup matches nothing.
var ErrVoucherNotFound = errors.New("voucher not found")

const voucherColumns = `id, router_id, profile_id, batch, username, password,
	       status, radius_sync_status, radius_sync_error,
	       activated_at, mac_address, expires_at,
	       bytes_in, bytes_out, uptime, created_at, updated_at`

// Voucher Methods

// CreateVoucher inserts a new voucher.
func (db *DB) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO vouchers (
			id, router_id, profile_id, batch, username, password,
			status, radius_sync_status, radius_sync_error,
			activated_at, mac_address, expires_at,
			bytes_in, bytes_out, uptime, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16, $17
		)
	`, v.ID, v.RouterID, v.ProfileID, v.Batch, v.Username, v.Password,
		v.Status, v.RadiusSyncStatus, v.RadiusSyncError,
		v.ActivatedAt, v.MACAddress, v.ExpiresAt,
		v.BytesIn, v.BytesOut, v.Uptime, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create voucher: %w", err)
	}
	return nil
}

// CreateVouchers inserts a batch of vouchers in a single transaction.
func (db *DB) CreateVouchers(ctx context.Context, vouchers []*models.Voucher) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		for _, v := range vouchers {
			_, err := tx.Exec(ctx, `
				INSERT INTO vouchers (
					id, router_id, profile_id, batch, username, password,
					status, radius_sync_status,
					bytes_in, bytes_out, uptime, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			`, v.ID, v.RouterID, v.ProfileID, v.Batch, v.Username, v.Password,
				v.Status, v.RadiusSyncStatus,
				v.BytesIn, v.BytesOut, v.Uptime, v.CreatedAt, v.UpdatedAt)
			if err != nil {
				return fmt.Errorf("insert voucher %s: %w", v.Username, err)
			}
		}
		return nil
	})
}

// GetVoucherByID returns a voucher by its ID.
func (db *DB) GetVoucherByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE id = $1
	`, id)
	return scanVoucher(row)
}

// GetVoucherByUsername returns a voucher by its username, optionally scoped
// to one router. Pass uuid.Nil to search across all routers.
func (db *DB) GetVoucherByUsername(ctx context.Context, routerID uuid.UUID, username string) (*models.Voucher, error) {
	query := `
		SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE username = $1
	`
	args := []interface{}{username}
	if routerID != uuid.Nil {
		query += " AND router_id = $2"
		args = append(args, routerID)
	}
	query += " LIMIT 1"

	row := db.Pool.QueryRow(ctx, query, args...)
	return scanVoucher(row)
}

// ListVouchersByBatch returns vouchers of a batch filtered by sync status.
// Pass an empty status to list the whole batch.
func (db *DB) ListVouchersByBatch(ctx context.Context, routerID uuid.UUID, batch string, syncStatus models.SyncStatus) ([]*models.Voucher, error) {
	query := `
		SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE router_id = $1 AND batch = $2
	`
	args := []interface{}{routerID, batch}
	if syncStatus != "" {
		query += " AND radius_sync_status = $3"
		args = append(args, syncStatus)
	}
	query += " ORDER BY username"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vouchers by batch: %w", err)
	}
	defer rows.Close()

	return scanVouchers(rows)
}

// ListVouchersByStatus returns a router's vouchers in the given lifecycle
// status.
func (db *DB) ListVouchersByStatus(ctx context.Context, routerID uuid.UUID, status models.VoucherStatus) ([]*models.Voucher, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE router_id = $1 AND status = $2
		ORDER BY username
	`, routerID, status)
	if err != nil {
		return nil, fmt.Errorf("list vouchers by status: %w", err)
	}
	defer rows.Close()

	return scanVouchers(rows)
}

// ListRecentFailedVouchers returns vouchers that failed a sync within the
// window, bounded by limit. The window keeps retry sweeps away from stale
// failures that need operator attention.
func (db *DB) ListRecentFailedVouchers(ctx context.Context, routerID uuid.UUID, window time.Duration, limit int) ([]*models.Voucher, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE router_id = $1
		  AND radius_sync_status = 'failed'
		  AND updated_at >= NOW() - make_interval(secs => $2)
		ORDER BY updated_at ASC
		LIMIT $3
	`, routerID, window.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent failed vouchers: %w", err)
	}
	defer rows.Close()

	return scanVouchers(rows)
}

// ListUsernamesByRouter returns all voucher usernames known for a router.
// Used by the orphan diff endpoints.
func (db *DB) ListUsernamesByRouter(ctx context.Context, routerID uuid.UUID) (map[string]struct{}, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT username FROM vouchers WHERE router_id = $1
	`, routerID)
	if err != nil {
		return nil, fmt.Errorf("list usernames by router: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		names[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usernames: %w", err)
	}
	return names, nil
}

// UpdateVoucherSyncStatus persists the sync outcome of one voucher.
func (db *DB) UpdateVoucherSyncStatus(ctx context.Context, v *models.Voucher) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE vouchers
		SET radius_sync_status = $2, radius_sync_error = $3, updated_at = $4
		WHERE id = $1
	`, v.ID, v.RadiusSyncStatus, v.RadiusSyncError, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update voucher sync status: %w", err)
	}
	return nil
}

// MarkBatchSyncStatus moves every voucher of a batch currently in the from
// status to the to status, recording the error text. Returns the number of
// vouchers touched.
func (db *DB) MarkBatchSyncStatus(ctx context.Context, routerID uuid.UUID, batch string, from, to models.SyncStatus, errMsg string) (int64, error) {
	var errArg *string
	if errMsg != "" {
		errArg = &errMsg
	}
	result, err := db.Pool.Exec(ctx, `
		UPDATE vouchers
		SET radius_sync_status = $4, radius_sync_error = $5, updated_at = NOW()
		WHERE router_id = $1 AND batch = $2 AND radius_sync_status = $3
	`, routerID, batch, from, to, errArg)
	if err != nil {
		return 0, fmt.Errorf("mark batch sync status: %w", err)
	}
	return result.RowsAffected(), nil
}

// UpdateVoucherUsage persists counters and activation fields after an
// ingestion pass. Callers mutate the model first; write-once enforcement
// happens in UpdateVoucherActivationTx for concurrent paths.
func (db *DB) UpdateVoucherUsage(ctx context.Context, v *models.Voucher) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE vouchers
		SET status = $2, activated_at = $3, mac_address = $4, expires_at = $5,
		    bytes_in = $6, bytes_out = $7, uptime = $8, updated_at = $9
		WHERE id = $1
	`, v.ID, v.Status, v.ActivatedAt, v.MACAddress, v.ExpiresAt,
		v.BytesIn, v.BytesOut, v.Uptime, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update voucher usage: %w", err)
	}
	return nil
}

// GetVoucherForUpdateTx loads a voucher inside a transaction with a row
// lock, serializing concurrent activation attempts on the same voucher.
func (db *DB) GetVoucherForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Voucher, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanVoucher(row)
}

// UpdateVoucherActivationTx persists activation fields inside a transaction.
func (db *DB) UpdateVoucherActivationTx(ctx context.Context, tx pgx.Tx, v *models.Voucher) error {
	_, err := tx.Exec(ctx, `
		UPDATE vouchers
		SET status = $2, activated_at = $3, mac_address = $4, expires_at = $5, updated_at = $6
		WHERE id = $1
	`, v.ID, v.Status, v.ActivatedAt, v.MACAddress, v.ExpiresAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update voucher activation: %w", err)
	}
	return nil
}

// UpdateVoucherLocked loads the voucher under a row lock, applies fn, and
// persists the activation fields in the same transaction. Concurrent
// ingestion passes touching the same voucher serialize on the lock, so
// write-once fields see the committed state of the winner.
func (db *DB) UpdateVoucherLocked(ctx context.Context, id uuid.UUID, fn func(v *models.Voucher) error) (*models.Voucher, error) {
	var voucher *models.Voucher
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		v, err := db.GetVoucherForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
		if err := db.UpdateVoucherActivationTx(ctx, tx, v); err != nil {
			return err
		}
		voucher = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return voucher, nil
}

// ExpireVouchers moves active vouchers whose expiry has passed to expired.
// Returns the vouchers that were transitioned.
func (db *DB) ExpireVouchers(ctx context.Context, limit int) ([]*models.Voucher, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE vouchers
		SET status = 'expired', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM vouchers
			WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < NOW()
			LIMIT $1
		)
		RETURNING `+voucherColumns+`
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("expire vouchers: %w", err)
	}
	defer rows.Close()

	return scanVouchers(rows)
}

// DeleteVoucher removes a voucher.
func (db *DB) DeleteVoucher(ctx context.Context, id uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `DELETE FROM vouchers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete voucher: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

func scanVoucher(row pgx.Row) (*models.Voucher, error) {
	var v models.Voucher
	var statusStr, syncStatusStr string

	err := row.Scan(
		&v.ID, &v.RouterID, &v.ProfileID, &v.Batch, &v.Username, &v.Password,
		&statusStr, &syncStatusStr, &v.RadiusSyncError,
		&v.ActivatedAt, &v.MACAddress, &v.ExpiresAt,
		&v.BytesIn, &v.BytesOut, &v.Uptime, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("scan voucher: %w", err)
	}

	v.Status = models.VoucherStatus(statusStr)
	v.RadiusSyncStatus = models.SyncStatus(syncStatusStr)
	return &v, nil
}

func scanVouchers(rows pgx.Rows) ([]*models.Voucher, error) {
	var vouchers []*models.Voucher
	for rows.Next() {
		var v models.Voucher
		var statusStr, syncStatusStr string

		err := rows.Scan(
			&v.ID, &v.RouterID, &v.ProfileID, &v.Batch, &v.Username, &v.Password,
			&statusStr, &syncStatusStr, &v.RadiusSyncError,
			&v.ActivatedAt, &v.MACAddress, &v.ExpiresAt,
			&v.BytesIn, &v.BytesOut, &v.Uptime, &v.CreatedAt, &v.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}

		v.Status = models.VoucherStatus(statusStr)
		v.RadiusSyncStatus = models.SyncStatus(syncStatusStr)
		vouchers = append(vouchers, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vouchers: %w", err)
	}
	return vouchers, nil
}
