package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/radmesh/radmesh/internal/models"
)

// Voucher Ledger Methods
//
// voucher_logs is append-only: there are no update or delete methods.

// CreateVoucherLog appends a ledger entry.
func (db *DB) CreateVoucherLog(ctx context.Context, entry *models.VoucherLog) error {
	var metaBytes []byte
	if entry.Meta != nil {
		var err error
		metaBytes, err = json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("marshal voucher log meta: %w", err)
		}
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO voucher_logs (
			id, voucher_id, router_id, event_type,
			username, profile_name, router_name, reason, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.VoucherID, entry.RouterID, entry.EventType,
		entry.Username, entry.ProfileName, entry.RouterName, entry.Reason,
		metaBytes, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create voucher log: %w", err)
	}
	return nil
}

// ListVoucherLogs returns ledger entries for a voucher, newest first.
func (db *DB) ListVoucherLogs(ctx context.Context, voucherID uuid.UUID, limit int) ([]*models.VoucherLog, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, voucher_id, router_id, event_type,
		       username, profile_name, router_name, reason, meta, created_at
		FROM voucher_logs
		WHERE voucher_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, voucherID, limit)
	if err != nil {
		return nil, fmt.Errorf("list voucher logs: %w", err)
	}
	defer rows.Close()

	return scanVoucherLogs(rows)
}

// ListRouterVoucherLogs returns ledger entries for a router, newest first.
func (db *DB) ListRouterVoucherLogs(ctx context.Context, routerID uuid.UUID, limit int) ([]*models.VoucherLog, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, voucher_id, router_id, event_type,
		       username, profile_name, router_name, reason, meta, created_at
		FROM voucher_logs
		WHERE router_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, routerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list router voucher logs: %w", err)
	}
	defer rows.Close()

	return scanVoucherLogs(rows)
}

func scanVoucherLogs(rows scanner) ([]*models.VoucherLog, error) {
	var entries []*models.VoucherLog
	for rows.Next() {
		var e models.VoucherLog
		var eventTypeStr string
		var metaBytes []byte

		err := rows.Scan(
			&e.ID, &e.VoucherID, &e.RouterID, &eventTypeStr,
			&e.Username, &e.ProfileName, &e.RouterName, &e.Reason,
			&metaBytes, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan voucher log: %w", err)
		}

		e.EventType = models.VoucherEventType(eventTypeStr)
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal voucher log meta: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voucher logs: %w", err)
	}
	return entries, nil
}
