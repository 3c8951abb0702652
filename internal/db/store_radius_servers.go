package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/radmesh/radmesh/internal/models"
)

// ErrRadiusServerNotFound is returned when a node lookup matches nothing.
var ErrRadiusServerNotFound = errors.New("radius server not found")

const radiusServerColumns = `id, user_id, name, host, auth_port, acct_port,
	       shared_secret, auth_token, ssh_user, ssh_password, ssh_private_key, ssh_port,
	       installation_status, installation_log, installed_at, is_active,
	       instance_id, instance_label, region, plan, image, ipv4,
	       created_at, updated_at`

// RadiusServer Methods

// CreateRadiusServer inserts a new RADIUS node record.
func (db *DB) CreateRadiusServer(ctx context.Context, s *models.RadiusServer) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO radius_servers (
			id, user_id, name, host, auth_port, acct_port,
			shared_secret, auth_token, ssh_user, ssh_password, ssh_private_key, ssh_port,
			installation_status, installation_log, installed_at, is_active,
			instance_id, instance_label, region, plan, image, ipv4,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22,
			$23, $24
		)
	`, s.ID, s.UserID, s.Name, s.Host, s.AuthPort, s.AcctPort,
		s.SharedSecret, s.AuthToken, s.SSHUser, s.SSHPassword, s.SSHPrivateKey, s.SSHPort,
		s.InstallationStatus, s.InstallationLog, s.InstalledAt, s.IsActive,
		s.InstanceID, s.InstanceLabel, s.Region, s.Plan, s.Image, s.IPv4,
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create radius server: %w", err)
	}
	return nil
}

// GetRadiusServerByID returns a RADIUS node by its ID.
func (db *DB) GetRadiusServerByID(ctx context.Context, id uuid.UUID) (*models.RadiusServer, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+radiusServerColumns+`
		FROM radius_servers
		WHERE id = $1
	`, id)
	return scanRadiusServer(row)
}

// GetRadiusServerByToken returns the active node owning the given
// accounting auth token.
func (db *DB) GetRadiusServerByToken(ctx context.Context, token string) (*models.RadiusServer, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+radiusServerColumns+`
		FROM radius_servers
		WHERE auth_token = $1 AND is_active
	`, token)
	return scanRadiusServer(row)
}

// ListRadiusServers returns all RADIUS nodes for a user.
func (db *DB) ListRadiusServers(ctx context.Context, userID uuid.UUID) ([]*models.RadiusServer, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+radiusServerColumns+`
		FROM radius_servers
		WHERE user_id = $1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list radius servers: %w", err)
	}
	defer rows.Close()

	var servers []*models.RadiusServer
	for rows.Next() {
		s, err := scanRadiusServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate radius servers: %w", err)
	}
	return servers, nil
}

// UpdateRadiusServer persists node fields including installation state.
func (db *DB) UpdateRadiusServer(ctx context.Context, s *models.RadiusServer) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE radius_servers
		SET name = $2, host = $3, auth_port = $4, acct_port = $5,
		    shared_secret = $6, auth_token = $7,
		    ssh_user = $8, ssh_password = $9, ssh_private_key = $10, ssh_port = $11,
		    installation_status = $12, installation_log = $13, installed_at = $14,
		    is_active = $15, instance_id = $16, instance_label = $17,
		    region = $18, plan = $19, image = $20, ipv4 = $21, updated_at = $22
		WHERE id = $1
	`, s.ID, s.Name, s.Host, s.AuthPort, s.AcctPort,
		s.SharedSecret, s.AuthToken,
		s.SSHUser, s.SSHPassword, s.SSHPrivateKey, s.SSHPort,
		s.InstallationStatus, s.InstallationLog, s.InstalledAt,
		s.IsActive, s.InstanceID, s.InstanceLabel,
		s.Region, s.Plan, s.Image, s.IPv4, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update radius server: %w", err)
	}
	return nil
}

// DeleteRadiusServer removes a RADIUS node record.
func (db *DB) DeleteRadiusServer(ctx context.Context, id uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `DELETE FROM radius_servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete radius server: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRadiusServerNotFound
	}
	return nil
}

func scanRadiusServer(row pgx.Row) (*models.RadiusServer, error) {
	var s models.RadiusServer
	var statusStr string

	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.Host, &s.AuthPort, &s.AcctPort,
		&s.SharedSecret, &s.AuthToken, &s.SSHUser, &s.SSHPassword, &s.SSHPrivateKey, &s.SSHPort,
		&statusStr, &s.InstallationLog, &s.InstalledAt, &s.IsActive,
		&s.InstanceID, &s.InstanceLabel, &s.Region, &s.Plan, &s.Image, &s.IPv4,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRadiusServerNotFound
		}
		return nil, fmt.Errorf("scan radius server: %w", err)
	}

	s.InstallationStatus = models.InstallationStatus(statusStr)
	return &s, nil
}
