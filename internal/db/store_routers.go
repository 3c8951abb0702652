package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/radmesh/radmesh/internal/models"
)

// ErrRouterNotFound is returned when a router lookup matches nothing.
var ErrRouterNotFound = errors.New("router not found")

const routerColumns = `id, user_id, parent_id, name, host, ip, nas_identifier,
	       app_key, radius_server_id, created_at, updated_at`

// Router Methods

// CreateRouter inserts a new router.
func (db *DB) CreateRouter(ctx context.Context, r *models.Router) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO routers (
			id, user_id, parent_id, name, host, ip, nas_identifier,
			app_key, radius_server_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.UserID, r.ParentID, r.Name, r.Host, r.IP, r.NASIdentifier,
		r.AppKey, r.RadiusServerID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	return nil
}

// GetRouterByID returns a router by its ID.
func (db *DB) GetRouterByID(ctx context.Context, id uuid.UUID) (*models.Router, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+routerColumns+`
		FROM routers
		WHERE id = $1
	`, id)
	return scanRouter(row)
}

// GetRouterByAppKey returns the router owning the given channel token.
func (db *DB) GetRouterByAppKey(ctx context.Context, appKey string) (*models.Router, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+routerColumns+`
		FROM routers
		WHERE app_key = $1
	`, appKey)
	return scanRouter(row)
}

// GetRouterWithParent returns a router and, when it is a NAS device, its
// parent. The parent is nil for standalone routers.
func (db *DB) GetRouterWithParent(ctx context.Context, id uuid.UUID) (*models.Router, *models.Router, error) {
	router, err := db.GetRouterByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if router.ParentID == nil {
		return router, nil, nil
	}
	parent, err := db.GetRouterByID(ctx, *router.ParentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load parent router: %w", err)
	}
	return router, parent, nil
}

// ListRoutersWithRadius returns routers directly associated with a ready,
// active RADIUS node. NAS children are excluded: sync always runs against
// the parent.
func (db *DB) ListRoutersWithRadius(ctx context.Context) ([]*models.Router, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+routerPrefixedColumns("r")+`
		FROM routers r
		JOIN radius_servers s ON s.id = r.radius_server_id
		WHERE r.parent_id IS NULL
		  AND s.installation_status = 'completed'
		  AND s.is_active
		ORDER BY r.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list routers with radius: %w", err)
	}
	defer rows.Close()

	return scanRouters(rows)
}

// ListRouters returns all routers.
func (db *DB) ListRouters(ctx context.Context) ([]*models.Router, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+routerColumns+`
		FROM routers
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list routers: %w", err)
	}
	defer rows.Close()

	return scanRouters(rows)
}

// ListRoutersByNAS returns routers whose identifier, host, or IP matches the
// reported NAS value.
func (db *DB) ListRoutersByNAS(ctx context.Context, nas string) ([]*models.Router, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+routerColumns+`
		FROM routers
		WHERE nas_identifier = $1 OR host = $1 OR ip = $1
		ORDER BY created_at
	`, nas)
	if err != nil {
		return nil, fmt.Errorf("list routers by nas: %w", err)
	}
	defer rows.Close()

	return scanRouters(rows)
}

// UpdateRouter updates router fields.
func (db *DB) UpdateRouter(ctx context.Context, r *models.Router) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE routers
		SET name = $2, host = $3, ip = $4, nas_identifier = $5,
		    app_key = $6, radius_server_id = $7, parent_id = $8, updated_at = $9
		WHERE id = $1
	`, r.ID, r.Name, r.Host, r.IP, r.NASIdentifier,
		r.AppKey, r.RadiusServerID, r.ParentID, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update router: %w", err)
	}
	return nil
}

// DeleteRouter removes a router.
func (db *DB) DeleteRouter(ctx context.Context, id uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `DELETE FROM routers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete router: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRouterNotFound
	}
	return nil
}

func routerPrefixedColumns(alias string) string {
	return alias + ".id, " + alias + ".user_id, " + alias + ".parent_id, " +
		alias + ".name, " + alias + ".host, " + alias + ".ip, " +
		alias + ".nas_identifier, " + alias + ".app_key, " +
		alias + ".radius_server_id, " + alias + ".created_at, " + alias + ".updated_at"
}

func scanRouter(row pgx.Row) (*models.Router, error) {
	var r models.Router
	err := row.Scan(
		&r.ID, &r.UserID, &r.ParentID, &r.Name, &r.Host, &r.IP, &r.NASIdentifier,
		&r.AppKey, &r.RadiusServerID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRouterNotFound
		}
		return nil, fmt.Errorf("scan router: %w", err)
	}
	return &r, nil
}

func scanRouters(rows pgx.Rows) ([]*models.Router, error) {
	var routers []*models.Router
	for rows.Next() {
		var r models.Router
		err := rows.Scan(
			&r.ID, &r.UserID, &r.ParentID, &r.Name, &r.Host, &r.IP, &r.NASIdentifier,
			&r.AppKey, &r.RadiusServerID, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan router: %w", err)
		}
		routers = append(routers, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routers: %w", err)
	}
	return routers, nil
}
