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

// ErrProfileNotFound is returned when a profile lookup matches nothing.
var ErrProfileNotFound = errors.New("profile not found")

const profileColumns = `id, user_id, name, rate_limit, shared_users,
	       validity_hours, mac_binding, price, created_at, updated_at`

// Profile Methods

// CreateProfile inserts a new service profile.
func (db *DB) CreateProfile(ctx context.Context, p *models.Profile) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO profiles (
			id, user_id, name, rate_limit, shared_users,
			validity_hours, mac_binding, price, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.UserID, p.Name, p.RateLimit, p.SharedUsers,
		p.ValidityHours, p.MACBinding, p.Price, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// GetProfileByID returns a profile by its ID.
func (db *DB) GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE id = $1
	`, id)
	return scanProfile(row)
}

// ListProfilesByUser returns all profiles owned by a user.
func (db *DB) ListProfilesByUser(ctx context.Context, userID uuid.UUID) ([]*models.Profile, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id = $1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

// ListProfilesForRouter returns the profiles visible to a router: those
// owned by the router's owner.
func (db *DB) ListProfilesForRouter(ctx context.Context, routerID uuid.UUID) ([]*models.Profile, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+profilePrefixedColumns("p")+`
		FROM profiles p
		JOIN routers r ON r.user_id = p.user_id
		WHERE r.id = $1
		ORDER BY p.name
	`, routerID)
	if err != nil {
		return nil, fmt.Errorf("list profiles for router: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

// ListProfilesUpdatedSince returns a router's profiles changed after the
// given time. Routers poll this to pick up plan edits incrementally.
func (db *DB) ListProfilesUpdatedSince(ctx context.Context, routerID uuid.UUID, since time.Time) ([]*models.Profile, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+profilePrefixedColumns("p")+`
		FROM profiles p
		JOIN routers r ON r.user_id = p.user_id
		WHERE r.id = $1 AND p.updated_at > $2
		ORDER BY p.name
	`, routerID, since)
	if err != nil {
		return nil, fmt.Errorf("list profiles updated since: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

// GetProfilesByIDs returns the given profiles keyed by ID.
func (db *DB) GetProfilesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*models.Profile{}, nil
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get profiles by ids: %w", err)
	}
	defer rows.Close()

	profiles, err := collectProfiles(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	return byID, nil
}

// ListProfileNamesByRouter returns the profile names known for a router.
// Used by the orphan profile diff endpoint.
func (db *DB) ListProfileNamesByRouter(ctx context.Context, routerID uuid.UUID) (map[string]struct{}, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT p.name
		FROM profiles p
		JOIN routers r ON r.user_id = p.user_id
		WHERE r.id = $1
	`, routerID)
	if err != nil {
		return nil, fmt.Errorf("list profile names by router: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan profile name: %w", err)
		}
		names[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile names: %w", err)
	}
	return names, nil
}

// UpdateProfile updates profile fields.
func (db *DB) UpdateProfile(ctx context.Context, p *models.Profile) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE profiles
		SET name = $2, rate_limit = $3, shared_users = $4,
		    validity_hours = $5, mac_binding = $6, price = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.Name, p.RateLimit, p.SharedUsers,
		p.ValidityHours, p.MACBinding, p.Price, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// DeleteProfile removes a profile. Fails while vouchers still reference it.
func (db *DB) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	result, err := db.Pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func profilePrefixedColumns(alias string) string {
	return alias + ".id, " + alias + ".user_id, " + alias + ".name, " +
		alias + ".rate_limit, " + alias + ".shared_users, " +
		alias + ".validity_hours, " + alias + ".mac_binding, " +
		alias + ".price, " + alias + ".created_at, " + alias + ".updated_at"
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.RateLimit, &p.SharedUsers,
		&p.ValidityHours, &p.MACBinding, &p.Price, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}

func collectProfiles(rows pgx.Rows) ([]*models.Profile, error) {
	var profiles []*models.Profile
	for rows.Next() {
		var p models.Profile
		err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &p.RateLimit, &p.SharedUsers,
			&p.ValidityHours, &p.MACBinding, &p.Price, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}
