package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flockadmin/console/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for roles and overrides.
// Matrices and override lists are stored as JSON documents, one row per key.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadRolePermissions implements RoleStore.
func (r *Repository) LoadRolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT permissions FROM rbac_role_permissions WHERE role_id = $1`, string(id)).Scan(&raw)
	if err != nil {
		return nil, mapPgError(err)
	}
	set := RolePermissionSet{}
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("%w: decode permissions of %s: %w", ErrStorageUnavailable, id, err)
	}
	return set.Clone(), nil
}

// SaveRolePermissions implements RoleStore.
func (r *Repository) SaveRolePermissions(ctx context.Context, id RoleID, set RolePermissionSet) error {
	raw, err := json.Marshal(set.Clone())
	if err != nil {
		return fmt.Errorf("rbac: encode permissions: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO rbac_role_permissions (role_id, permissions, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = EXCLUDED.updated_at`,
		string(id), raw, time.Now())
	return mapPgError(err)
}

// GetCustomRole implements RoleStore.
func (r *Repository) GetCustomRole(ctx context.Context, id RoleID) (CustomRole, error) {
	var role CustomRole
	var rid string
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name, description, created_at, updated_at
		FROM rbac_custom_roles WHERE id = $1`, string(id)).
		Scan(&rid, &role.DisplayName, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return CustomRole{}, mapPgError(err)
	}
	role.ID = RoleID(rid)
	return role, nil
}

// ListCustomRoles implements RoleStore.
func (r *Repository) ListCustomRoles(ctx context.Context) ([]CustomRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, description, created_at, updated_at
		FROM rbac_custom_roles ORDER BY created_at, id`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	var roles []CustomRole
	for rows.Next() {
		var role CustomRole
		var rid string
		if err := rows.Scan(&rid, &role.DisplayName, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, mapPgError(err)
		}
		role.ID = RoleID(rid)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return roles, nil
}

// CreateCustomRole implements RoleStore.
func (r *Repository) CreateCustomRole(ctx context.Context, role CustomRole, set RolePermissionSet) error {
	raw, err := json.Marshal(set.Clone())
	if err != nil {
		return fmt.Errorf("rbac: encode permissions: %w", err)
	}
	now := time.Now()
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rbac_custom_roles (id, display_name, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)`,
			string(role.ID), role.DisplayName, role.Description, now); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO rbac_role_permissions (role_id, permissions, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (role_id) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = EXCLUDED.updated_at`,
			string(role.ID), raw, now)
		return err
	})
	return mapPgError(err)
}

// UpdateCustomRole implements RoleStore.
func (r *Repository) UpdateCustomRole(ctx context.Context, role CustomRole, set *RolePermissionSet) error {
	var raw []byte
	if set != nil {
		var err error
		if raw, err = json.Marshal(set.Clone()); err != nil {
			return fmt.Errorf("rbac: encode permissions: %w", err)
		}
	}
	now := time.Now()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rbac_custom_roles SET display_name = $2, description = $3, updated_at = $4
			WHERE id = $1`,
			string(role.ID), role.DisplayName, role.Description, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if raw == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO rbac_role_permissions (role_id, permissions, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (role_id) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = EXCLUDED.updated_at`,
			string(role.ID), raw, now)
		return err
	})
	return mapPgError(err)
}

// DeleteCustomRole implements RoleStore. The role row stays locked while
// assignments are counted; users.Repository.AssignRole share-locks the same
// row, so no user can take the role between the count and the delete.
func (r *Repository) DeleteCustomRole(ctx context.Context, id RoleID) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var rid string
		if err := tx.QueryRow(ctx, `SELECT id FROM rbac_custom_roles WHERE id = $1 FOR UPDATE`, string(id)).Scan(&rid); err != nil {
			return err
		}
		var assigned int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM users WHERE role_id = $1`, string(id)).Scan(&assigned); err != nil {
			return err
		}
		if assigned > 0 {
			return ErrRoleInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM rbac_custom_roles WHERE id = $1`, string(id)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM rbac_role_permissions WHERE role_id = $1`, string(id))
		return err
	})
	return mapPgError(err)
}

// LoadOverrides implements OverrideStore.
func (r *Repository) LoadOverrides(ctx context.Context, userID string) (UserOverrides, error) {
	out := UserOverrides{UserID: userID, Entries: []Override{}}
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT entries, revision, updated_at FROM rbac_user_overrides WHERE user_id = $1`, userID).
		Scan(&raw, &out.Revision, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return UserOverrides{}, mapPgError(err)
	}
	if err := json.Unmarshal(raw, &out.Entries); err != nil {
		return UserOverrides{}, fmt.Errorf("%w: decode overrides of %s: %w", ErrStorageUnavailable, userID, err)
	}
	return out, nil
}

// SaveOverrides implements OverrideStore.
func (r *Repository) SaveOverrides(ctx context.Context, userID string, entries []Override, expectedRevision string) (UserOverrides, error) {
	if entries == nil {
		entries = []Override{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return UserOverrides{}, fmt.Errorf("rbac: encode overrides: %w", err)
	}
	saved := UserOverrides{
		UserID:    userID,
		Entries:   append([]Override{}, entries...),
		Revision:  uuid.NewString(),
		UpdatedAt: time.Now(),
	}
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if expectedRevision != "" {
			var current string
			err := tx.QueryRow(ctx, `SELECT revision FROM rbac_user_overrides WHERE user_id = $1 FOR UPDATE`, userID).Scan(&current)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if current != expectedRevision {
				return ErrOverridesConflict
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO rbac_user_overrides (user_id, entries, revision, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE SET entries = EXCLUDED.entries, revision = EXCLUDED.revision, updated_at = EXCLUDED.updated_at`,
			userID, raw, saved.Revision, saved.UpdatedAt)
		return err
	})
	if err != nil {
		return UserOverrides{}, mapPgError(err)
	}
	return saved, nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOverridesConflict), errors.Is(err, ErrDuplicateRole),
		errors.Is(err, ErrRoleInUse):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateRole
	}
	return wrapUnavailable(err)
}
