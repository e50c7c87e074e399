package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flockadmin/console/internal/platform/db"
	"github.com/flockadmin/console/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, role_id, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		user User
		role string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.RoleID = rbac.RoleID(role)
	return user, nil
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("users: scan: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return users, nil
}

// GetUser loads one user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get %s: %w", id, err)
	}
	return user, nil
}

// AssignRole changes the role a user acts under. Custom roles are
// share-locked for the update so a concurrent delete either sees the new
// assignment or wins and makes the assignment fail.
func (r *Repository) AssignRole(ctx context.Context, id string, role rbac.RoleID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if !rbac.IsBuiltin(role) {
			var rid string
			err := tx.QueryRow(ctx, `SELECT id FROM rbac_custom_roles WHERE id = $1 FOR SHARE`, string(role)).Scan(&rid)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, role)
			}
			if err != nil {
				return fmt.Errorf("users: lock role %s: %w", role, err)
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = $3 WHERE id = $1`, id, string(role), time.Now())
		if err != nil {
			return fmt.Errorf("users: assign role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// CountUsersWithRole implements rbac.UserDirectory.
func (r *Repository) CountUsersWithRole(ctx context.Context, role rbac.RoleID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE role_id = $1`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("users: count role %s: %w", role, err)
	}
	return n, nil
}
