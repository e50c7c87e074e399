package users

import (
	"errors"
	"time"

	"github.com/flockadmin/console/internal/rbac"
)

// ErrUserNotFound is returned when no account matches the identifier.
var ErrUserNotFound = errors.New("users: user not found")

// User represents a console account and the role it acts under.
type User struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	RoleID    rbac.RoleID `json:"role_id"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Principal returns the identity the user acts as.
func (u User) Principal() rbac.Principal {
	return rbac.Principal{UserID: u.ID, RoleID: u.RoleID}
}
