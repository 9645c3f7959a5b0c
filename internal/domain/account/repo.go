package account

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, filter UserFilter, limit, offset int) ([]*User, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	TouchLogin(ctx context.Context, id uuid.UUID) error

	// ApplyAndBump writes changes and increments session_version in one
	// statement, returning the new version.
	ApplyAndBump(ctx context.Context, id uuid.UUID, changes UserChanges) (int, error)

	// SessionVersion reads the authoritative epoch.
	SessionVersion(ctx context.Context, id uuid.UUID) (int, error)
}
