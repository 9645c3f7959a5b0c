package account

import (
	"time"

	"github.com/google/uuid"
)

// User is a staff account. SessionVersion is the session epoch: every token
// carries the value seen at issuance and stops working once it changes.
type User struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Username       string     `db:"username" json:"username"`
	FullName       string     `db:"full_name" json:"full_name"`
	Email          *string    `db:"email" json:"email,omitempty"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	Role           string     `db:"role" json:"role"`
	IsApproved     bool       `db:"is_approved" json:"is_approved"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	SessionVersion int        `db:"session_version" json:"-"`
	LastLoginAt    *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter narrows ListUsers. Nil fields are ignored.
type UserFilter struct {
	Role     string
	Approved *bool
	Active   *bool
	Query    string
}

// Privilege-affecting changes that bump the session version.
const (
	ReasonRoleChanged     = "role_changed"
	ReasonApproval        = "approval_changed"
	ReasonActivation      = "activation_changed"
	ReasonRevoked         = "revoked"
	ReasonPasswordChanged = "password_changed"
	ReasonPasswordReset   = "password_reset"
)

// UserChanges is the set of columns a privileged update touches together
// with the session bump.
type UserChanges struct {
	Role         *string
	IsApproved   *bool
	IsActive     *bool
	PasswordHash *string
}

type RegisterRequest struct {
	Username string  `json:"username" validate:"required,username"`
	Password string  `json:"password" validate:"required,min=8,max=128"`
	FullName string  `json:"full_name" validate:"required,max=200"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Role     string  `json:"role" validate:"omitempty"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

type SetRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type SetFlagRequest struct {
	Value *bool `json:"value" validate:"required"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
}
