package user

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a user's role.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// User represents a registered account.
type User struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email           string     `json:"email" gorm:"uniqueIndex;not null"`
	Name            string     `json:"name"`
	PasswordHash    string     `json:"-" gorm:"not null"`
	Role            Role       `json:"role" gorm:"not null;default:member"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (User) TableName() string {
	return "users"
}

// IsVerified returns true if the user has verified their email address.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// IsAdmin returns true if the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// TokenPurpose distinguishes verification token types.
type TokenPurpose string

const (
	TokenPurposeVerifyEmail   TokenPurpose = "verify_email"
	TokenPurposeResetPassword TokenPurpose = "reset_password"
)

// VerificationToken is a single-use token for email verification or
// password reset. Only the hash is stored.
type VerificationToken struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID    uuid.UUID    `gorm:"type:uuid;not null;index"`
	TokenHash string       `gorm:"not null;uniqueIndex"`
	Purpose   TokenPurpose `gorm:"not null"`
	ExpiresAt time.Time    `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

// TableName returns the database table name.
func (VerificationToken) TableName() string {
	return "verification_tokens"
}

// IsUsable returns true if the token has not been used and has not expired.
func (t *VerificationToken) IsUsable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
