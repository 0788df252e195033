package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/credential"
)

// UserSuffixWidth is the number of decimal digits reserved for the per-tenant part of a user id.
const UserSuffixWidth = 1000

// MaxUserSuffix is the largest per-tenant suffix that keeps user ids injective.
const MaxUserSuffix = UserSuffixWidth - 1

// User is a login belonging to exactly one tenant.
type User struct {
	ID           uint      `json:"-" gorm:"primaryKey"`
	TenantCode   int64     `json:"tenantCode" gorm:"index;not null"`
	UserID       int64     `json:"userId" gorm:"uniqueIndex;not null"`
	Name         string    `json:"name" gorm:"type:varchar(100);not null"`
	Role         Role      `json:"role" gorm:"type:varchar(20);not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	password string `gorm:"-"`
}

// DeriveUserID combines a tenant code and a per-tenant suffix into a process-wide unique id.
func DeriveUserID(tenantCode, suffix int64) (int64, error) {
	if suffix < 0 || suffix > MaxUserSuffix {
		return 0, fmt.Errorf("user suffix %d out of range 0..%d", suffix, MaxUserSuffix)
	}
	return tenantCode*UserSuffixWidth + suffix, nil
}

// SetPassword stages a plaintext password; it is hashed when the row is saved.
func (u *User) SetPassword(plain string) {
	u.password = plain
}

// BeforeSave hashes a staged password. Saves without a staged password leave the hash alone.
func (u *User) BeforeSave(tx *gorm.DB) error {
	if u.password == "" {
		return nil
	}
	hash, err := credential.Hash(u.password)
	if err != nil {
		return fmt.Errorf("hash user password: %w", err)
	}
	u.PasswordHash = hash
	u.password = ""
	return nil
}

// MatchPassword compares candidate against the stored hash.
func (u *User) MatchPassword(candidate string) bool {
	return credential.Match(u.PasswordHash, candidate)
}

// Sanitized returns a copy safe to attach to a request context.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.password = ""
	return u
}
