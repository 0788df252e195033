package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/credential"
)

// Tenant is a single pharmacy business account, the top-level isolation boundary.
type Tenant struct {
	ID             uint      `json:"-" gorm:"primaryKey"`
	TenantCode     int64     `json:"tenantCode" gorm:"uniqueIndex;not null"`
	BusinessName   string    `json:"businessName" gorm:"type:varchar(150);not null"`
	OwnerName      string    `json:"ownerName" gorm:"type:varchar(100);not null"`
	Mobile         string    `json:"mobile" gorm:"type:varchar(20);uniqueIndex;not null"`
	Email          string    `json:"email" gorm:"type:varchar(150);uniqueIndex;not null"`
	LicenseNo      string    `json:"licenseNo" gorm:"type:varchar(100);uniqueIndex;not null"`
	PasswordHash   string    `json:"-" gorm:"type:varchar(255);not null"`
	LastUserSuffix int64     `json:"-" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	password string `gorm:"-"`
}

// SetPassword stages a plaintext password; it is hashed when the row is saved.
func (t *Tenant) SetPassword(plain string) {
	t.password = plain
}

// BeforeSave hashes a staged password. Saves without a staged password leave the hash alone.
func (t *Tenant) BeforeSave(tx *gorm.DB) error {
	if t.password == "" {
		return nil
	}
	hash, err := credential.Hash(t.password)
	if err != nil {
		return fmt.Errorf("hash tenant password: %w", err)
	}
	t.PasswordHash = hash
	t.password = ""
	return nil
}

// MatchPassword compares candidate against the stored hash.
func (t *Tenant) MatchPassword(candidate string) bool {
	return credential.Match(t.PasswordHash, candidate)
}
