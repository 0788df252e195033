package model

import "time"

// PurposeSignup gates tenant registration.
const PurposeSignup = "signup"

// OTPChallenge is one issued passcode for a mobile number and purpose.
type OTPChallenge struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Mobile    string    `json:"mobile" gorm:"type:varchar(20);not null;index:idx_otp_mobile_purpose,priority:1"`
	Purpose   string    `json:"purpose" gorm:"type:varchar(32);not null;index:idx_otp_mobile_purpose,priority:2"`
	Code      string    `json:"-" gorm:"type:varchar(6);not null"`
	Verified  bool      `json:"verified" gorm:"not null;default:false"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName implements the gorm tabler interface.
func (OTPChallenge) TableName() string { return "otp_challenges" }

// Expired reports whether the challenge can no longer be verified at now.
func (o *OTPChallenge) Expired(now time.Time) bool {
	return o.ExpiresAt.Before(now)
}
