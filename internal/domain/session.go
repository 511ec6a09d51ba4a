package domain

import "time"

// Session binds a hashed access/refresh token pair to a user. Raw tokens are
// never stored; the unique hash columns guarantee at most one live row per
// token value.
type Session struct {
	ID           string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string     `gorm:"type:uuid;index;not null" json:"user_id"`
	SessionHash  string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	RefreshHash  string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	IP           string     `gorm:"size:64" json:"ip"`
	DeviceInfo   string     `gorm:"size:512" json:"device_info"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	RevokedAt    *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
