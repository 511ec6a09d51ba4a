package domain

import "time"

type PremiumKeyStatus string

const (
	KeyStatusMinted   PremiumKeyStatus = "minted"
	KeyStatusRedeemed PremiumKeyStatus = "redeemed"
	KeyStatusRevoked  PremiumKeyStatus = "revoked"
)

// PremiumKey is a one-time redeemable upgrade code. SecretHash is an argon2id
// digest of the raw key; LookupHash is a keyed HMAC used for indexed lookup.
// Rows are never deleted: minted->redeemed happens at most once, revoked is
// operator-initiated only.
type PremiumKey struct {
	ID             string           `gorm:"type:uuid;primaryKey" json:"id"`
	SecretHash     string           `gorm:"size:256;not null" json:"-"`
	LookupHash     string           `gorm:"size:128;uniqueIndex;not null" json:"-"`
	IssuedByAdmin  string           `gorm:"type:uuid;index" json:"issued_by_admin"`
	Status         PremiumKeyStatus `gorm:"size:16;index;not null;default:minted" json:"status"`
	RedeemedByUser *string          `gorm:"type:uuid;index" json:"redeemed_by_user,omitempty"`
	RedeemedAt     *time.Time       `json:"redeemed_at,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
