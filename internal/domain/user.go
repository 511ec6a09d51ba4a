package domain

import (
	"strings"
	"time"
)

// NormalizeEmail is the canonical form used for lookups, challenge identity
// binding and the seeded admin list.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type Role string

const (
	RoleNormal Role = "normal"
	RolePro    Role = "pro"
	RoleAdmin  Role = "admin"
)

// Rank orders roles for minimum-role checks: normal < pro < admin.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RolePro:
		return 1
	default:
		return 0
	}
}

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleNormal, RolePro, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Role      Role      `gorm:"size:16;not null;default:normal" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
