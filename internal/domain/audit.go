package domain

import "time"

type AuditLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ActorUserID string    `gorm:"type:uuid;index" json:"actor_user_id"`
	Action      string    `gorm:"size:64;index;not null" json:"action"`
	Target      string    `gorm:"size:128" json:"target"`
	Detail      string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
