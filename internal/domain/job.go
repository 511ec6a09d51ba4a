package domain

import "time"

// UserJob ties an upstream job to the user that owns it. Streaming and proxy
// routes check ownership through these records.
type UserJob struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;index;not null" json:"user_id"`
	JobID     string    `gorm:"size:128;uniqueIndex;not null" json:"job_id"`
	Name      string    `gorm:"size:256" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
