package model

import (
	"time"
)

// BaseModel holds the id and timestamp columns shared by every table.
// Orders carry additional per-stage timestamps on top of these.
type BaseModel struct {
	ID        int       `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
