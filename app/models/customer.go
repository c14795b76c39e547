package models

import (
	"time"

	"gorm.io/gorm"
)

// Customer is an end user identified by their Telegram account.
type Customer struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	TelegramID int64          `gorm:"uniqueIndex;not null" json:"telegram_id"`
	Username   string         `gorm:"type:varchar(100);default:''" json:"username"`
	FirstName  string         `gorm:"type:varchar(150);default:''" json:"first_name"`
	Blocked    bool           `gorm:"default:false" json:"blocked"`
	IsAdmin    bool           `gorm:"default:false" json:"is_admin"`
	LastSeenAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_seen_at"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// DisplayName returns the best human-readable label for bot replies and admin lists.
func (c *Customer) DisplayName() string {
	if c.Username != "" {
		return "@" + c.Username
	}
	if c.FirstName != "" {
		return c.FirstName
	}
	return "user"
}
