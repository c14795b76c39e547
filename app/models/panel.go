package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	PanelStatusConnected    = "connected"
	PanelStatusDisconnected = "disconnected"
	PanelStatusError        = "error"
)

// Panel is a remote Marzban instance that hosts the actual VPN accounts.
// AdminCredential is write-only: it is accepted on create/update but never
// serialized back out.
type Panel struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"type:varchar(150);uniqueIndex" json:"name" validate:"required,min=2,max=150"`
	BaseURL            string         `gorm:"type:varchar(255);not null" json:"base_url" validate:"required,url,max=255"`
	AdminUsername      string         `gorm:"type:varchar(150);not null" json:"admin_username" validate:"required,min=1,max=150"`
	AdminCredential    string         `gorm:"type:text;not null" json:"-" validate:"required,min=1"`
	ConnectivityStatus string         `gorm:"type:varchar(32);not null;default:'disconnected'" json:"connectivity_status" validate:"oneof=connected disconnected error"`
	LastCheckedAt      *time.Time     `gorm:"type:timestamp;default:null" json:"last_checked_at"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Panel) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// NormalizeBaseURL strips a trailing slash so client code can join paths naively.
func (p *Panel) NormalizeBaseURL() {
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
}
