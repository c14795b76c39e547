package models

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan is a sellable offering bound to exactly one panel. Subscriptions copy
// DataLimitGB at purchase time, so later edits never alter sold subscriptions.
type Plan struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PanelID        uint           `gorm:"not null;index" json:"panel_id" validate:"required"`
	Name           string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	DataLimitGB    float64        `gorm:"not null" json:"data_limit_gb" validate:"required,gt=0"`
	DurationDays   int            `gorm:"not null" json:"duration_days" validate:"required,gt=0"`
	Price          int64          `gorm:"not null" json:"price" validate:"gte=0"`
	MaxConnections int            `gorm:"not null;default:1" json:"max_connections" validate:"gt=0"`
	Visible        bool           `gorm:"default:true" json:"visible"`
	Features       datatypes.JSON `gorm:"type:json" json:"features"`
	ViewCount      uint64         `gorm:"default:0" json:"view_count"`
	PurchaseCount  uint64         `gorm:"default:0" json:"purchase_count"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Panel *Panel `gorm:"foreignKey:PanelID" json:"panel,omitempty"`
}

func (p *Plan) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// FeatureList decodes the stored feature array, preserving order.
func (p *Plan) FeatureList() []string {
	if len(p.Features) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(p.Features, &list); err != nil {
		return nil
	}
	return list
}

// SetFeatures encodes an ordered feature list into the JSON column.
func (p *Plan) SetFeatures(list []string) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	p.Features = datatypes.JSON(raw)
	return nil
}

// DataLimitBytes converts the plan allowance to the byte unit remote panels expect.
func (p *Plan) DataLimitBytes() int64 {
	return int64(p.DataLimitGB * 1024 * 1024 * 1024)
}
