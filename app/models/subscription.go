package models

import (
	"time"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusExpired   = "expired"
)

// Subscription is a provisioned VPN account: exactly one remote account
// (RemoteUsername on PanelID) backs it, and exactly one completed payment
// created it. Status is derived from usage and expiry, never set directly
// from outside the subscription manager.
type Subscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	CustomerID       uint       `gorm:"not null;index" json:"customer_id"`
	PlanID           uint       `gorm:"not null;index" json:"plan_id"`
	PanelID          uint       `gorm:"not null;index:ux_subscriptions_panel_username,unique,priority:1" json:"panel_id"`
	PaymentID        uint       `gorm:"not null;index:ux_subscriptions_payment,unique" json:"payment_id"`
	RemoteUsername   string     `gorm:"type:varchar(100);not null;index:ux_subscriptions_panel_username,unique,priority:2" json:"remote_username"`
	RemoteCredential string     `gorm:"type:varchar(191);default:''" json:"-"`
	DataLimitGB      float64    `gorm:"not null" json:"data_limit_gb"`
	UsedDataGB       float64    `gorm:"not null;default:0" json:"used_data_gb"`
	ExpiresAt        time.Time  `gorm:"not null;index" json:"expires_at"`
	Status           string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	SubscriptionURL  string     `gorm:"type:varchar(500);default:''" json:"subscription_url"`
	LastSyncedAt     *time.Time `gorm:"type:timestamp;default:null" json:"last_synced_at"`
	ExpiryNotifiedAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	QuotaNotifiedAt  *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Customer *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Plan     *Plan     `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Panel    *Panel    `gorm:"foreignKey:PanelID" json:"panel,omitempty"`
}

// ComputeSubscriptionStatus derives the status from usage and expiry. Expiry
// wins over quota exhaustion; order of the triggering writes does not matter.
func ComputeSubscriptionStatus(dataLimitGB, usedDataGB float64, expiresAt, now time.Time) string {
	if !expiresAt.After(now) {
		return SubscriptionStatusExpired
	}
	if usedDataGB >= dataLimitGB {
		return SubscriptionStatusSuspended
	}
	return SubscriptionStatusActive
}

// RemainingGB returns the unconsumed allowance, never negative.
func (s *Subscription) RemainingGB() float64 {
	remaining := s.DataLimitGB - s.UsedDataGB
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CurrentStatus recomputes the derived status against the given clock without
// touching the stored field.
func (s *Subscription) CurrentStatus(now time.Time) string {
	return ComputeSubscriptionStatus(s.DataLimitGB, s.UsedDataGB, s.ExpiresAt, now)
}

// UsageRatio returns used/limit clamped to [0,1] for display and reminders.
func (s *Subscription) UsageRatio() float64 {
	if s.DataLimitGB <= 0 {
		return 1
	}
	ratio := s.UsedDataGB / s.DataLimitGB
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}
