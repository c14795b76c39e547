package models

import "time"

// ReconcileEntry is a dead-letter row for remote cleanup that failed after the
// local side already committed: the subscription row is gone but the panel
// account may still exist. The scheduler retries these; operators can resolve
// them manually once verified.
type ReconcileEntry struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PanelID        uint       `gorm:"not null;index" json:"panel_id"`
	RemoteUsername string     `gorm:"type:varchar(100);not null" json:"remote_username"`
	Reason         string     `gorm:"type:varchar(255);not null" json:"reason"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	ResolvedAt     *time.Time `gorm:"type:timestamp;default:null;index" json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Panel *Panel `gorm:"foreignKey:PanelID" json:"panel,omitempty"`
}

// IsResolved reports whether the entry no longer needs attention.
func (r *ReconcileEntry) IsResolved() bool {
	return r.ResolvedAt != nil
}
