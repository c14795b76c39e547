package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// panelRepository implements the PanelRepository interface
type panelRepository struct {
	db *gorm.DB
}

// NewPanelRepository creates a new panel repository instance
func NewPanelRepository(db *gorm.DB) PanelRepository {
	return &panelRepository{db: db}
}

// Create creates a new panel in the database
func (r *panelRepository) Create(panel *models.Panel) error {
	panel.NormalizeBaseURL()
	return r.db.Create(panel).Error
}

// GetByID retrieves a panel by its ID
func (r *panelRepository) GetByID(id uint) (*models.Panel, error) {
	var panel models.Panel
	err := r.db.First(&panel, id).Error
	if err != nil {
		return nil, err
	}
	return &panel, nil
}

// GetByName retrieves a panel by its unique name
func (r *panelRepository) GetByName(name string) (*models.Panel, error) {
	var panel models.Panel
	err := r.db.Where("name = ?", name).First(&panel).Error
	if err != nil {
		return nil, err
	}
	return &panel, nil
}

// GetAll retrieves every registered panel
func (r *panelRepository) GetAll() ([]models.Panel, error) {
	var panels []models.Panel
	err := r.db.Order("id ASC").Find(&panels).Error
	return panels, err
}

// Update updates an existing panel in the database
func (r *panelRepository) Update(panel *models.Panel) error {
	panel.NormalizeBaseURL()
	return r.db.Save(panel).Error
}

// UpdateConnectivity writes the advisory probe result without touching credentials.
func (r *panelRepository) UpdateConnectivity(id uint, status string, checkedAt time.Time) error {
	return r.db.Model(&models.Panel{}).Where("id = ?", id).Updates(map[string]any{
		"connectivity_status": status,
		"last_checked_at":     checkedAt,
	}).Error
}

// Delete soft deletes a panel by its ID
func (r *panelRepository) Delete(id uint) error {
	return r.db.Delete(&models.Panel{}, id).Error
}

// Count returns the total number of panels
func (r *panelRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Panel{}).Count(&count).Error
	return count, err
}
