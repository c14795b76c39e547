package repository

import (
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// Create creates a new plan in the database
func (r *planRepository) Create(plan *models.Plan) error {
	return r.db.Create(plan).Error
}

// GetByID retrieves a plan by its ID
func (r *planRepository) GetByID(id uint) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Preload("Panel").First(&plan, id).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetVisible retrieves the plans customers may buy, cheapest first
func (r *planRepository) GetVisible() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("visible = ?", true).Order("price ASC").Find(&plans).Error
	return plans, err
}

// GetAll retrieves a paginated list of all plans
func (r *planRepository) GetAll(offset, limit int) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Preload("Panel").Order("id ASC").Offset(offset).Limit(limit).Find(&plans).Error
	return plans, err
}

// GetByPanel retrieves all plans owned by one panel
func (r *planRepository) GetByPanel(panelID uint) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("panel_id = ?", panelID).Order("price ASC").Find(&plans).Error
	return plans, err
}

// Update updates an existing plan in the database
func (r *planRepository) Update(plan *models.Plan) error {
	return r.db.Save(plan).Error
}

// Delete soft deletes a plan by its ID
func (r *planRepository) Delete(id uint) error {
	return r.db.Delete(&models.Plan{}, id).Error
}

// Count returns the total number of plans
func (r *planRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Plan{}).Count(&count).Error
	return count, err
}

// CountByPanel returns how many plans reference the given panel
func (r *planRepository) CountByPanel(panelID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Plan{}).Where("panel_id = ?", panelID).Count(&count).Error
	return count, err
}
