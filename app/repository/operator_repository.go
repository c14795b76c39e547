package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// operatorRepository implements the OperatorRepository interface
type operatorRepository struct {
	db *gorm.DB
}

// NewOperatorRepository creates a new operator repository instance
func NewOperatorRepository(db *gorm.DB) OperatorRepository {
	return &operatorRepository{db: db}
}

// Create creates a new operator in the database
func (r *operatorRepository) Create(operator *models.Operator) error {
	return r.db.Create(operator).Error
}

// GetByID retrieves an operator by their ID
func (r *operatorRepository) GetByID(id uint) (*models.Operator, error) {
	var operator models.Operator
	err := r.db.First(&operator, id).Error
	if err != nil {
		return nil, err
	}
	return &operator, nil
}

// GetByEmail retrieves an operator by their email address
func (r *operatorRepository) GetByEmail(email string) (*models.Operator, error) {
	var operator models.Operator
	err := r.db.Where("email = ?", email).First(&operator).Error
	if err != nil {
		return nil, err
	}
	return &operator, nil
}

// GetByAPIKeyHash resolves an active API key hash to its operator.
func (r *operatorRepository) GetByAPIKeyHash(hash string) (*models.Operator, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var operator models.Operator
	err := r.db.Where("api_key_hash = ? AND api_key_hash <> ''", trimmed).First(&operator).Error
	if err != nil {
		return nil, err
	}
	return &operator, nil
}

// Update updates an existing operator in the database
func (r *operatorRepository) Update(operator *models.Operator) error {
	return r.db.Save(operator).Error
}

// Delete soft deletes an operator by their ID
func (r *operatorRepository) Delete(id uint) error {
	return r.db.Delete(&models.Operator{}, id).Error
}

// List retrieves a paginated list of operators
func (r *operatorRepository) List(offset, limit int) ([]models.Operator, error) {
	var operators []models.Operator
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&operators).Error
	return operators, err
}

// Count returns the total number of operators
func (r *operatorRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Operator{}).Count(&count).Error
	return count, err
}

// TouchLogin updates the last-login timestamp best-effort.
func (r *operatorRepository) TouchLogin(id uint, at time.Time) error {
	return r.db.Model(&models.Operator{}).Where("id = ?", id).
		Update("last_login_at", at).Error
}

// TouchAPIKeyUsage updates the API key last-used timestamp best-effort.
func (r *operatorRepository) TouchAPIKeyUsage(id uint, at time.Time) error {
	return r.db.Model(&models.Operator{}).Where("id = ?", id).
		Update("api_key_last_used_at", at).Error
}
