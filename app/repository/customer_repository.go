package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// customerRepository implements the CustomerRepository interface
type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new customer repository instance
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create creates a new customer in the database
func (r *customerRepository) Create(customer *models.Customer) error {
	return r.db.Create(customer).Error
}

// GetByID retrieves a customer by their ID
func (r *customerRepository) GetByID(id uint) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.First(&customer, id).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetByTelegramID retrieves a customer by their Telegram identity
func (r *customerRepository) GetByTelegramID(telegramID int64) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.Where("telegram_id = ?", telegramID).First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetOrCreateByTelegram loads the customer for a Telegram identity, creating the
// row on first contact and refreshing the profile fields on every call.
func (r *customerRepository) GetOrCreateByTelegram(telegramID int64, username, firstName string) (*models.Customer, error) {
	now := time.Now()
	customer, err := r.GetByTelegramID(telegramID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		customer = &models.Customer{
			TelegramID: telegramID,
			Username:   username,
			FirstName:  firstName,
			LastSeenAt: &now,
		}
		if err := r.db.Create(customer).Error; err != nil {
			return nil, err
		}
		return customer, nil
	}

	customer.Username = username
	customer.FirstName = firstName
	customer.LastSeenAt = &now
	if err := r.db.Save(customer).Error; err != nil {
		return nil, err
	}
	return customer, nil
}

// Update updates an existing customer in the database
func (r *customerRepository) Update(customer *models.Customer) error {
	return r.db.Save(customer).Error
}

// SetBlocked flips the blocked flag without touching any other column.
func (r *customerRepository) SetBlocked(id uint, blocked bool) error {
	return r.db.Model(&models.Customer{}).Where("id = ?", id).
		Update("blocked", blocked).Error
}

// List retrieves a paginated list of customers
func (r *customerRepository) List(offset, limit int) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&customers).Error
	return customers, err
}

// Count returns the total number of customers
func (r *customerRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Customer{}).Count(&count).Error
	return count, err
}

// ListActiveTelegramIDs returns the Telegram chat IDs of all non-blocked customers.
func (r *customerRepository) ListActiveTelegramIDs() ([]int64, error) {
	var ids []int64
	err := r.db.Model(&models.Customer{}).Where("blocked = ?", false).
		Pluck("telegram_id", &ids).Error
	return ids, err
}
