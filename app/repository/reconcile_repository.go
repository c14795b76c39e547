package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// reconcileRepository implements the ReconcileRepository interface
type reconcileRepository struct {
	db *gorm.DB
}

// NewReconcileRepository creates a new reconcile repository instance
func NewReconcileRepository(db *gorm.DB) ReconcileRepository {
	return &reconcileRepository{db: db}
}

// Create records a new dead-letter entry
func (r *reconcileRepository) Create(entry *models.ReconcileEntry) error {
	return r.db.Create(entry).Error
}

// GetByID retrieves an entry by its ID
func (r *reconcileRepository) GetByID(id uint) (*models.ReconcileEntry, error) {
	var entry models.ReconcileEntry
	err := r.db.Preload("Panel").First(&entry, id).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListUnresolved retrieves entries still awaiting remote cleanup, oldest first
func (r *reconcileRepository) ListUnresolved(limit int) ([]models.ReconcileEntry, error) {
	var entries []models.ReconcileEntry
	err := r.db.Where("resolved_at IS NULL").Order("created_at ASC").
		Limit(limit).Find(&entries).Error
	return entries, err
}

// List retrieves a paginated list of all entries, newest first
func (r *reconcileRepository) List(offset, limit int) ([]models.ReconcileEntry, error) {
	var entries []models.ReconcileEntry
	err := r.db.Preload("Panel").Order("created_at DESC").
		Offset(offset).Limit(limit).Find(&entries).Error
	return entries, err
}

// RecordAttempt bumps the attempt counter and stores the latest failure
func (r *reconcileRepository) RecordAttempt(id uint, lastError string) error {
	return r.db.Model(&models.ReconcileEntry{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastError,
	}).Error
}

// MarkResolved closes an entry once the remote account is confirmed gone
func (r *reconcileRepository) MarkResolved(id uint) error {
	return r.db.Model(&models.ReconcileEntry{}).Where("id = ? AND resolved_at IS NULL", id).
		Update("resolved_at", time.Now()).Error
}

// CountUnresolved returns how many entries still need attention
func (r *reconcileRepository) CountUnresolved() (int64, error) {
	var count int64
	err := r.db.Model(&models.ReconcileEntry{}).Where("resolved_at IS NULL").Count(&count).Error
	return count, err
}
