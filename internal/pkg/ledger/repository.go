package ledger

import (
	"time"

	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// Repository provides DB operations used by the ledger service.
type Repository interface {
	Create(p *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	GetByUUID(uuid string) (*models.Payment, error)
	GetByAuthority(authority string) (*models.Payment, error)
	ListByCustomer(customerID uint, limit int) ([]models.Payment, error)
	List(filter ListFilter) ([]models.Payment, int64, error)
	// UpdateStatusIf applies updates only when the row still carries the
	// expected status. The boolean reports whether this caller won the write.
	UpdateStatusIf(id uint, expectedStatus string, updates map[string]interface{}) (bool, error)
	SetAuthorityIf(id uint, expectedStatus, authority string) (bool, error)
	SetProofIf(id uint, expectedStatus string, updates map[string]interface{}) (bool, error)
	CancelStalePending(cutoff time.Time, reason string) (int64, error)
	Totals() (*Totals, error)
	TotalsByMethod() ([]MethodTotals, error)
	DailySales(days int) ([]DailyTotal, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) GetByID(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Preload("Customer").Preload("Plan").First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetByUUID(uuid string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Preload("Customer").Preload("Plan").Where("uuid = ?", uuid).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetByAuthority(authority string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Preload("Customer").Preload("Plan").Where("gateway_authority = ?", authority).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListByCustomer(customerID uint, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := r.db.Preload("Plan").Where("customer_id = ?", customerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&payments).Error
	return payments, err
}

func (r *gormRepository) List(filter ListFilter) ([]models.Payment, int64, error) {
	q := r.db.Model(&models.Payment{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Method != "" {
		q = q.Where("method = ?", filter.Method)
	}
	if filter.CustomerID != 0 {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var payments []models.Payment
	err := q.Preload("Customer").Preload("Plan").
		Order("created_at DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&payments).Error
	return payments, total, err
}

func (r *gormRepository) UpdateStatusIf(id uint, expectedStatus string, updates map[string]interface{}) (bool, error) {
	tx := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SetAuthorityIf(id uint, expectedStatus, authority string) (bool, error) {
	tx := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ? AND (gateway_authority IS NULL OR gateway_authority = '')", id, expectedStatus).
		Update("gateway_authority", authority)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SetProofIf(id uint, expectedStatus string, updates map[string]interface{}) (bool, error) {
	tx := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CancelStalePending(cutoff time.Time, reason string) (int64, error) {
	tx := r.db.Model(&models.Payment{}).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusCancelled,
			"failure_reason": reason,
		})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) Totals() (*Totals, error) {
	var t Totals
	err := r.db.Model(&models.Payment{}).
		Select(`
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending_count,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN amount ELSE 0 END), 0) AS pending_amount,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed_count,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN amount ELSE 0 END), 0) AS completed_amount,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed_count,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled_count,
			COALESCE(SUM(CASE WHEN status = 'refunded' THEN 1 ELSE 0 END), 0) AS refunded_count,
			COALESCE(SUM(CASE WHEN status = 'refunded' THEN amount ELSE 0 END), 0) AS refunded_amount`).
		Scan(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) TotalsByMethod() ([]MethodTotals, error) {
	var rows []MethodTotals
	err := r.db.Model(&models.Payment{}).
		Select("method, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("status = ?", models.PaymentStatusCompleted).
		Group("method").
		Order("amount DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *gormRepository) DailySales(days int) ([]DailyTotal, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	var rows []DailyTotal
	err := r.db.Model(&models.Payment{}).
		Select("DATE(completed_at) AS day, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("status = ? AND completed_at >= ?", models.PaymentStatusCompleted, since).
		Group("DATE(completed_at)").
		Order("day ASC").
		Scan(&rows).Error
	return rows, err
}
