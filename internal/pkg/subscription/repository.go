package subscription

import (
	"time"

	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// Repository provides DB operations used by the subscription manager. The
// payment-consuming writes run inside transactions so a payment can never
// fund two provisionings.
type Repository interface {
	GetByID(id uint) (*models.Subscription, error)
	GetByPaymentID(paymentID uint) (*models.Subscription, error)
	GetByRemote(panelID uint, remoteUsername string) (*models.Subscription, error)
	ListByCustomer(customerID uint) ([]models.Subscription, error)
	List(filter ListFilter) ([]models.Subscription, int64, error)
	ListForSync(limit int) ([]models.Subscription, error)
	ListReapable(now time.Time, limit int) ([]models.Subscription, error)
	ListExpiringBefore(cutoff time.Time, limit int) ([]models.Subscription, error)
	ListNearQuota(ratio float64, limit int) ([]models.Subscription, error)
	CreateConsumingPayment(sub *models.Subscription, paymentID uint) error
	RenewConsumingPayment(subID, paymentID uint, addDays int, addDataGB float64) error
	Extend(subID uint, addDays int, addDataGB float64) error
	UpdateUsageIf(id uint, usedGB float64, status string, syncedAt time.Time) (bool, error)
	MarkExpiredIf(id uint, fromStatus string) (bool, error)
	MarkExpiryNotified(id uint, at time.Time) error
	MarkQuotaNotified(id uint, at time.Time) error
	Delete(id uint) error
	CountLiveByPlan(planID uint) (int64, error)
	CountByPanel(panelID uint) (int64, error)
	CountByStatus(status string) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Customer").Preload("Plan").Preload("Panel").First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetByPaymentID(paymentID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Customer").Preload("Plan").Preload("Panel").
		Where("payment_id = ?", paymentID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetByRemote(panelID uint, remoteUsername string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Panel").
		Where("panel_id = ? AND remote_username = ?", panelID, remoteUsername).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListByCustomer(customerID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Plan").Preload("Panel").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) List(filter ListFilter) ([]models.Subscription, int64, error) {
	q := r.db.Model(&models.Subscription{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.CustomerID != 0 {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.PanelID != 0 {
		q = q.Where("panel_id = ?", filter.PanelID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var subs []models.Subscription
	err := q.Preload("Customer").Preload("Plan").Preload("Panel").
		Order("created_at DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&subs).Error
	return subs, total, err
}

func (r *gormRepository) ListForSync(limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	var subs []models.Subscription
	err := r.db.Preload("Panel").
		Where("status IN ?", []string{models.SubscriptionStatusActive, models.SubscriptionStatusSuspended}).
		Order("last_synced_at IS NULL DESC, last_synced_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListReapable(now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	var subs []models.Subscription
	err := r.db.Preload("Panel").
		Where("status <> ? AND expires_at <= ?", models.SubscriptionStatusExpired, now).
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListExpiringBefore(cutoff time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	var subs []models.Subscription
	err := r.db.Preload("Customer").Preload("Plan").
		Where("status = ? AND expires_at <= ? AND expiry_notified_at IS NULL",
			models.SubscriptionStatusActive, cutoff).
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListNearQuota(ratio float64, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	var subs []models.Subscription
	err := r.db.Preload("Customer").Preload("Plan").
		Where("status = ? AND data_limit_gb > 0 AND used_data_gb >= data_limit_gb * ? AND quota_notified_at IS NULL",
			models.SubscriptionStatusActive, ratio).
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateConsumingPayment(sub *models.Subscription, paymentID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ? AND fulfilled_at IS NULL", paymentID, models.PaymentStatusCompleted).
			Update("fulfilled_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPaymentConsumed
		}
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		return tx.Model(&models.Payment{}).Where("id = ?", paymentID).
			Update("subscription_id", sub.ID).Error
	})
}

func (r *gormRepository) RenewConsumingPayment(subID, paymentID uint, addDays int, addDataGB float64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ? AND fulfilled_at IS NULL", paymentID, models.PaymentStatusCompleted).
			Update("fulfilled_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPaymentConsumed
		}
		return applyExtension(tx, subID, addDays, addDataGB)
	})
}

func (r *gormRepository) Extend(subID uint, addDays int, addDataGB float64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return applyExtension(tx, subID, addDays, addDataGB)
	})
}

// applyExtension pushes expiry out from max(now, expires_at), raises the
// allowance and re-arms the reminders, then recomputes the derived status
// from the extended row.
func applyExtension(tx *gorm.DB, subID uint, addDays int, addDataGB float64) error {
	err := tx.Model(&models.Subscription{}).
		Where("id = ?", subID).
		Updates(map[string]interface{}{
			"expires_at":         gorm.Expr("DATE_ADD(GREATEST(expires_at, NOW()), INTERVAL ? DAY)", addDays),
			"data_limit_gb":      gorm.Expr("data_limit_gb + ?", addDataGB),
			"expiry_notified_at": nil,
			"quota_notified_at":  nil,
		}).Error
	if err != nil {
		return err
	}

	var fresh models.Subscription
	if err := tx.First(&fresh, subID).Error; err != nil {
		return err
	}
	return tx.Model(&models.Subscription{}).Where("id = ?", subID).
		Update("status", fresh.CurrentStatus(time.Now())).Error
}

func (r *gormRepository) UpdateUsageIf(id uint, usedGB float64, status string, syncedAt time.Time) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND used_data_gb <= ?", id, usedGB).
		Updates(map[string]interface{}{
			"used_data_gb":   usedGB,
			"status":         status,
			"last_synced_at": syncedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkExpiredIf(id uint, fromStatus string) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", models.SubscriptionStatusExpired)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkExpiryNotified(id uint, at time.Time) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).
		Update("expiry_notified_at", at).Error
}

func (r *gormRepository) MarkQuotaNotified(id uint, at time.Time) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).
		Update("quota_notified_at", at).Error
}

func (r *gormRepository) Delete(id uint) error {
	return r.db.Delete(&models.Subscription{}, id).Error
}

func (r *gormRepository) CountLiveByPlan(planID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("plan_id = ? AND status <> ?", planID, models.SubscriptionStatusExpired).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountByPanel(panelID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("panel_id = ?", panelID).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountByStatus(status string) (int64, error) {
	var count int64
	q := r.db.Model(&models.Subscription{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&count).Error
	return count, err
}
