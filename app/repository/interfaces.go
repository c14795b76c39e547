package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
)

// OperatorRepository defines the interface for admin-account database operations
type OperatorRepository interface {
	Create(operator *models.Operator) error
	GetByID(id uint) (*models.Operator, error)
	GetByEmail(email string) (*models.Operator, error)
	GetByAPIKeyHash(hash string) (*models.Operator, error)
	Update(operator *models.Operator) error
	Delete(id uint) error
	List(offset, limit int) ([]models.Operator, error)
	Count() (int64, error)
	TouchLogin(id uint, at time.Time) error
	TouchAPIKeyUsage(id uint, at time.Time) error
}

// CustomerRepository defines the interface for Telegram-customer database operations
type CustomerRepository interface {
	Create(customer *models.Customer) error
	GetByID(id uint) (*models.Customer, error)
	GetByTelegramID(telegramID int64) (*models.Customer, error)
	GetOrCreateByTelegram(telegramID int64, username, firstName string) (*models.Customer, error)
	Update(customer *models.Customer) error
	SetBlocked(id uint, blocked bool) error
	List(offset, limit int) ([]models.Customer, error)
	Count() (int64, error)
	ListActiveTelegramIDs() ([]int64, error)
}

// PanelRepository defines the interface for remote-panel database operations
type PanelRepository interface {
	Create(panel *models.Panel) error
	GetByID(id uint) (*models.Panel, error)
	GetByName(name string) (*models.Panel, error)
	GetAll() ([]models.Panel, error)
	Update(panel *models.Panel) error
	UpdateConnectivity(id uint, status string, checkedAt time.Time) error
	Delete(id uint) error
	Count() (int64, error)
}

// PlanRepository defines the interface for plan catalog database operations
type PlanRepository interface {
	Create(plan *models.Plan) error
	GetByID(id uint) (*models.Plan, error)
	GetVisible() ([]models.Plan, error)
	GetAll(offset, limit int) ([]models.Plan, error)
	GetByPanel(panelID uint) ([]models.Plan, error)
	Update(plan *models.Plan) error
	Delete(id uint) error
	Count() (int64, error)
	CountByPanel(panelID uint) (int64, error)
}

// SettingRepository defines the interface for runtime shop settings
type SettingRepository interface {
	Get() (*models.ShopSettings, error)
	Save(settings *models.ShopSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// ReconcileRepository defines the interface for the remote-cleanup dead-letter list
type ReconcileRepository interface {
	Create(entry *models.ReconcileEntry) error
	GetByID(id uint) (*models.ReconcileEntry, error)
	ListUnresolved(limit int) ([]models.ReconcileEntry, error)
	List(offset, limit int) ([]models.ReconcileEntry, error)
	RecordAttempt(id uint, lastError string) error
	MarkResolved(id uint) error
	CountUnresolved() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Operator  OperatorRepository
	Customer  CustomerRepository
	Panel     PanelRepository
	Plan      PlanRepository
	Setting   SettingRepository
	Reconcile ReconcileRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Operator:  NewOperatorRepository(db),
		Customer:  NewCustomerRepository(db),
		Panel:     NewPanelRepository(db),
		Plan:      NewPlanRepository(db),
		Setting:   NewSettingRepository(db),
		Reconcile: NewReconcileRepository(db),
	}
}
