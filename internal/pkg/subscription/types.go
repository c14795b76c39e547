package subscription

import (
	"context"
	"errors"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/panelapi"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotSettled    = errors.New("payment is not settled")
	ErrPaymentConsumed      = errors.New("payment already consumed by provisioning")
	ErrPlanUnavailable      = errors.New("plan or its panel unavailable")
	ErrUsageDecrease        = errors.New("usage counter cannot decrease")
	ErrMissingRenewalTarget = errors.New("renewal payment carries no subscription")
)

// PanelClient is the slice of the panel API the manager drives. The concrete
// implementation lives in panelapi; tests substitute a fake.
type PanelClient interface {
	CreateAccount(ctx context.Context, panel *models.Panel, username string, dataLimitBytes, expireUnix int64) (*panelapi.Account, error)
	GetAccount(ctx context.Context, panel *models.Panel, username string) (*panelapi.Account, error)
	ModifyAccount(ctx context.Context, panel *models.Panel, username string, dataLimitBytes, expireUnix *int64) (*panelapi.Account, error)
	SetAccountStatus(ctx context.Context, panel *models.Panel, username, status string) error
	DeleteAccount(ctx context.Context, panel *models.Panel, username string) (bool, error)
}

// PaymentStore is the read side of the ledger the manager needs.
type PaymentStore interface {
	Get(ctx context.Context, paymentID uint) (*models.Payment, error)
}

// Notifier delivers one-shot customer reminders. Nil disables reminders.
type Notifier interface {
	NotifyExpiry(sub *models.Subscription) error
	NotifyQuota(sub *models.Subscription) error
}

// PlanStore, CustomerStore and PanelStore are the lookup slices of the
// app repositories the manager consumes; the gorm-backed implementations in
// app/repository satisfy them as-is.
type PlanStore interface {
	GetByID(id uint) (*models.Plan, error)
}

type CustomerStore interface {
	GetByID(id uint) (*models.Customer, error)
}

type PanelStore interface {
	GetByID(id uint) (*models.Panel, error)
}

// ReconcileStore records remote writes that failed after local commit.
type ReconcileStore interface {
	Create(entry *models.ReconcileEntry) error
}

// ListFilter narrows admin subscription listings.
type ListFilter struct {
	Status     string
	CustomerID uint
	PanelID    uint
	Offset     int
	Limit      int
}

// Reconcile entry reasons written when a remote panel write fails after the
// local side already moved on.
const (
	ReconcileReasonDeleteFailed = "remote_delete_failed"
	ReconcileReasonRenewFailed  = "remote_renew_push_failed"
)

const quotaReminderRatio = 0.9

func bytesFromGB(gb float64) int64 {
	return int64(gb * 1024 * 1024 * 1024)
}
