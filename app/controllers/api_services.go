package controllers

import (
	"context"
	"time"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
	"github.com/mohsenbt/marzsell/internal/pkg/subscription"
)

// PaymentService is the slice of the ledger the API controllers drive.
type PaymentService interface {
	List(ctx context.Context, filter ledger.ListFilter) ([]models.Payment, int64, error)
	Get(ctx context.Context, paymentID uint) (*models.Payment, error)
	Approve(ctx context.Context, paymentID uint, operator, transactionRef string) (*models.Payment, error)
	Reject(ctx context.Context, paymentID uint, operator, reason string) (*models.Payment, error)
	Refund(ctx context.Context, paymentID uint, reason string) (*models.Payment, error)
	VerifyHostedCharge(ctx context.Context, authority, gatewayStatus string) (*models.Payment, error)
	Totals(ctx context.Context) (*ledger.Totals, error)
	TotalsByMethod(ctx context.Context) ([]ledger.MethodTotals, error)
	DailySales(ctx context.Context, days int) ([]ledger.DailyTotal, error)
}

// SubscriptionService is the slice of the subscription manager the API
// controllers drive.
type SubscriptionService interface {
	List(ctx context.Context, filter subscription.ListFilter) ([]models.Subscription, int64, error)
	Get(ctx context.Context, subID uint) (*models.Subscription, error)
	Terminate(ctx context.Context, subID uint) error
	Renew(ctx context.Context, subID uint, addDays int, addDataGB float64) (*models.Subscription, error)
	SyncUsage(ctx context.Context) (int, error)
	ReapExpired(ctx context.Context) (int, error)
	HasLivePlanSubscriptions(ctx context.Context, planID uint) (bool, error)
	CountByPanel(ctx context.Context, panelID uint) (int64, error)
	PushRemoteState(ctx context.Context, panelID uint, remoteUsername string) error
}

// PanelGateway is the slice of the panel client the API controllers drive:
// the connectivity probe and the manual reconcile retry.
type PanelGateway interface {
	TestConnectivity(ctx context.Context, panel *models.Panel) bool
	DeleteAccount(ctx context.Context, panel *models.Panel, username string) (bool, error)
}

// ReceiptSigner hands out short-lived download links for archived receipts.
// Nil when the receipt archive is disabled.
type ReceiptSigner interface {
	PresignGet(ctx context.Context, objectKey string, expires time.Duration) (string, error)
}

// Fulfiller provisions a settled payment and delivers the config to the
// paying customer's Telegram chat. The bot implements it.
type Fulfiller interface {
	FulfillPaid(chatID int64, paymentID uint) error
}

type apiServices struct {
	ledger   PaymentService
	subs     SubscriptionService
	panels   PanelGateway
	receipts ReceiptSigner
	fulfill  Fulfiller
}

var services apiServices

// InitAPI wires the shared services the API controllers use. Call once at
// startup before mounting routes. Receipts and fulfill may be nil; the
// affected endpoints then answer 503.
func InitAPI(l PaymentService, s SubscriptionService, p PanelGateway, r ReceiptSigner, f Fulfiller) {
	services = apiServices{ledger: l, subs: s, panels: p, receipts: r, fulfill: f}
}
