package bot

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2/log"
	tele "gopkg.in/telebot.v3"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
	"github.com/mohsenbt/marzsell/internal/pkg/convstate"
	"github.com/mohsenbt/marzsell/internal/pkg/env"
	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
	"github.com/mohsenbt/marzsell/internal/pkg/panelapi"
)

// Callback button uniques. telebot routes callbacks by unique; the payload
// carries the entity id.
const (
	cbPlans          = "plans"
	cbPlan           = "plan"
	cbMethod         = "method"
	cbConfirm        = "paid"
	cbCancel         = "cancelflow"
	cbMySubs         = "mysubs"
	cbSub            = "sub"
	cbSubConfig      = "subconfig"
	cbRenew          = "renew"
	cbAdminMenu      = "adminmenu"
	cbAdminAddPanel  = "addpanel"
	cbAdminPending   = "pendingpays"
	cbAdminApprove   = "approvepay"
	cbAdminReject    = "rejectpay"
	cbAdminBroadcast = "broadcast"
)

// PaymentLedger is the slice of the ledger service the bot drives.
type PaymentLedger interface {
	Create(ctx context.Context, in ledger.CreateInput) (*models.Payment, error)
	Get(ctx context.Context, paymentID uint) (*models.Payment, error)
	Approve(ctx context.Context, paymentID uint, operator, transactionRef string) (*models.Payment, error)
	Reject(ctx context.Context, paymentID uint, operator, reason string) (*models.Payment, error)
	Cancel(ctx context.Context, paymentID uint, reason string) (*models.Payment, error)
	AttachReceipt(ctx context.Context, paymentID uint, key string) (*models.Payment, error)
	AttachReference(ctx context.Context, paymentID uint, reference string) (*models.Payment, error)
	InitiateHostedCharge(ctx context.Context, paymentID uint) (string, *models.Payment, error)
	List(ctx context.Context, filter ledger.ListFilter) ([]models.Payment, int64, error)
}

// SubscriptionManager is the slice of the subscription manager the bot drives.
type SubscriptionManager interface {
	Provision(ctx context.Context, paymentID uint) (*models.Subscription, error)
	Get(ctx context.Context, subID uint) (*models.Subscription, error)
	ListByCustomer(ctx context.Context, customerID uint) ([]models.Subscription, error)
}

// PanelGateway covers the remote panel calls the bot makes directly: the
// config fetch for delivery and the connectivity test during registration.
type PanelGateway interface {
	GetAccountConfig(ctx context.Context, panel *models.Panel, username string) (*panelapi.Account, error)
	TestConnectivity(ctx context.Context, panel *models.Panel) bool
}

// ReceiptStore archives transfer receipt photos. Nil disables archiving; the
// payment is then reviewed from the chat photo alone.
type ReceiptStore interface {
	Store(ctx context.Context, paymentUUID string, r io.Reader) (string, error)
}

// Repos bundles the repositories bot handlers read.
type Repos struct {
	Customer repository.CustomerRepository
	Plan     repository.PlanRepository
	Panel    repository.PanelRepository
	Setting  repository.SettingRepository
}

// Deps carries everything a running bot needs.
type Deps struct {
	Sessions *convstate.Store
	Repos    Repos
	Ledger   PaymentLedger
	Subs     SubscriptionManager
	Panels   PanelGateway
	Receipts ReceiptStore
}

// Bot is the Telegram front end: the customer purchase conversation, the
// self-service subscription menu and the admin review surface.
type Bot struct {
	tb       *tele.Bot
	sessions *convstate.Store
	repos    Repos
	ledger   PaymentLedger
	subs     SubscriptionManager
	panels   PanelGateway
	receipts ReceiptStore
	adminIDs map[int64]bool
}

// New builds the bot against the Telegram API using BOT_TOKEN and long
// polling, then registers all handlers.
func New(d Deps) (*Bot, error) {
	token := env.GetEnv("BOT_TOKEN", "")
	if token == "" {
		return nil, errors.New("BOT_TOKEN is not set")
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			if c != nil && c.Chat() != nil {
				log.Errorf("[Bot] handler error in chat %d: %v", c.Chat().ID, err)
				return
			}
			log.Errorf("[Bot] %v", err)
		},
	})
	if err != nil {
		return nil, err
	}

	b := &Bot{
		tb:       tb,
		sessions: d.Sessions,
		repos:    d.Repos,
		ledger:   d.Ledger,
		subs:     d.Subs,
		panels:   d.Panels,
		receipts: d.Receipts,
		adminIDs: make(map[int64]bool),
	}
	for _, id := range env.GetEnvInt64List("ADMIN_TELEGRAM_IDS") {
		b.adminIDs[id] = true
	}

	b.registerHandlers()
	return b, nil
}

// Start begins long polling. Blocks until Stop.
func (b *Bot) Start() {
	log.Info("[Bot] starting long polling")
	b.tb.Start()
}

// Stop ends polling and returns once in-flight handlers finish.
func (b *Bot) Stop() {
	log.Info("[Bot] stopping")
	b.tb.Stop()
}

func (b *Bot) registerHandlers() {
	b.tb.Handle("/start", b.onStart)
	b.tb.Handle("/cancel", b.onCancel)
	b.tb.Handle(tele.OnText, b.onText)
	b.tb.Handle(tele.OnPhoto, b.onPhoto)

	b.handleUnique(cbPlans, b.onShowPlans)
	b.handleUnique(cbPlan, b.onPlanChosen)
	b.handleUnique(cbMethod, b.onMethodChosen)
	b.handleUnique(cbConfirm, b.onPaymentConfirm)
	b.handleUnique(cbCancel, b.onCancel)
	b.handleUnique(cbMySubs, b.onMySubscriptions)
	b.handleUnique(cbSub, b.onSubscriptionDetail)
	b.handleUnique(cbSubConfig, b.onSubscriptionConfig)
	b.handleUnique(cbRenew, b.onRenewStart)

	b.handleUnique(cbAdminMenu, b.adminOnly(b.onAdminMenu))
	b.handleUnique(cbAdminAddPanel, b.adminOnly(b.onAdminAddPanel))
	b.handleUnique(cbAdminPending, b.adminOnly(b.onAdminPendingPayments))
	b.handleUnique(cbAdminApprove, b.adminOnly(b.onAdminApprove))
	b.handleUnique(cbAdminReject, b.adminOnly(b.onAdminReject))
	b.handleUnique(cbAdminBroadcast, b.adminOnly(b.onAdminBroadcastStart))
}

func (b *Bot) handleUnique(unique string, h tele.HandlerFunc) {
	b.tb.Handle(&tele.Btn{Unique: unique}, func(c tele.Context) error {
		// Telegram shows a spinner until the callback is answered.
		_ = c.Respond()
		return h(c)
	})
}

// customer resolves (or registers) the customer behind an update. Blocked
// customers get a short notice and a nil return.
func (b *Bot) customer(c tele.Context) (*models.Customer, error) {
	sender := c.Sender()
	if sender == nil {
		return nil, errors.New("update without sender")
	}
	customer, err := b.repos.Customer.GetOrCreateByTelegram(sender.ID, sender.Username, sender.FirstName)
	if err != nil {
		log.Errorf("[Bot] customer lookup failed for %d: %v", sender.ID, err)
		return nil, c.Send(msgTryAgain)
	}
	if customer.Blocked {
		return nil, c.Send("⛔ Your account is blocked. Contact support if you believe this is a mistake.")
	}
	return customer, nil
}

func (b *Bot) isAdmin(customer *models.Customer) bool {
	return customer.IsAdmin || b.adminIDs[customer.TelegramID]
}

// adminOnly gates a handler behind the admin check. The check runs before
// every transition of the admin sub-flow, not only at its entry.
func (b *Bot) adminOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		customer, err := b.customer(c)
		if customer == nil {
			return err
		}
		if !b.isAdmin(customer) {
			return c.Send("This action is for shop admins only.")
		}
		return h(c)
	}
}

func (b *Bot) send(chatID int64, what interface{}, opts ...interface{}) error {
	_, err := b.tb.Send(tele.ChatID(chatID), what, opts...)
	return err
}
