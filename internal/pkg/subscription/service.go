package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/env"
	"github.com/mohsenbt/marzsell/internal/pkg/panelapi"
)

// Manager owns the subscription lifecycle: provisioning against remote
// panels, usage accounting, renewal, expiry and teardown. Remote writes come
// first on provisioning so a local row always has a backing account; on
// teardown the local row goes last and remote failures land in the reconcile
// queue instead of blocking.
type Manager struct {
	repo      Repository
	payments  PaymentStore
	panelAPI  PanelClient
	plans     PlanStore
	customers CustomerStore
	panels    PanelStore
	reconcile ReconcileStore
	notifier  Notifier
}

// Deps carries the manager's collaborators.
type Deps struct {
	Repo      Repository
	Payments  PaymentStore
	PanelAPI  PanelClient
	Plans     PlanStore
	Customers CustomerStore
	Panels    PanelStore
	Reconcile ReconcileStore
	Notifier  Notifier
}

// NewManager wires a subscription manager from its dependencies.
func NewManager(d Deps) *Manager {
	return &Manager{
		repo:      d.Repo,
		payments:  d.Payments,
		panelAPI:  d.PanelAPI,
		plans:     d.Plans,
		customers: d.Customers,
		panels:    d.Panels,
		reconcile: d.Reconcile,
		notifier:  d.Notifier,
	}
}

// SetNotifier attaches the reminder sink after construction. The bot is built
// after the manager, so this breaks the startup ordering knot.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// Get loads one subscription with its relations.
func (m *Manager) Get(ctx context.Context, subID uint) (*models.Subscription, error) {
	_ = ctx
	return m.getSubscription(subID)
}

// GetByPayment resolves the subscription a payment funded, if any.
func (m *Manager) GetByPayment(ctx context.Context, paymentID uint) (*models.Subscription, error) {
	_ = ctx
	sub, err := m.repo.GetByPaymentID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListByCustomer returns a customer's subscriptions, newest first.
func (m *Manager) ListByCustomer(ctx context.Context, customerID uint) ([]models.Subscription, error) {
	_ = ctx
	return m.repo.ListByCustomer(customerID)
}

// List returns filtered subscriptions for the admin API.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]models.Subscription, int64, error) {
	_ = ctx
	return m.repo.List(filter)
}

// HasLivePlanSubscriptions reports whether non-expired subscriptions still
// reference the plan. Plans with live subscriptions cannot be deleted.
func (m *Manager) HasLivePlanSubscriptions(ctx context.Context, planID uint) (bool, error) {
	_ = ctx
	count, err := m.repo.CountLiveByPlan(planID)
	return count > 0, err
}

// CountByPanel reports how many subscriptions a panel backs.
func (m *Manager) CountByPanel(ctx context.Context, panelID uint) (int64, error) {
	_ = ctx
	return m.repo.CountByPanel(panelID)
}

// Provision fulfills a settled payment exactly once. Purchase payments create
// a remote account first and then persist locally inside a transaction that
// consumes the payment; renewal payments extend their target subscription the
// same consume-once way. Retrying after any partial failure is safe.
func (m *Manager) Provision(ctx context.Context, paymentID uint) (*models.Subscription, error) {
	payment, err := m.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsSettled() {
		return nil, fmt.Errorf("%w: payment %s is %s", ErrPaymentNotSettled, payment.UUID, payment.Status)
	}

	if payment.Purpose == models.PaymentPurposeRenewal {
		return m.applyRenewal(ctx, payment)
	}

	if existing, err := m.repo.GetByPaymentID(payment.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plan, panel, err := m.planWithPanel(payment.PlanID)
	if err != nil {
		return nil, err
	}
	customer, err := m.customers.GetByID(payment.CustomerID)
	if err != nil {
		return nil, err
	}

	username := remoteUsername(customer.TelegramID, payment.UUID)
	expiresAt := time.Now().AddDate(0, 0, plan.DurationDays)

	account, err := m.panelAPI.CreateAccount(ctx, panel, username, plan.DataLimitBytes(), expiresAt.Unix())
	if err != nil {
		return nil, err
	}
	if account.ExpireUnix > 0 {
		// An earlier partial attempt may have created the account already;
		// the remote expiry is the one that counts.
		expiresAt = time.Unix(account.ExpireUnix, 0)
	}

	sub := &models.Subscription{
		CustomerID:       payment.CustomerID,
		PlanID:           plan.ID,
		PanelID:          panel.ID,
		PaymentID:        payment.ID,
		RemoteUsername:   username,
		RemoteCredential: account.Credential(),
		DataLimitGB:      plan.DataLimitGB,
		UsedDataGB:       account.UsedTrafficGB(),
		ExpiresAt:        expiresAt,
		Status:           models.SubscriptionStatusActive,
		SubscriptionURL:  account.SubscriptionURL,
	}

	if err := m.repo.CreateConsumingPayment(sub, payment.ID); err != nil {
		if errors.Is(err, ErrPaymentConsumed) {
			// A concurrent provisioner won; the remote create above was
			// idempotent, so just hand back what it made.
			return m.GetByPayment(ctx, payment.ID)
		}
		return nil, err
	}

	log.Infof("[Subscription] provisioned %s on panel %d for customer %d (payment %s)",
		username, panel.ID, payment.CustomerID, payment.UUID)
	return m.getSubscription(sub.ID)
}

// applyRenewal extends the subscription a renewal payment targets, consuming
// the payment in the same transaction. The remote panel gets the new limits
// afterwards; a failed push lands in the reconcile queue.
func (m *Manager) applyRenewal(ctx context.Context, payment *models.Payment) (*models.Subscription, error) {
	if payment.SubscriptionID == nil {
		return nil, ErrMissingRenewalTarget
	}
	sub, err := m.getSubscription(*payment.SubscriptionID)
	if err != nil {
		return nil, err
	}
	plan, _, err := m.planWithPanel(payment.PlanID)
	if err != nil {
		return nil, err
	}

	err = m.repo.RenewConsumingPayment(sub.ID, payment.ID, plan.DurationDays, plan.DataLimitGB)
	if err != nil {
		if errors.Is(err, ErrPaymentConsumed) {
			log.Infof("[Subscription] renewal replay for payment %s, subscription %d unchanged", payment.UUID, sub.ID)
			return m.getSubscription(sub.ID)
		}
		return nil, err
	}

	fresh, err := m.getSubscription(sub.ID)
	if err != nil {
		return nil, err
	}
	m.pushRenewal(ctx, fresh)
	log.Infof("[Subscription] renewed subscription %d until %s (payment %s)",
		fresh.ID, fresh.ExpiresAt.Format(time.RFC3339), payment.UUID)
	return fresh, nil
}

// Renew extends a subscription without a payment, for operator-granted time.
func (m *Manager) Renew(ctx context.Context, subID uint, addDays int, addDataGB float64) (*models.Subscription, error) {
	if addDays <= 0 && addDataGB <= 0 {
		return nil, errors.New("renewal must add days or data")
	}
	sub, err := m.getSubscription(subID)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Extend(sub.ID, addDays, addDataGB); err != nil {
		return nil, err
	}
	fresh, err := m.getSubscription(sub.ID)
	if err != nil {
		return nil, err
	}
	m.pushRenewal(ctx, fresh)
	log.Infof("[Subscription] extended subscription %d until %s", fresh.ID, fresh.ExpiresAt.Format(time.RFC3339))
	return fresh, nil
}

// pushRenewal mirrors the extended limits to the panel, best effort.
func (m *Manager) pushRenewal(ctx context.Context, sub *models.Subscription) {
	panel := sub.Panel
	if panel == nil {
		var err error
		panel, err = m.panels.GetByID(sub.PanelID)
		if err != nil {
			log.Warnf("[Subscription] cannot load panel %d for renewal push: %v", sub.PanelID, err)
			return
		}
	}

	limit := bytesFromGB(sub.DataLimitGB)
	expire := sub.ExpiresAt.Unix()
	if _, err := m.panelAPI.ModifyAccount(ctx, panel, sub.RemoteUsername, &limit, &expire); err != nil {
		m.recordReconcile(panel.ID, sub.RemoteUsername, ReconcileReasonRenewFailed, err)
		return
	}
	if sub.Status == models.SubscriptionStatusActive {
		if err := m.panelAPI.SetAccountStatus(ctx, panel, sub.RemoteUsername, panelapi.AccountStatusActive); err != nil {
			m.recordReconcile(panel.ID, sub.RemoteUsername, ReconcileReasonRenewFailed, err)
		}
	}
}

// PushRemoteState reasserts the local limit, expiry and status on the remote
// account. The reconcile retrier uses it to replay a lost renewal push; the
// local row stays authoritative.
func (m *Manager) PushRemoteState(ctx context.Context, panelID uint, remoteUsername string) error {
	sub, err := m.repo.GetByRemote(panelID, remoteUsername)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}

	panel, err := m.panels.GetByID(sub.PanelID)
	if err != nil {
		return err
	}

	limit := bytesFromGB(sub.DataLimitGB)
	expire := sub.ExpiresAt.Unix()
	if _, err := m.panelAPI.ModifyAccount(ctx, panel, sub.RemoteUsername, &limit, &expire); err != nil {
		return err
	}

	status := panelapi.AccountStatusDisabled
	if sub.Status == models.SubscriptionStatusActive {
		status = panelapi.AccountStatusActive
	}
	return m.panelAPI.SetAccountStatus(ctx, panel, sub.RemoteUsername, status)
}

// RecordUsage applies a fresh usage reading. Readings below the stored value
// are rejected; the derived status is recomputed in the same guarded write,
// and a newly suspended subscription gets a best-effort remote disable.
func (m *Manager) RecordUsage(ctx context.Context, subID uint, usedGB float64) (*models.Subscription, error) {
	sub, err := m.getSubscription(subID)
	if err != nil {
		return nil, err
	}
	if usedGB < sub.UsedDataGB {
		return nil, fmt.Errorf("%w: %0.3f < %0.3f", ErrUsageDecrease, usedGB, sub.UsedDataGB)
	}

	now := time.Now()
	status := models.ComputeSubscriptionStatus(sub.DataLimitGB, usedGB, sub.ExpiresAt, now)

	applied, err := m.repo.UpdateUsageIf(sub.ID, usedGB, status, now)
	if err != nil {
		return nil, err
	}
	if applied && status == models.SubscriptionStatusSuspended && sub.Status != models.SubscriptionStatusSuspended {
		log.Infof("[Subscription] subscription %d exhausted its quota (%0.2f/%0.2f GB)", sub.ID, usedGB, sub.DataLimitGB)
		m.disableRemote(ctx, sub)
	}
	return m.getSubscription(sub.ID)
}

// SyncUsage pulls used traffic for live subscriptions from their panels.
// Per-row failures are logged and skipped so one broken panel cannot stall
// the rest. Returns how many rows were refreshed.
func (m *Manager) SyncUsage(ctx context.Context) (int, error) {
	rows, err := m.repo.ListForSync(0)
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range rows {
		row := &rows[i]
		if row.Panel == nil {
			continue
		}
		account, err := m.panelAPI.GetAccount(ctx, row.Panel, row.RemoteUsername)
		if err != nil {
			log.Warnf("[Subscription] usage sync skipped %s on panel %d: %v", row.RemoteUsername, row.PanelID, err)
			continue
		}
		usedGB := account.UsedTrafficGB()
		if usedGB < row.UsedDataGB {
			// Panel counters reset on remote-side rebuilds; the local
			// counter never goes backwards.
			continue
		}
		if _, err := m.RecordUsage(ctx, row.ID, usedGB); err != nil {
			log.Warnf("[Subscription] usage sync failed for subscription %d: %v", row.ID, err)
			continue
		}
		synced++
	}
	return synced, nil
}

// ReapExpired sweeps subscriptions whose expiry passed into expired, one
// guarded write per row so concurrent sweeps cannot double count. Remote
// accounts of previously active rows get a best-effort disable.
func (m *Manager) ReapExpired(ctx context.Context) (int, error) {
	rows, err := m.repo.ListReapable(time.Now(), 0)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range rows {
		row := &rows[i]
		won, err := m.repo.MarkExpiredIf(row.ID, row.Status)
		if err != nil {
			log.Errorf("[Subscription] reap failed for subscription %d: %v", row.ID, err)
			continue
		}
		if !won {
			continue
		}
		reaped++
		if row.Status == models.SubscriptionStatusActive {
			m.disableRemote(ctx, row)
		}
	}
	if reaped > 0 {
		log.Infof("[Subscription] reaped %d expired subscriptions", reaped)
	}
	return reaped, nil
}

// Terminate deletes the remote account and then the local row. A remote
// failure is recorded for reconciliation and does not keep the local row
// alive.
func (m *Manager) Terminate(ctx context.Context, subID uint) error {
	sub, err := m.getSubscription(subID)
	if err != nil {
		return err
	}

	panel := sub.Panel
	if panel == nil {
		panel, err = m.panels.GetByID(sub.PanelID)
		if err != nil {
			return err
		}
	}

	if _, err := m.panelAPI.DeleteAccount(ctx, panel, sub.RemoteUsername); err != nil {
		m.recordReconcile(panel.ID, sub.RemoteUsername, ReconcileReasonDeleteFailed, err)
	}

	if err := m.repo.Delete(sub.ID); err != nil {
		return err
	}
	log.Infof("[Subscription] terminated subscription %d (%s on panel %d)", sub.ID, sub.RemoteUsername, panel.ID)
	return nil
}

// SendReminders fires the one-shot near-expiry and near-quota notifications.
// Each subscription gets each reminder at most once; renewals re-arm them.
func (m *Manager) SendReminders(ctx context.Context) (int, error) {
	_ = ctx
	if m.notifier == nil {
		return 0, nil
	}

	hours := env.GetEnvInt("REMINDER_EXPIRY_HOURS", 72)
	cutoff := time.Now().Add(time.Duration(hours) * time.Hour)

	notified := 0
	expiring, err := m.repo.ListExpiringBefore(cutoff, 0)
	if err != nil {
		return 0, err
	}
	for i := range expiring {
		sub := &expiring[i]
		if err := m.notifier.NotifyExpiry(sub); err != nil {
			log.Warnf("[Subscription] expiry reminder failed for subscription %d: %v", sub.ID, err)
			continue
		}
		if err := m.repo.MarkExpiryNotified(sub.ID, time.Now()); err != nil {
			log.Errorf("[Subscription] could not flag expiry reminder for subscription %d: %v", sub.ID, err)
			continue
		}
		notified++
	}

	nearQuota, err := m.repo.ListNearQuota(quotaReminderRatio, 0)
	if err != nil {
		return notified, err
	}
	for i := range nearQuota {
		sub := &nearQuota[i]
		if err := m.notifier.NotifyQuota(sub); err != nil {
			log.Warnf("[Subscription] quota reminder failed for subscription %d: %v", sub.ID, err)
			continue
		}
		if err := m.repo.MarkQuotaNotified(sub.ID, time.Now()); err != nil {
			log.Errorf("[Subscription] could not flag quota reminder for subscription %d: %v", sub.ID, err)
			continue
		}
		notified++
	}
	return notified, nil
}

func (m *Manager) getSubscription(id uint) (*models.Subscription, error) {
	sub, err := m.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (m *Manager) planWithPanel(planID uint) (*models.Plan, *models.Panel, error) {
	plan, err := m.plans.GetByID(planID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPlanUnavailable, err)
	}
	panel := plan.Panel
	if panel == nil {
		panel, err = m.panels.GetByID(plan.PanelID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrPlanUnavailable, err)
		}
	}
	return plan, panel, nil
}

func (m *Manager) disableRemote(ctx context.Context, sub *models.Subscription) {
	panel := sub.Panel
	if panel == nil {
		var err error
		panel, err = m.panels.GetByID(sub.PanelID)
		if err != nil {
			log.Warnf("[Subscription] cannot load panel %d to disable %s: %v", sub.PanelID, sub.RemoteUsername, err)
			return
		}
	}
	if err := m.panelAPI.SetAccountStatus(ctx, panel, sub.RemoteUsername, panelapi.AccountStatusDisabled); err != nil {
		log.Warnf("[Subscription] remote disable failed for %s on panel %d: %v", sub.RemoteUsername, panel.ID, err)
	}
}

func (m *Manager) recordReconcile(panelID uint, remoteUsername, reason string, cause error) {
	log.Warnf("[Subscription] remote write failed for %s on panel %d (%s): %v", remoteUsername, panelID, reason, cause)
	if m.reconcile == nil {
		return
	}
	entry := &models.ReconcileEntry{
		PanelID:        panelID,
		RemoteUsername: remoteUsername,
		Reason:         reason,
		Attempts:       1,
		LastError:      cause.Error(),
	}
	if err := m.reconcile.Create(entry); err != nil {
		log.Errorf("[Subscription] could not record reconcile entry for %s: %v", remoteUsername, err)
	}
}

// remoteUsername derives the panel account name for a purchase. It is stable
// across provisioning retries of the same payment.
func remoteUsername(telegramID int64, paymentUUID string) string {
	short := strings.ReplaceAll(paymentUUID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("mz%d_%s", telegramID, short)
}
