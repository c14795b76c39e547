package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
	"github.com/mohsenbt/marzsell/internal/pkg/cache"
	"github.com/mohsenbt/marzsell/internal/pkg/env"
	"github.com/mohsenbt/marzsell/internal/pkg/mail"
	"github.com/mohsenbt/marzsell/internal/pkg/metrics/counter"
	"github.com/mohsenbt/marzsell/internal/pkg/subscription"
)

// maxReconcileAttempts caps automatic retries per dead-letter row. Rows at the
// cap wait for manual resolution over the admin API.
const maxReconcileAttempts = 10

const reconcileBatch = 50

// SubscriptionJobs is the slice of the subscription manager the scheduler drives.
type SubscriptionJobs interface {
	ReapExpired(ctx context.Context) (int, error)
	SyncUsage(ctx context.Context) (int, error)
	SendReminders(ctx context.Context) (int, error)
	PushRemoteState(ctx context.Context, panelID uint, remoteUsername string) error
}

// PaymentJobs is the slice of the payment ledger the scheduler drives.
type PaymentJobs interface {
	SweepStalePending(ctx context.Context, ttl time.Duration) (int64, error)
}

// PanelOps covers the direct panel calls scheduled jobs make: the periodic
// connectivity probe and retried account deletes.
type PanelOps interface {
	TestConnectivity(ctx context.Context, panel *models.Panel) bool
	DeleteAccount(ctx context.Context, panel *models.Panel, username string) (bool, error)
}

// Deps carries everything the background jobs touch.
type Deps struct {
	Subs      SubscriptionJobs
	Ledger    PaymentJobs
	Panels    PanelOps
	PanelRepo repository.PanelRepository
	Reconcile repository.ReconcileRepository
}

// Manager runs the periodic maintenance jobs: subscription reaping and
// reminders, usage sync, panel probing, stale payment sweeping, counter
// flushing and reconcile retries.
type Manager struct {
	deps Deps

	reapTicker      *time.Ticker
	probeTicker     *time.Ticker
	usageTicker     *time.Ticker
	sweepTicker     *time.Ticker
	counterTicker   *time.Ticker
	reconcileTicker *time.Ticker

	pendingTTL time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New builds a stopped manager. Intervals come from SCHEDULE_* environment
// variables with production defaults.
func New(deps Deps) *Manager {
	return &Manager{
		deps:       deps,
		pendingTTL: time.Duration(env.GetEnvInt("PENDING_PAYMENT_TTL_MINUTES", 45)) * time.Minute,
	}
}

// Start starts all background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background tasks")

	m.reapTicker = time.NewTicker(minutes("SCHEDULE_REAP_MINUTES", 60))
	m.probeTicker = time.NewTicker(minutes("SCHEDULE_PROBE_MINUTES", 240))
	m.usageTicker = time.NewTicker(minutes("SCHEDULE_USAGE_SYNC_MINUTES", 15))
	m.sweepTicker = time.NewTicker(minutes("SCHEDULE_PENDING_SWEEP_MINUTES", 10))
	m.counterTicker = time.NewTicker(minutes("SCHEDULE_COUNTER_FLUSH_MINUTES", 5))
	m.reconcileTicker = time.NewTicker(minutes("SCHEDULE_RECONCILE_MINUTES", 30))

	m.wg.Add(6)
	go m.worker("reap", m.reapTicker, m.stopCh, m.runReap)
	go m.worker("probe", m.probeTicker, m.stopCh, m.runProbe)
	go m.worker("usagesync", m.usageTicker, m.stopCh, m.runUsageSync)
	go m.worker("pendingsweep", m.sweepTicker, m.stopCh, m.runPendingSweep)
	go m.worker("counterflush", m.counterTicker, m.stopCh, m.runCounterFlush)
	go m.worker("reconcile", m.reconcileTicker, m.stopCh, m.runReconcile)

	log.Info("[Scheduler] Started successfully")
}

// Stop stops all background tasks and waits for in-flight runs to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler] Stopping background tasks...")

	for _, t := range []*time.Ticker{
		m.reapTicker, m.probeTicker, m.usageTicker,
		m.sweepTicker, m.counterTicker, m.reconcileTicker,
	} {
		if t != nil {
			t.Stop()
		}
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()
	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(name string, ticker *time.Ticker, stopCh chan struct{}, job func(ctx context.Context)) {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started %s worker", name)
	for {
		select {
		case <-stopCh:
			log.Infof("[Scheduler] %s worker stopping", name)
			return
		case <-ticker.C:
			m.withLock(name, job)
		}
	}
}

// withLock runs a job once under a redis SETNX lock, so overlapping ticks and
// a second process never double-run the same sweep.
func (m *Manager) withLock(name string, job func(ctx context.Context)) {
	key := "scheduler:lock:" + name
	ok, err := cache.AcquireLock(key, 10*time.Minute)
	if err != nil {
		log.Warnf("[Scheduler] lock %s unavailable: %v", name, err)
		return
	}
	if !ok {
		log.Debugf("[Scheduler] %s is running elsewhere, skipping", name)
		return
	}
	defer cache.ReleaseLock(key)
	job(context.Background())
}

func (m *Manager) runReap(ctx context.Context) {
	reaped, err := m.deps.Subs.ReapExpired(ctx)
	if err != nil {
		log.Errorf("[Scheduler] reap failed: %v", err)
	} else if reaped > 0 {
		log.Infof("[Scheduler] reaped %d expired subscriptions", reaped)
	}

	reminded, err := m.deps.Subs.SendReminders(ctx)
	if err != nil {
		log.Errorf("[Scheduler] reminders failed: %v", err)
	} else if reminded > 0 {
		log.Infof("[Scheduler] sent %d reminders", reminded)
	}
}

// runProbe checks every panel and records the result. A panel dropping from
// connected to error raises an operator alert.
func (m *Manager) runProbe(ctx context.Context) {
	panels, err := m.deps.PanelRepo.GetAll()
	if err != nil {
		log.Errorf("[Scheduler] panel listing failed: %v", err)
		return
	}

	now := time.Now()
	for i := range panels {
		panel := &panels[i]
		reachable := m.deps.Panels.TestConnectivity(ctx, panel)

		status := models.PanelStatusConnected
		if !reachable {
			status = models.PanelStatusError
		}
		if err := m.deps.PanelRepo.UpdateConnectivity(panel.ID, status, now); err != nil {
			log.Errorf("[Scheduler] recording probe for panel %d failed: %v", panel.ID, err)
			continue
		}

		if !reachable && panel.ConnectivityStatus == models.PanelStatusConnected {
			log.Warnf("[PanelHealth] panel %s (%d) became unreachable", panel.Name, panel.ID)
			_ = mail.SendOpsAlert(
				"Panel unreachable: "+panel.Name,
				"The connectivity probe for panel <b>"+panel.Name+"</b> ("+panel.BaseURL+") failed. Provisioning against it will fail until it recovers.",
			)
		}
	}
}

func (m *Manager) runUsageSync(ctx context.Context) {
	synced, err := m.deps.Subs.SyncUsage(ctx)
	if err != nil {
		log.Errorf("[Scheduler] usage sync failed: %v", err)
		return
	}
	if synced > 0 {
		log.Infof("[Scheduler] synced usage for %d subscriptions", synced)
	}
}

func (m *Manager) runPendingSweep(ctx context.Context) {
	swept, err := m.deps.Ledger.SweepStalePending(ctx, m.pendingTTL)
	if err != nil {
		log.Errorf("[Scheduler] pending sweep failed: %v", err)
		return
	}
	if swept > 0 {
		log.Infof("[Scheduler] cancelled %d stale pending payments", swept)
	}
}

func (m *Manager) runCounterFlush(ctx context.Context) {
	if err := counter.FlushAll(); err != nil {
		log.Errorf("[Scheduler] counter flush failed: %v", err)
	}
}

// runReconcile retries dead-letter rows: remote deletes that failed after the
// local row was removed and renewal pushes that never reached the panel.
func (m *Manager) runReconcile(ctx context.Context) {
	entries, err := m.deps.Reconcile.ListUnresolved(reconcileBatch)
	if err != nil {
		log.Errorf("[Scheduler] reconcile listing failed: %v", err)
		return
	}

	for i := range entries {
		m.retryReconcileEntry(ctx, &entries[i])
	}
}

func (m *Manager) retryReconcileEntry(ctx context.Context, entry *models.ReconcileEntry) {
	if entry.Attempts >= maxReconcileAttempts {
		return
	}

	panel, err := m.deps.PanelRepo.GetByID(entry.PanelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The panel itself is gone; there is no remote state left to fix.
			log.Warnf("[Scheduler] resolving reconcile entry %d: panel %d no longer exists", entry.ID, entry.PanelID)
			m.resolveEntry(entry)
			return
		}
		log.Errorf("[Scheduler] loading panel %d for reconcile entry %d: %v", entry.PanelID, entry.ID, err)
		return
	}

	switch entry.Reason {
	case subscription.ReconcileReasonDeleteFailed:
		_, err = m.deps.Panels.DeleteAccount(ctx, panel, entry.RemoteUsername)
	case subscription.ReconcileReasonRenewFailed:
		err = m.deps.Subs.PushRemoteState(ctx, entry.PanelID, entry.RemoteUsername)
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			// The subscription was terminated in the meantime; nothing left
			// to push.
			err = nil
		}
	default:
		log.Warnf("[Scheduler] reconcile entry %d has unknown reason %q, leaving for manual resolution", entry.ID, entry.Reason)
		return
	}

	if err != nil {
		if rerr := m.deps.Reconcile.RecordAttempt(entry.ID, err.Error()); rerr != nil {
			log.Errorf("[Scheduler] recording reconcile attempt for entry %d: %v", entry.ID, rerr)
			return
		}
		log.Warnf("[Scheduler] reconcile retry %d/%d for entry %d (%s on panel %d) failed: %v",
			entry.Attempts+1, maxReconcileAttempts, entry.ID, entry.RemoteUsername, entry.PanelID, err)
		if entry.Attempts+1 >= maxReconcileAttempts {
			_ = mail.SendOpsAlert(
				"Reconcile retries exhausted",
				"Remote cleanup for account <b>"+entry.RemoteUsername+"</b> on panel "+panel.Name+
					" keeps failing ("+entry.Reason+"). Resolve it manually from the admin API.",
			)
		}
		return
	}

	m.resolveEntry(entry)
	log.Infof("[Scheduler] reconciled entry %d (%s, %s)", entry.ID, entry.RemoteUsername, entry.Reason)
}

func (m *Manager) resolveEntry(entry *models.ReconcileEntry) {
	if err := m.deps.Reconcile.MarkResolved(entry.ID); err != nil {
		log.Errorf("[Scheduler] marking reconcile entry %d resolved: %v", entry.ID, err)
	}
}

func minutes(envKey string, fallback int) time.Duration {
	return time.Duration(env.GetEnvInt(envKey, fallback)) * time.Minute
}
