package subscription

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/panelapi"
)

// fakeRepo is an in-memory Repository. Payment consumption is tracked the
// same way the SQL guard does: the first claim wins, replays fail.
// beforeConsume runs under the lock right before a consuming write checks the
// claim, so tests can slip a concurrent winner in between.
type fakeRepo struct {
	mu            sync.Mutex
	nextID        uint
	subs          map[uint]*models.Subscription
	consumed      map[uint]bool
	beforeConsume func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[uint]*models.Subscription), consumed: make(map[uint]bool)}
}

func (f *fakeRepo) put(sub *models.Subscription) *models.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.ID == 0 {
		f.nextID++
		sub.ID = f.nextID
	} else if sub.ID > f.nextID {
		f.nextID = sub.ID
	}
	f.subs[sub.ID] = sub
	return sub
}

func (f *fakeRepo) copyOf(sub *models.Subscription) *models.Subscription {
	dup := *sub
	return &dup
}

func (f *fakeRepo) GetByID(id uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return f.copyOf(sub), nil
}

func (f *fakeRepo) GetByPaymentID(paymentID uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.PaymentID == paymentID {
			return f.copyOf(sub), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetByRemote(panelID uint, remoteUsername string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.PanelID == panelID && sub.RemoteUsername == remoteUsername {
			return f.copyOf(sub), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) ListByCustomer(customerID uint) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.CustomerID == customerID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) List(filter ListFilter) ([]models.Subscription, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		out = append(out, *sub)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepo) ListForSync(limit int) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusSuspended {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListReapable(now time.Time, limit int) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.Status != models.SubscriptionStatusExpired && !sub.ExpiresAt.After(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListExpiringBefore(cutoff time.Time, limit int) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.Status == models.SubscriptionStatusActive && !sub.ExpiresAt.After(cutoff) && sub.ExpiryNotifiedAt == nil {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListNearQuota(ratio float64, limit int) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.Status == models.SubscriptionStatusActive && sub.DataLimitGB > 0 &&
			sub.UsedDataGB >= sub.DataLimitGB*ratio && sub.QuotaNotifiedAt == nil {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateConsumingPayment(sub *models.Subscription, paymentID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hook := f.beforeConsume; hook != nil {
		f.beforeConsume = nil
		hook()
	}
	if f.consumed[paymentID] {
		return ErrPaymentConsumed
	}
	f.consumed[paymentID] = true
	f.nextID++
	sub.ID = f.nextID
	dup := *sub
	f.subs[sub.ID] = &dup
	return nil
}

func (f *fakeRepo) RenewConsumingPayment(subID, paymentID uint, addDays int, addDataGB float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumed[paymentID] {
		return ErrPaymentConsumed
	}
	f.consumed[paymentID] = true
	return f.extendLocked(subID, addDays, addDataGB)
}

func (f *fakeRepo) Extend(subID uint, addDays int, addDataGB float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extendLocked(subID, addDays, addDataGB)
}

func (f *fakeRepo) extendLocked(subID uint, addDays int, addDataGB float64) error {
	sub, ok := f.subs[subID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	base := sub.ExpiresAt
	if now := time.Now(); base.Before(now) {
		base = now
	}
	sub.ExpiresAt = base.AddDate(0, 0, addDays)
	sub.DataLimitGB += addDataGB
	sub.ExpiryNotifiedAt = nil
	sub.QuotaNotifiedAt = nil
	sub.Status = sub.CurrentStatus(time.Now())
	return nil
}

func (f *fakeRepo) UpdateUsageIf(id uint, usedGB float64, status string, syncedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok || sub.UsedDataGB > usedGB {
		return false, nil
	}
	sub.UsedDataGB = usedGB
	sub.Status = status
	at := syncedAt
	sub.LastSyncedAt = &at
	return true, nil
}

func (f *fakeRepo) MarkExpiredIf(id uint, fromStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok || sub.Status != fromStatus {
		return false, nil
	}
	sub.Status = models.SubscriptionStatusExpired
	return true, nil
}

func (f *fakeRepo) MarkExpiryNotified(id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[id]; ok {
		t := at
		sub.ExpiryNotifiedAt = &t
	}
	return nil
}

func (f *fakeRepo) MarkQuotaNotified(id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[id]; ok {
		t := at
		sub.QuotaNotifiedAt = &t
	}
	return nil
}

func (f *fakeRepo) Delete(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return nil
}

func (f *fakeRepo) CountLiveByPlan(planID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, sub := range f.subs {
		if sub.PlanID == planID && sub.Status != models.SubscriptionStatusExpired {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CountByPanel(panelID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, sub := range f.subs {
		if sub.PanelID == panelID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CountByStatus(status string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, sub := range f.subs {
		if status == "" || sub.Status == status {
			n++
		}
	}
	return n, nil
}

// fakePanelAPI records remote calls and serves canned accounts.
type fakePanelAPI struct {
	mu          sync.Mutex
	createCalls int
	modifyCalls int
	deleteCalls int
	statusCalls int
	getCalls    int

	failCreate bool
	failModify bool
	failDelete bool
	failGet    bool

	usageGB    map[string]float64
	lastStatus map[string]string
	lastLimit  int64
	lastExpire int64
}

func newFakePanelAPI() *fakePanelAPI {
	return &fakePanelAPI{usageGB: make(map[string]float64), lastStatus: make(map[string]string)}
}

func (f *fakePanelAPI) CreateAccount(ctx context.Context, panel *models.Panel, username string, dataLimitBytes, expireUnix int64) (*panelapi.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate {
		return nil, panelapi.ErrPanelUnreachable
	}
	return &panelapi.Account{
		Username:        username,
		Status:          panelapi.AccountStatusActive,
		DataLimitBytes:  dataLimitBytes,
		ExpireUnix:      expireUnix,
		SubscriptionURL: panel.BaseURL + "/sub/" + username,
		Proxies: map[string]map[string]interface{}{
			"vless": {"id": "cred-" + username},
		},
	}, nil
}

func (f *fakePanelAPI) GetAccount(ctx context.Context, panel *models.Panel, username string) (*panelapi.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet {
		return nil, panelapi.ErrPanelUnreachable
	}
	used := int64(f.usageGB[username] * 1024 * 1024 * 1024)
	return &panelapi.Account{Username: username, UsedTrafficBytes: used}, nil
}

func (f *fakePanelAPI) ModifyAccount(ctx context.Context, panel *models.Panel, username string, dataLimitBytes, expireUnix *int64) (*panelapi.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifyCalls++
	if f.failModify {
		return nil, panelapi.ErrPanelUnreachable
	}
	if dataLimitBytes != nil {
		f.lastLimit = *dataLimitBytes
	}
	if expireUnix != nil {
		f.lastExpire = *expireUnix
	}
	return &panelapi.Account{Username: username}, nil
}

func (f *fakePanelAPI) SetAccountStatus(ctx context.Context, panel *models.Panel, username, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.lastStatus[username] = status
	return nil
}

func (f *fakePanelAPI) DeleteAccount(ctx context.Context, panel *models.Panel, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failDelete {
		return false, panelapi.ErrPanelUnreachable
	}
	return true, nil
}

// fakePaymentStore hands out payment rows by ID.
type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uint]*models.Payment
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[uint]*models.Payment)}
}

func (f *fakePaymentStore) put(p *models.Payment) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.ID] = p
	return p
}

func (f *fakePaymentStore) Get(ctx context.Context, paymentID uint) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %d not found", paymentID)
	}
	dup := *p
	return &dup, nil
}

type fakePlanStore struct{ plans map[uint]*models.Plan }

func (f *fakePlanStore) GetByID(id uint) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

type fakeCustomerStore struct{ customers map[uint]*models.Customer }

func (f *fakeCustomerStore) GetByID(id uint) (*models.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

type fakePanelStore struct{ panels map[uint]*models.Panel }

func (f *fakePanelStore) GetByID(id uint) (*models.Panel, error) {
	p, ok := f.panels[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

type fakeReconcileStore struct {
	mu      sync.Mutex
	entries []*models.ReconcileEntry
}

func (f *fakeReconcileStore) Create(entry *models.ReconcileEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = uint(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	expiry []uint
	quota  []uint
}

func (f *fakeNotifier) NotifyExpiry(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiry = append(f.expiry, sub.ID)
	return nil
}

func (f *fakeNotifier) NotifyQuota(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = append(f.quota, sub.ID)
	return nil
}

type managerFixture struct {
	manager   *Manager
	repo      *fakeRepo
	panelAPI  *fakePanelAPI
	payments  *fakePaymentStore
	reconcile *fakeReconcileStore
	notifier  *fakeNotifier
	plan      *models.Plan
	panel     *models.Panel
	customer  *models.Customer
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	panel := &models.Panel{ID: 1, Name: "fra-1", BaseURL: "https://panel.example.com", ConnectivityStatus: models.PanelStatusConnected}
	plan := &models.Plan{ID: 3, PanelID: panel.ID, Name: "30d-50g", DataLimitGB: 50, DurationDays: 30, Price: 250000, Panel: panel}
	customer := &models.Customer{ID: 7, TelegramID: 12345678, Username: "testbuyer"}

	fx := &managerFixture{
		repo:      newFakeRepo(),
		panelAPI:  newFakePanelAPI(),
		payments:  newFakePaymentStore(),
		reconcile: &fakeReconcileStore{},
		notifier:  &fakeNotifier{},
		plan:      plan,
		panel:     panel,
		customer:  customer,
	}
	fx.manager = NewManager(Deps{
		Repo:      fx.repo,
		Payments:  fx.payments,
		PanelAPI:  fx.panelAPI,
		Plans:     &fakePlanStore{plans: map[uint]*models.Plan{plan.ID: plan}},
		Customers: &fakeCustomerStore{customers: map[uint]*models.Customer{customer.ID: customer}},
		Panels:    &fakePanelStore{panels: map[uint]*models.Panel{panel.ID: panel}},
		Reconcile: fx.reconcile,
		Notifier:  fx.notifier,
	})
	return fx
}

func (fx *managerFixture) settledPurchase(id uint) *models.Payment {
	return fx.payments.put(&models.Payment{
		ID:         id,
		UUID:       fmt.Sprintf("11111111-2222-3333-4444-%012d", id),
		CustomerID: fx.customer.ID,
		PlanID:     fx.plan.ID,
		Amount:     fx.plan.Price,
		Method:     models.PaymentMethodCardToCard,
		Status:     models.PaymentStatusCompleted,
		Purpose:    models.PaymentPurposePurchase,
	})
}

func (fx *managerFixture) settledRenewal(id, subID uint) *models.Payment {
	target := subID
	return fx.payments.put(&models.Payment{
		ID:             id,
		UUID:           fmt.Sprintf("99999999-2222-3333-4444-%012d", id),
		CustomerID:     fx.customer.ID,
		PlanID:         fx.plan.ID,
		SubscriptionID: &target,
		Amount:         fx.plan.Price,
		Method:         models.PaymentMethodHostedGateway,
		Status:         models.PaymentStatusCompleted,
		Purpose:        models.PaymentPurposeRenewal,
	})
}

func (fx *managerFixture) liveSubscription(id uint, expiresIn time.Duration) *models.Subscription {
	return fx.repo.put(&models.Subscription{
		ID:             id,
		CustomerID:     fx.customer.ID,
		PlanID:         fx.plan.ID,
		PanelID:        fx.panel.ID,
		PaymentID:      1000 + id,
		RemoteUsername: fmt.Sprintf("mz%d_%04d", fx.customer.TelegramID, id),
		DataLimitGB:    50,
		UsedDataGB:     10,
		ExpiresAt:      time.Now().Add(expiresIn),
		Status:         models.SubscriptionStatusActive,
		Panel:          fx.panel,
	})
}

func TestProvisionPurchaseCreatesRemoteThenLocal(t *testing.T) {
	fx := newManagerFixture(t)
	payment := fx.settledPurchase(21)

	sub, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, fx.panelAPI.createCalls)
	assert.Equal(t, fx.customer.ID, sub.CustomerID)
	assert.Equal(t, fx.plan.ID, sub.PlanID)
	assert.Equal(t, fx.panel.ID, sub.PanelID)
	assert.Equal(t, payment.ID, sub.PaymentID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, float64(50), sub.DataLimitGB)
	assert.Contains(t, sub.RemoteUsername, "mz12345678_")
	assert.Equal(t, "cred-"+sub.RemoteUsername, sub.RemoteCredential)
	assert.Contains(t, sub.SubscriptionURL, "/sub/"+sub.RemoteUsername)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), sub.ExpiresAt, time.Minute)
}

func TestProvisionRejectsUnsettledPayment(t *testing.T) {
	fx := newManagerFixture(t)
	payment := fx.settledPurchase(22)
	payment.Status = models.PaymentStatusPending
	fx.payments.put(payment)

	_, err := fx.manager.Provision(context.Background(), payment.ID)
	assert.ErrorIs(t, err, ErrPaymentNotSettled)
	assert.Zero(t, fx.panelAPI.createCalls)
}

func TestProvisionReplayReturnsExistingSubscription(t *testing.T) {
	fx := newManagerFixture(t)
	payment := fx.settledPurchase(23)

	first, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)
	second, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fx.panelAPI.createCalls, "replay must not touch the panel again")
}

func TestProvisionLostRaceHandsBackWinner(t *testing.T) {
	fx := newManagerFixture(t)
	payment := fx.settledPurchase(24)

	// A concurrent provisioner commits between this caller's existence check
	// and its own insert; the claim guard turns the insert into a reload.
	var winnerID uint
	fx.repo.beforeConsume = func() {
		fx.repo.consumed[payment.ID] = true
		fx.repo.nextID++
		winnerID = fx.repo.nextID
		fx.repo.subs[winnerID] = &models.Subscription{
			ID:             winnerID,
			CustomerID:     fx.customer.ID,
			PlanID:         fx.plan.ID,
			PanelID:        fx.panel.ID,
			PaymentID:      payment.ID,
			RemoteUsername: "mz12345678_11111111",
			DataLimitGB:    50,
			ExpiresAt:      time.Now().AddDate(0, 0, 30),
			Status:         models.SubscriptionStatusActive,
		}
	}

	sub, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, winnerID, sub.ID)
	assert.Equal(t, 1, fx.panelAPI.createCalls)
}

func TestProvisionRemoteFailureLeavesPaymentRetryable(t *testing.T) {
	fx := newManagerFixture(t)
	payment := fx.settledPurchase(25)
	fx.panelAPI.failCreate = true

	_, err := fx.manager.Provision(context.Background(), payment.ID)
	require.Error(t, err)

	fx.repo.mu.Lock()
	consumed := fx.repo.consumed[payment.ID]
	fx.repo.mu.Unlock()
	assert.False(t, consumed, "a failed remote create must not consume the payment")

	fx.panelAPI.failCreate = false
	sub, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.NotZero(t, sub.ID)
}

func TestProvisionRenewalExtendsAndPushesRemote(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(40, 5*24*time.Hour)
	payment := fx.settledRenewal(41, sub.ID)

	renewed, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)

	// 5 days left + 30 plan days.
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 35), renewed.ExpiresAt, time.Minute)
	assert.Equal(t, float64(100), renewed.DataLimitGB)
	assert.Equal(t, 1, fx.panelAPI.modifyCalls)
	assert.Equal(t, renewed.ExpiresAt.Unix(), fx.panelAPI.lastExpire)
	assert.Equal(t, bytesFromGB(100), fx.panelAPI.lastLimit)

	// Replay keeps the subscription untouched and skips the remote push.
	again, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, renewed.ExpiresAt.Unix(), again.ExpiresAt.Unix())
	assert.Equal(t, 1, fx.panelAPI.modifyCalls)
}

func TestProvisionRenewalFromExpiredExtendsFromNow(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(42, -10*24*time.Hour)
	sub.Status = models.SubscriptionStatusExpired
	fx.repo.put(sub)
	payment := fx.settledRenewal(43, sub.ID)

	renewed, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), renewed.ExpiresAt, time.Minute)
	assert.Equal(t, models.SubscriptionStatusActive, renewed.Status)
}

func TestProvisionRenewalWithoutTarget(t *testing.T) {
	fx := newManagerFixture(t)
	payment := fx.settledRenewal(44, 1)
	payment.SubscriptionID = nil
	fx.payments.put(payment)

	_, err := fx.manager.Provision(context.Background(), payment.ID)
	assert.ErrorIs(t, err, ErrMissingRenewalTarget)
}

func TestRenewalRemotePushFailureLandsInReconcile(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(45, 24*time.Hour)
	payment := fx.settledRenewal(46, sub.ID)
	fx.panelAPI.failModify = true

	renewed, err := fx.manager.Provision(context.Background(), payment.ID)
	require.NoError(t, err, "local renewal holds even when the panel is down")
	assert.Equal(t, float64(100), renewed.DataLimitGB)

	require.Len(t, fx.reconcile.entries, 1)
	assert.Equal(t, ReconcileReasonRenewFailed, fx.reconcile.entries[0].Reason)
	assert.Equal(t, sub.RemoteUsername, fx.reconcile.entries[0].RemoteUsername)
}

func TestRecordUsageSuspendsOnQuotaExhaustion(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(50, 10*24*time.Hour)

	updated, err := fx.manager.RecordUsage(context.Background(), sub.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, updated.Status)
	assert.Zero(t, fx.panelAPI.statusCalls)

	updated, err = fx.manager.RecordUsage(context.Background(), sub.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusSuspended, updated.Status)
	assert.Equal(t, 1, fx.panelAPI.statusCalls)
	assert.Equal(t, panelapi.AccountStatusDisabled, fx.panelAPI.lastStatus[sub.RemoteUsername])
}

func TestRecordUsageRejectsDecrease(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(51, 10*24*time.Hour)

	_, err := fx.manager.RecordUsage(context.Background(), sub.ID, 5)
	assert.ErrorIs(t, err, ErrUsageDecrease)

	fresh, err := fx.manager.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(10), fresh.UsedDataGB)
}

func TestSyncUsageSkipsDecreasesAndFailures(t *testing.T) {
	fx := newManagerFixture(t)
	a := fx.liveSubscription(60, 10*24*time.Hour)
	b := fx.liveSubscription(61, 10*24*time.Hour)
	fx.panelAPI.usageGB[a.RemoteUsername] = 22.5
	fx.panelAPI.usageGB[b.RemoteUsername] = 2 // below the stored 10, remote counter reset

	synced, err := fx.manager.SyncUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	freshA, _ := fx.manager.Get(context.Background(), a.ID)
	assert.InDelta(t, 22.5, freshA.UsedDataGB, 0.001)
	freshB, _ := fx.manager.Get(context.Background(), b.ID)
	assert.Equal(t, float64(10), freshB.UsedDataGB)
}

func TestReapExpiredDisablesPreviouslyActive(t *testing.T) {
	fx := newManagerFixture(t)
	active := fx.liveSubscription(70, -time.Hour)
	suspended := fx.liveSubscription(71, -time.Hour)
	suspended.Status = models.SubscriptionStatusSuspended
	fx.repo.put(suspended)
	fx.liveSubscription(72, 24*time.Hour) // still live, untouched

	reaped, err := fx.manager.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reaped)

	freshActive, _ := fx.manager.Get(context.Background(), active.ID)
	assert.Equal(t, models.SubscriptionStatusExpired, freshActive.Status)
	freshSuspended, _ := fx.manager.Get(context.Background(), suspended.ID)
	assert.Equal(t, models.SubscriptionStatusExpired, freshSuspended.Status)

	// Only the active one warranted a remote disable.
	assert.Equal(t, 1, fx.panelAPI.statusCalls)
	assert.Equal(t, panelapi.AccountStatusDisabled, fx.panelAPI.lastStatus[active.RemoteUsername])
}

func TestReapExpiredCountsOnlyWonRows(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(73, -time.Hour)

	// Another sweeper expired the row between listing and marking.
	fx.repo.mu.Lock()
	fx.repo.subs[sub.ID].Status = models.SubscriptionStatusExpired
	fx.repo.mu.Unlock()

	reaped, err := fx.manager.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reaped)
	assert.Zero(t, fx.panelAPI.statusCalls)
}

func TestTerminateDeletesRemoteThenLocal(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(80, 24*time.Hour)

	require.NoError(t, fx.manager.Terminate(context.Background(), sub.ID))
	assert.Equal(t, 1, fx.panelAPI.deleteCalls)
	assert.Empty(t, fx.reconcile.entries)

	_, err := fx.manager.Get(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestTerminateRecordsReconcileOnRemoteFailure(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(81, 24*time.Hour)
	fx.panelAPI.failDelete = true

	require.NoError(t, fx.manager.Terminate(context.Background(), sub.ID))

	_, err := fx.manager.Get(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound, "local row goes even when the panel is down")

	require.Len(t, fx.reconcile.entries, 1)
	entry := fx.reconcile.entries[0]
	assert.Equal(t, ReconcileReasonDeleteFailed, entry.Reason)
	assert.Equal(t, sub.RemoteUsername, entry.RemoteUsername)
	assert.Equal(t, fx.panel.ID, entry.PanelID)
	assert.Equal(t, 1, entry.Attempts)
}

func TestSendRemindersAreOneShot(t *testing.T) {
	fx := newManagerFixture(t)
	expiring := fx.liveSubscription(90, 24*time.Hour)
	nearQuota := fx.liveSubscription(91, 20*24*time.Hour)
	nearQuota.UsedDataGB = 47 // 94% of 50
	fx.repo.put(nearQuota)
	fx.liveSubscription(92, 20*24*time.Hour) // neither

	sent, err := fx.manager.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []uint{expiring.ID}, fx.notifier.expiry)
	assert.Equal(t, []uint{nearQuota.ID}, fx.notifier.quota)

	sent, err = fx.manager.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent, "reminders fire once per subscription")
}

func TestSendRemindersRearmAfterRenewal(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(93, 24*time.Hour)

	sent, err := fx.manager.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	_, err = fx.manager.Renew(context.Background(), sub.ID, 1, 0)
	require.NoError(t, err)

	// Still within the reminder window after +1 day, flag was re-armed.
	sent, err = fx.manager.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestSendRemindersWithoutNotifier(t *testing.T) {
	fx := newManagerFixture(t)
	fx.manager.SetNotifier(nil)
	fx.liveSubscription(94, time.Hour)

	sent, err := fx.manager.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRenewRejectsEmptyGrant(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(95, 24*time.Hour)

	_, err := fx.manager.Renew(context.Background(), sub.ID, 0, 0)
	assert.Error(t, err)
}

func TestHasLivePlanSubscriptions(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(96, 24*time.Hour)

	live, err := fx.manager.HasLivePlanSubscriptions(context.Background(), fx.plan.ID)
	require.NoError(t, err)
	assert.True(t, live)

	fx.repo.mu.Lock()
	fx.repo.subs[sub.ID].Status = models.SubscriptionStatusExpired
	fx.repo.mu.Unlock()

	live, err = fx.manager.HasLivePlanSubscriptions(context.Background(), fx.plan.ID)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestRemoteUsernameIsStablePerPayment(t *testing.T) {
	a := remoteUsername(12345678, "f8c3de3d-1fea-4d7c-a8b0-29f63c4c3454")
	b := remoteUsername(12345678, "f8c3de3d-1fea-4d7c-a8b0-29f63c4c3454")
	c := remoteUsername(12345678, "0a1b2c3d-1fea-4d7c-a8b0-29f63c4c3454")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "mz12345678_f8c3de3d", a)
}

func TestPushRemoteStateReplaysLocalValues(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(41, 20*24*time.Hour)

	err := fx.manager.PushRemoteState(context.Background(), sub.PanelID, sub.RemoteUsername)
	require.NoError(t, err)

	assert.Equal(t, 1, fx.panelAPI.modifyCalls)
	assert.Equal(t, bytesFromGB(sub.DataLimitGB), fx.panelAPI.lastLimit)
	assert.Equal(t, sub.ExpiresAt.Unix(), fx.panelAPI.lastExpire)
	assert.Equal(t, panelapi.AccountStatusActive, fx.panelAPI.lastStatus[sub.RemoteUsername])
}

func TestPushRemoteStateDisablesSuspendedAccount(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(42, 20*24*time.Hour)
	fx.repo.mu.Lock()
	fx.repo.subs[sub.ID].Status = models.SubscriptionStatusSuspended
	fx.repo.mu.Unlock()

	err := fx.manager.PushRemoteState(context.Background(), sub.PanelID, sub.RemoteUsername)
	require.NoError(t, err)

	assert.Equal(t, panelapi.AccountStatusDisabled, fx.panelAPI.lastStatus[sub.RemoteUsername])
}

func TestPushRemoteStateForGoneSubscription(t *testing.T) {
	fx := newManagerFixture(t)

	err := fx.manager.PushRemoteState(context.Background(), 1, "mz1_gone")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.Equal(t, 0, fx.panelAPI.modifyCalls)
}

func TestPushRemoteStateSurfacesRemoteFailure(t *testing.T) {
	fx := newManagerFixture(t)
	sub := fx.liveSubscription(43, 20*24*time.Hour)
	fx.panelAPI.failModify = true

	err := fx.manager.PushRemoteState(context.Background(), sub.PanelID, sub.RemoteUsername)
	assert.Error(t, err)
}
