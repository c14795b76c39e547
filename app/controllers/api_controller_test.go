package controllers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
	"github.com/mohsenbt/marzsell/internal/pkg/opcontext"
	"github.com/mohsenbt/marzsell/internal/pkg/subscription"
)

type fakeLedger struct {
	payment *models.Payment
	err     error

	approveOperator string
	approveRef      string
	rejectReason    string
	refundReason    string
	verifyAuthority string
	verifyStatus    string
}

func (f *fakeLedger) List(context.Context, ledger.ListFilter) ([]models.Payment, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	if f.payment == nil {
		return nil, 0, nil
	}
	return []models.Payment{*f.payment}, 1, nil
}

func (f *fakeLedger) Get(context.Context, uint) (*models.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func (f *fakeLedger) Approve(_ context.Context, _ uint, operator, ref string) (*models.Payment, error) {
	f.approveOperator = operator
	f.approveRef = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func (f *fakeLedger) Reject(_ context.Context, _ uint, _, reason string) (*models.Payment, error) {
	f.rejectReason = reason
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func (f *fakeLedger) Refund(_ context.Context, _ uint, reason string) (*models.Payment, error) {
	f.refundReason = reason
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func (f *fakeLedger) VerifyHostedCharge(_ context.Context, authority, status string) (*models.Payment, error) {
	f.verifyAuthority = authority
	f.verifyStatus = status
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func (f *fakeLedger) Totals(context.Context) (*ledger.Totals, error) {
	return &ledger.Totals{CompletedCount: 3, CompletedAmount: 750000, RefundedAmount: 250000}, nil
}

func (f *fakeLedger) TotalsByMethod(context.Context) ([]ledger.MethodTotals, error) {
	return []ledger.MethodTotals{{Method: models.PaymentMethodCardToCard, Count: 3, Amount: 750000}}, nil
}

func (f *fakeLedger) DailySales(_ context.Context, days int) ([]ledger.DailyTotal, error) {
	return []ledger.DailyTotal{{Day: "2026-02-01", Count: 1, Amount: 250000}}, nil
}

type fakeSubs struct {
	sub        *models.Subscription
	err        error
	renewDays  int
	renewGB    float64
	terminated []uint
	synced     int
	reaped     int
}

func (f *fakeSubs) List(context.Context, subscription.ListFilter) ([]models.Subscription, int64, error) {
	if f.sub == nil {
		return nil, 0, f.err
	}
	return []models.Subscription{*f.sub}, 1, f.err
}

func (f *fakeSubs) Get(context.Context, uint) (*models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func (f *fakeSubs) Terminate(_ context.Context, id uint) error {
	f.terminated = append(f.terminated, id)
	return f.err
}

func (f *fakeSubs) Renew(_ context.Context, _ uint, addDays int, addGB float64) (*models.Subscription, error) {
	f.renewDays = addDays
	f.renewGB = addGB
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func (f *fakeSubs) SyncUsage(context.Context) (int, error)   { return f.synced, f.err }
func (f *fakeSubs) ReapExpired(context.Context) (int, error) { return f.reaped, f.err }

func (f *fakeSubs) HasLivePlanSubscriptions(context.Context, uint) (bool, error) {
	return false, f.err
}

func (f *fakeSubs) CountByPanel(context.Context, uint) (int64, error) { return 0, f.err }

func (f *fakeSubs) PushRemoteState(context.Context, uint, string) error { return f.err }

type fakeSigner struct {
	url string
	err error
	key string
	ttl time.Duration
}

func (f *fakeSigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.key = key
	f.ttl = ttl
	return f.url, f.err
}

type fakeFulfiller struct {
	chatID    int64
	paymentID uint
	calls     int
	err       error
}

func (f *fakeFulfiller) FulfillPaid(chatID int64, paymentID uint) error {
	f.calls++
	f.chatID = chatID
	f.paymentID = paymentID
	return f.err
}

func initFakes(t *testing.T, l *fakeLedger, s *fakeSubs, signer *fakeSigner, ff *fakeFulfiller) {
	t.Helper()
	var rs ReceiptSigner
	if signer != nil {
		rs = signer
	}
	var fl Fulfiller
	if ff != nil {
		fl = ff
	}
	InitAPI(l, s, nil, rs, fl)
	t.Cleanup(func() { InitAPI(nil, nil, nil, nil, nil) })
}

func seedAdminOperator(c *fiber.Ctx) error {
	opcontext.Set(c, opcontext.OperatorContext{
		OperatorID:      1,
		Name:            "boss",
		Role:            models.ROLE_ADMIN,
		IsAuthenticated: true,
		IsAdmin:         true,
	})
	return c.Next()
}

func settledPayment() *models.Payment {
	return &models.Payment{
		ID:         9,
		UUID:       "5f1c4b6e-8f1f-4f4f-9a1a-2a7c9d1e0b42",
		CustomerID: 4,
		PlanID:     2,
		Amount:     250000,
		Method:     models.PaymentMethodHostedGateway,
		Status:     models.PaymentStatusCompleted,
		Customer:   &models.Customer{ID: 4, TelegramID: 777},
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlePaymentCallbackMissingAuthority(t *testing.T) {
	initFakes(t, &fakeLedger{}, &fakeSubs{}, nil, nil)
	app := fiber.New()
	app.Get("/payment/callback", HandlePaymentCallback)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payment/callback", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Missing payment reference")
}

func TestHandlePaymentCallbackSettledFulfills(t *testing.T) {
	l := &fakeLedger{payment: settledPayment()}
	ff := &fakeFulfiller{}
	initFakes(t, l, &fakeSubs{}, nil, ff)

	app := fiber.New()
	app.Get("/payment/callback", HandlePaymentCallback)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payment/callback?Authority=A0042&Status=OK", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Payment received")
	assert.Equal(t, "A0042", l.verifyAuthority)
	assert.Equal(t, "OK", l.verifyStatus)
	assert.Equal(t, 1, ff.calls)
	assert.Equal(t, int64(777), ff.chatID)
	assert.Equal(t, uint(9), ff.paymentID)
}

func TestHandlePaymentCallbackReplayDoesNotRefulfill(t *testing.T) {
	p := settledPayment()
	now := time.Now()
	p.FulfilledAt = &now
	ff := &fakeFulfiller{}
	initFakes(t, &fakeLedger{payment: p}, &fakeSubs{}, nil, ff)

	app := fiber.New()
	app.Get("/payment/callback", HandlePaymentCallback)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payment/callback?Authority=A0042&Status=OK", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Payment received")
	assert.Zero(t, ff.calls)
}

func TestHandlePaymentCallbackUnknownAuthority(t *testing.T) {
	initFakes(t, &fakeLedger{err: ledger.ErrPaymentNotFound}, &fakeSubs{}, nil, nil)
	app := fiber.New()
	app.Get("/payment/callback", HandlePaymentCallback)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payment/callback?Authority=NOPE&Status=OK", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Unknown payment")
}

func TestHandlePaymentCallbackGatewayUnreachable(t *testing.T) {
	initFakes(t, &fakeLedger{err: ledger.ErrGatewayUnavailable}, &fakeSubs{}, nil, nil)
	app := fiber.New()
	app.Get("/payment/callback", HandlePaymentCallback)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payment/callback?Authority=A0042&Status=OK", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Verification unavailable")
}

func TestHandlePaymentCallbackAbandonedCharge(t *testing.T) {
	p := settledPayment()
	p.Status = models.PaymentStatusFailed
	ff := &fakeFulfiller{}
	initFakes(t, &fakeLedger{payment: p}, &fakeSubs{}, nil, ff)

	app := fiber.New()
	app.Get("/payment/callback", HandlePaymentCallback)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payment/callback?Authority=A0042&Status=NOK", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Payment not completed")
	assert.Zero(t, ff.calls)
}

func TestHandleApprovePaymentFulfillsAndRecordsOperator(t *testing.T) {
	p := settledPayment()
	p.Method = models.PaymentMethodCardToCard
	l := &fakeLedger{payment: p}
	ff := &fakeFulfiller{}
	initFakes(t, l, &fakeSubs{}, nil, ff)

	app := fiber.New()
	app.Post("/payments/:id/approve", seedAdminOperator, HandleApprovePayment)

	req := httptest.NewRequest(http.MethodPost, "/payments/9/approve", bytes.NewBufferString(`{"transaction_reference":"SHEBA-1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "boss", l.approveOperator)
	assert.Equal(t, "SHEBA-1", l.approveRef)
	assert.Equal(t, 1, ff.calls)
	assert.Equal(t, int64(777), ff.chatID)
}

func TestHandleApprovePaymentConflict(t *testing.T) {
	initFakes(t, &fakeLedger{err: ledger.ErrInvalidTransition}, &fakeSubs{}, nil, &fakeFulfiller{})

	app := fiber.New()
	app.Post("/payments/:id/approve", seedAdminOperator, HandleApprovePayment)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/payments/9/approve", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestHandleRejectPaymentDefaultsReason(t *testing.T) {
	p := settledPayment()
	p.Status = models.PaymentStatusFailed
	l := &fakeLedger{payment: p}
	initFakes(t, l, &fakeSubs{}, nil, nil)

	app := fiber.New()
	app.Post("/payments/:id/reject", seedAdminOperator, HandleRejectPayment)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/payments/9/reject", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected by operator", l.rejectReason)
}

func TestHandleGetPaymentInvalidID(t *testing.T) {
	initFakes(t, &fakeLedger{}, &fakeSubs{}, nil, nil)
	app := fiber.New()
	app.Get("/payments/:id", HandleGetPayment)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payments/zero", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandlePaymentAggregates(t *testing.T) {
	initFakes(t, &fakeLedger{}, &fakeSubs{}, nil, nil)
	app := fiber.New()
	app.Get("/payments/aggregates", HandlePaymentAggregates)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payments/aggregates?days=7", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `"net_revenue":500000`)
	assert.Contains(t, body, `"card_to_card"`)
	assert.Contains(t, body, `"days":7`)
}

func TestHandleGetPaymentReceipt(t *testing.T) {
	t.Run("no receipt archived", func(t *testing.T) {
		p := settledPayment()
		signer := &fakeSigner{url: "https://cdn.example.com/signed"}
		initFakes(t, &fakeLedger{payment: p}, &fakeSubs{}, signer, nil)

		app := fiber.New()
		app.Get("/payments/:id/receipt", HandleGetPaymentReceipt)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payments/9/receipt", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("archive disabled", func(t *testing.T) {
		p := settledPayment()
		p.ReceiptKey = "receipts/" + p.UUID + ".jpg"
		initFakes(t, &fakeLedger{payment: p}, &fakeSubs{}, nil, nil)

		app := fiber.New()
		app.Get("/payments/:id/receipt", HandleGetPaymentReceipt)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payments/9/receipt", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("signed link", func(t *testing.T) {
		p := settledPayment()
		p.ReceiptKey = "receipts/" + p.UUID + ".jpg"
		signer := &fakeSigner{url: "https://cdn.example.com/signed"}
		initFakes(t, &fakeLedger{payment: p}, &fakeSubs{}, signer, nil)

		app := fiber.New()
		app.Get("/payments/:id/receipt", HandleGetPaymentReceipt)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payments/9/receipt", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "https://cdn.example.com/signed")
		assert.Equal(t, p.ReceiptKey, signer.key)
		assert.Equal(t, receiptLinkTTL, signer.ttl)
	})
}

func TestHandleRenewSubscriptionRejectsEmptyGrant(t *testing.T) {
	s := &fakeSubs{}
	initFakes(t, &fakeLedger{}, s, nil, nil)

	app := fiber.New()
	app.Post("/subscriptions/:id/renew", seedAdminOperator, HandleRenewSubscription)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/3/renew", bytes.NewBufferString(`{"add_days":0,"add_data_gb":0}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, s.renewDays)
}

func TestHandleRenewSubscriptionPassesGrant(t *testing.T) {
	s := &fakeSubs{sub: &models.Subscription{ID: 3, Status: models.SubscriptionStatusActive}}
	initFakes(t, &fakeLedger{}, s, nil, nil)

	app := fiber.New()
	app.Post("/subscriptions/:id/renew", seedAdminOperator, HandleRenewSubscription)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/3/renew", bytes.NewBufferString(`{"add_days":30,"add_data_gb":10.5}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 30, s.renewDays)
	assert.Equal(t, 10.5, s.renewGB)
}

func TestHandleTerminateSubscription(t *testing.T) {
	s := &fakeSubs{}
	initFakes(t, &fakeLedger{}, s, nil, nil)

	app := fiber.New()
	app.Delete("/subscriptions/:id", seedAdminOperator, HandleTerminateSubscription)

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/subscriptions/12", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []uint{12}, s.terminated)
}

func TestHandleTerminateSubscriptionNotFound(t *testing.T) {
	s := &fakeSubs{err: subscription.ErrSubscriptionNotFound}
	initFakes(t, &fakeLedger{}, s, nil, nil)

	app := fiber.New()
	app.Delete("/subscriptions/:id", seedAdminOperator, HandleTerminateSubscription)

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/subscriptions/12", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleSyncAndReap(t *testing.T) {
	s := &fakeSubs{synced: 5, reaped: 2}
	initFakes(t, &fakeLedger{}, s, nil, nil)

	app := fiber.New()
	app.Post("/subscriptions/sync", HandleSyncSubscriptions)
	app.Post("/subscriptions/reap", HandleReapSubscriptions)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/subscriptions/sync", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"updated":5`)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/subscriptions/reap", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"reaped":2`)
}

func TestPaginationBounds(t *testing.T) {
	app := fiber.New()
	var gotOffset, gotLimit int
	app.Get("/", func(c *fiber.Ctx) error {
		gotOffset, gotLimit = pagination(c)
		return c.SendStatus(fiber.StatusOK)
	})

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/?offset=-5&limit=9999", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 0, gotOffset)
	assert.Equal(t, maxPageLimit, gotLimit)

	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 0, gotOffset)
	assert.Equal(t, defaultPageLimit, gotLimit)
}
